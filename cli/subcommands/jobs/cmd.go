// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package jobs

import (
	"github.com/spf13/cobra"
)

var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage FOTA jobs",
	Long:  `Commands for starting, listing and aborting the multi-bundle FOTA jobs of a device`,
}
