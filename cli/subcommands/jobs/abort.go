// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package jobs

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-fota/cli/api"
)

var abortCmd = &cobra.Command{
	Use:   "abort <device-id> <job-id>",
	Short: "Abort a running FOTA job",
	Long:  `Abort a running FOTA job. Its open nRF Cloud job is cancelled and the job fails with "The job was cancelled."`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.CtxGetApi(cmd.Context()).Device(args[0]).AbortJob(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Aborting job %s\n", args[1])
		return nil
	},
}

func init() {
	JobsCmd.AddCommand(abortCmd)
}
