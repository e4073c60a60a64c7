// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package subcommands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableWriter(t *testing.T) {
	table := NewTableWriter([]string{"ID", "STATUS", "BUNDLES"})
	table.AddRow("job-1", "SUCCEEDED", "1.0.0 -> a\n1.1.0 -> b")
	table.AddRow("job-22", "FAILED")

	var out bytes.Buffer
	table.Render(&out)
	require.Equal(t, ""+
		"ID      STATUS     BUNDLES\n"+
		"job-1   SUCCEEDED  1.0.0 -> a\n"+
		"                   1.1.0 -> b\n"+
		"job-22  FAILED\n", out.String())
}
