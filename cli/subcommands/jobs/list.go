// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package jobs

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-fota/cli/api"
	"github.com/foundriesio/dg-fota/cli/subcommands"
)

var listCmd = &cobra.Command{
	Use:   "list <device-id>",
	Short: "List the FOTA jobs of a device",
	Long:  `List the FOTA jobs of a device, newest first`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jobs, err := api.CtxGetApi(cmd.Context()).Device(args[0]).Jobs(limit)
		if err != nil {
			return err
		}
		renderJobs(cmd.OutOrStdout(), jobs)
		return nil
	},
}

func init() {
	JobsCmd.AddCommand(listCmd)
	listCmd.Flags().IntP("limit", "n", 10, "Maximum number of jobs to show")
}

func renderJobs(out io.Writer, jobs []api.Job) {
	table := subcommands.NewTableWriter([]string{"ID", "TARGET", "STATUS", "VERSION", "UPDATED", "BUNDLES", "DETAIL"})
	for _, job := range jobs {
		table.AddRow(job.Id, job.Target, job.Status, job.ReportedVersion, job.Timestamp, usedBundles(job), job.StatusDetail)
	}
	table.Render(out)
}

// usedBundles lists the applied bundles, one per line, in version order.
func usedBundles(job api.Job) string {
	if len(job.UsedVersions) == 0 {
		return "-"
	}
	lines := make([]string, 0, len(job.UsedVersions))
	for _, version := range slices.Sorted(maps.Keys(job.UsedVersions)) {
		lines = append(lines, fmt.Sprintf("%s -> %s", version, job.UsedVersions[version]))
	}
	return strings.Join(lines, "\n")
}
