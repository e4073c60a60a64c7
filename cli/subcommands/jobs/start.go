// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-fota/cli/api"
)

var startCmd = &cobra.Command{
	Use:   "start <device-id>",
	Short: "Start a multi-bundle FOTA job",
	Long: `Start a multi-bundle FOTA job on a device.

The upgrade path maps the version a device reports, or a semver range, to the
bundle to apply next. It is given with repeated --step flags:

  fotacli jobs start dev-1 --account nordic \
    --step 1.0.0=APP*1e29dfa3*v1.1.0 --step 1.1.0=APP*8a3c1f00*v1.2.0

or as a JSON object with --path-file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		steps, _ := cmd.Flags().GetStringArray("step")
		pathFile, _ := cmd.Flags().GetString("path-file")

		path, err := upgradePath(steps, pathFile)
		if err != nil {
			return err
		}
		job, err := api.CtxGetApi(cmd.Context()).Device(args[0]).StartFota(account, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started job %s (%s) for version %s\n", job.Id, job.Target, job.ReportedVersion)
		return nil
	},
}

func init() {
	JobsCmd.AddCommand(startCmd)
	startCmd.Flags().String("account", "", "nRF Cloud account of the device")
	startCmd.Flags().StringArray("step", nil, "Upgrade path step as <version>=<bundle-id>")
	startCmd.Flags().String("path-file", "", "JSON file holding the upgrade path")
	cobra.CheckErr(startCmd.MarkFlagRequired("account"))
	startCmd.MarkFlagsMutuallyExclusive("step", "path-file")
	startCmd.MarkFlagsOneRequired("step", "path-file")
}

func upgradePath(steps []string, pathFile string) (api.UpgradePath, error) {
	path := api.UpgradePath{}
	if pathFile != "" {
		data, err := os.ReadFile(pathFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read upgrade path: %w", err)
		}
		if err = json.Unmarshal(data, &path); err != nil {
			return nil, fmt.Errorf("invalid upgrade path in %s: %w", pathFile, err)
		}
		return path, nil
	}
	for _, step := range steps {
		// A range may hold "=" itself, bundle ids never do.
		i := strings.LastIndex(step, "=")
		if i < 0 {
			return nil, fmt.Errorf("invalid step %q: expected <version>=<bundle-id>", step)
		}
		version, bundleId := step[:i], step[i+1:]
		if version == "" || bundleId == "" {
			return nil, fmt.Errorf("invalid step %q: expected <version>=<bundle-id>", step)
		}
		if _, dup := path[version]; dup {
			return nil, fmt.Errorf("version %s appears twice in the upgrade path", version)
		}
		path[version] = bundleId
	}
	return path, nil
}
