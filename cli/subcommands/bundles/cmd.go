// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package bundles

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-fota/cli/api"
	"github.com/foundriesio/dg-fota/cli/subcommands"
)

var BundlesCmd = &cobra.Command{
	Use:   "bundles",
	Short: "Inspect firmware bundles",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the firmware bundles of an nRF Cloud account",
	Long:  `List the firmware bundles of an nRF Cloud account, most recently modified first`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		bundles, err := api.CtxGetApi(cmd.Context()).Bundles(account)
		if err != nil {
			return err
		}
		table := subcommands.NewTableWriter([]string{"BUNDLE ID", "TYPE", "VERSION", "LAST MODIFIED", "NAME"})
		for _, b := range bundles {
			table.AddRow(b.BundleId, b.Type, b.Version, b.LastModified, strings.TrimSpace(b.Name))
		}
		table.Render(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	BundlesCmd.AddCommand(listCmd)
	listCmd.Flags().String("account", "", "nRF Cloud account")
	cobra.CheckErr(listCmd.MarkFlagRequired("account"))
}
