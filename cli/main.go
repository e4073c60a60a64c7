// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-fota/cli/api"
	"github.com/foundriesio/dg-fota/cli/config"
	"github.com/foundriesio/dg-fota/cli/subcommands/accounts"
	"github.com/foundriesio/dg-fota/cli/subcommands/bundles"
	"github.com/foundriesio/dg-fota/cli/subcommands/jobs"
	"github.com/foundriesio/dg-fota/cli/subcommands/login"
	"github.com/foundriesio/dg-fota/cli/subcommands/shadow"
)

var rootCmd = &cobra.Command{
	Use:   "fotacli",
	Short: "A command line interface to the dg-fota server",
	Long: `fotacli starts and follows multi-bundle FOTA jobs, and inspects the
device shadows and firmware bundles known to a dg-fota server.

Configuration is stored in $HOME/.config/fotacli.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == login.LoginCmd {
			return nil
		}
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		contextName, err := cmd.Flags().GetString("context")
		if err != nil {
			return fmt.Errorf("failed to get context flag: %w", err)
		}

		appctx, err := cfg.GetContext(contextName)
		if err != nil {
			return fmt.Errorf("failed to get current context: %w", err)
		}

		client := api.NewClient(*appctx)

		ctx := context.WithValue(cmd.Context(), api.ContextKey, client)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("context", "c", "", "Specify the context to use from the configuration file")
	rootCmd.AddCommand(jobs.JobsCmd, bundles.BundlesCmd, shadow.ShadowCmd, accounts.AccountsCmd, login.LoginCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}
