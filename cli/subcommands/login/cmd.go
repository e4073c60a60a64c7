// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package login

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/foundriesio/dg-fota/cli/api"
	"github.com/foundriesio/dg-fota/cli/config"
)

var LoginCmd = &cobra.Command{
	Use:   "login <context-name> <server-url>",
	Short: "Configure a server context",
	Long: `Configure a context pointing to a dg-fota server.

The server is contacted once to check the URL, then the context is saved to
~/.config/fotacli.yaml.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		setDefault, _ := cmd.Flags().GetBool("set-default")
		ctx := config.Context{URL: args[1], Token: token}

		var doc struct {
			Info struct {
				Title   string `json:"title"`
				Version string `json:"version"`
			} `json:"info"`
		}
		if err := api.NewClient(ctx).Get("/v1/swagger.json", &doc); err != nil {
			return fmt.Errorf("unable to reach %s: %w", ctx.URL, err)
		}
		return saveContext(cmd.OutOrStdout(), args[0], ctx, setDefault)
	},
}

func init() {
	LoginCmd.Flags().String("token", "", "Bearer token for servers behind an authenticating proxy")
	LoginCmd.Flags().Bool("set-default", true, "Set this context as the default")
}

func saveContext(out io.Writer, name string, ctx config.Context, setDefault bool) error {
	cfg, err := config.LoadConfig()
	if errors.Is(err, config.ErrNoConfig) {
		cfg = &config.Config{}
	} else if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]config.Context)
	}
	cfg.Contexts[name] = ctx
	if setDefault || cfg.ActiveContext == "" {
		cfg.ActiveContext = name
	}
	if err := config.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(out, "Successfully configured context '%s'\n", name)
	fmt.Fprintf(out, "  Server URL: %s\n", ctx.URL)
	if cfg.ActiveContext == name {
		fmt.Fprintln(out, "  Set as default context")
	}
	return nil
}
