// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package accounts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foundriesio/dg-fota/cli/api"
)

var AccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage nRF Cloud accounts",
}

var setCmd = &cobra.Command{
	Use:   "set <account>",
	Short: "Configure the nRF Cloud API of an account",
	Long: `Configure the nRF Cloud API endpoint and key of an account.

The API key is read from NRFCLOUD_API_KEY, or prompted for when unset.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := cmd.Flags().GetString("endpoint")
		key := os.Getenv("NRFCLOUD_API_KEY")
		if key == "" {
			var err error
			if key, err = promptApiKey(args[0]); err != nil {
				return err
			}
		}
		if err := api.CtxGetApi(cmd.Context()).SetAccount(args[0], endpoint, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configured account '%s'\n", args[0])
		return nil
	},
}

func init() {
	AccountsCmd.AddCommand(setCmd)
	setCmd.Flags().String("endpoint", "", "nRF Cloud API endpoint (server default when unset)")
}

func promptApiKey(account string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("NRFCLOUD_API_KEY is not set and stdin is not a terminal")
	}
	fmt.Fprintf(os.Stderr, "nRF Cloud API key for %s: ", account)
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	if k := strings.TrimSpace(string(key)); k != "" {
		return k, nil
	}
	return "", errors.New("an API key is required")
}
