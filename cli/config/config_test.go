// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Setenv("FOTACLI_CONFIG", filepath.Join(t.TempDir(), "sub", "fotacli.yaml"))

	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrNoConfig)

	cfg := &Config{
		ActiveContext: "prod",
		Contexts: map[string]Context{
			"prod":  {URL: "https://fota.example.com"},
			"local": {URL: "http://localhost:8080", Token: "abc"},
			"bad":   {},
		},
	}
	require.Nil(t, SaveConfig(cfg))

	cfg, err = LoadConfig()
	require.Nil(t, err)

	ctx, err := cfg.GetContext("")
	require.Nil(t, err)
	require.Equal(t, "https://fota.example.com", ctx.URL)

	ctx, err = cfg.GetContext("local")
	require.Nil(t, err)
	require.Equal(t, "abc", ctx.Token)

	_, err = cfg.GetContext("bad")
	require.ErrorContains(t, err, "has no URL configured")
	_, err = cfg.GetContext("missing")
	require.ErrorContains(t, err, "not found")

	cfg.ActiveContext = ""
	_, err = cfg.GetContext("")
	require.ErrorContains(t, err, "no default context set")
}
