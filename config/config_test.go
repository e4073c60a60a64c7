// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.Nil(t, err)
	require.Equal(t, Default(), *cfg)
	require.Zero(t, cfg.Gateway.Port)
	require.Equal(t, 30*24*time.Hour, cfg.Flow.Timeout.Duration)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
log_level = "debug"

[api]
port = 9090

[gateway]
port = 8443

[flow]
timeout = "10d"
job_completion_timeout = "36h"
create_job_attempts = 5

[poller]
fresh_interval = "2m"

[kafka]
brokers = ["kafka-0:9092", "kafka-1:9092"]
`
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.Nil(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, uint16(9090), cfg.Api.Port)
	require.Equal(t, uint16(8443), cfg.Gateway.Port)
	require.Equal(t, 10*24*time.Hour, cfg.Flow.Timeout.Duration)
	require.Equal(t, 36*time.Hour, cfg.Flow.JobCompletionTimeout.Duration)
	require.Equal(t, 7*24*time.Hour, cfg.Flow.UpdateAppliedTimeout.Duration)
	require.Equal(t, 5, cfg.Flow.CreateJobAttempts)
	require.Equal(t, 2*time.Minute, cfg.Poller.FreshInterval.Duration)
	require.Equal(t, time.Hour, cfg.Poller.StaleInterval.Duration)
	require.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "fota-events", cfg.Kafka.Topic)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"unknown":  "[flow]\nunknown_key = 1\n",
		"duration": "[flow]\ntimeout = \"forever\"\n",
		"invalid":  "[flow]\ncreate_job_attempts = 0\n",
		"kafka":    "[kafka]\nbrokers = [\"k:9092\"]\ntopic = \"\"\n",
	} {
		path := filepath.Join(dir, name+".toml")
		require.Nil(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := Load(path)
		require.NotNil(t, err, name)
	}
}
