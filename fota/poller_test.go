// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/nrfcloud"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/stream"
)

func trackJob(t *testing.T, h *harness, jobId string, createdAt time.Time) storage.NRFCloudJob {
	job := storage.NRFCloudJob{
		JobId:         jobId,
		ParentJobId:   "parent",
		Account:       "nordic",
		DeviceId:      "dev-1",
		Status:        storage.NRFCloudJobQueued,
		CreatedAt:     storage.NewTimestamp(createdAt),
		LastUpdatedAt: storage.NewTimestamp(createdAt),
		NextUpdateAt:  storage.NewTimestamp(createdAt),
	}
	require.Nil(t, h.jobs.NRFCloudJobCreate(&job))
	return job
}

func TestPollerSchedule(t *testing.T) {
	h := newHarness(t, testFlowConfig())
	ctx := context.Background()
	now := time.Now()

	fresh := trackJob(t, h, "fresh", now.Add(-10*time.Minute))
	stale := trackJob(t, h, "stale", now.Add(-2*time.Hour))
	h.cloud.jobs["fresh"] = &nrfcloud.Job{JobId: "fresh", Status: "IN_PROGRESS"}
	h.cloud.jobs["stale"] = &nrfcloud.Job{JobId: "stale", Status: "QUEUED"}

	claimed, err := h.poller.Poll(ctx, now)
	require.Nil(t, err)
	require.Equal(t, 2, claimed)

	got, err := h.jobs.NRFCloudJobGet(fresh.JobId)
	require.Nil(t, err)
	require.Equal(t, storage.NRFCloudJobInProgress, got.Status)
	require.Equal(t, storage.NewTimestamp(now.Add(5*time.Minute)), got.NextUpdateAt)
	got, err = h.jobs.NRFCloudJobGet(stale.JobId)
	require.Nil(t, err)
	require.Equal(t, storage.NRFCloudJobQueued, got.Status)
	require.Equal(t, storage.NewTimestamp(now.Add(time.Hour)), got.NextUpdateAt)

	// Claimed jobs are not due again before their next check.
	claimed, err = h.poller.Poll(ctx, now.Add(time.Minute))
	require.Nil(t, err)
	require.Equal(t, 0, claimed)
	claimed, err = h.poller.Poll(ctx, now.Add(6*time.Minute))
	require.Nil(t, err)
	require.Equal(t, 1, claimed)
}

func TestPollerClaimsOnce(t *testing.T) {
	h := newHarness(t, testFlowConfig())
	now := time.Now()
	job := trackJob(t, h, "nrf-1", now.Add(-time.Minute))

	ok, err := h.jobs.NRFCloudJobClaim(job.JobId, job.NextUpdateAt, storage.NewTimestamp(now.Add(time.Minute)))
	require.Nil(t, err)
	require.True(t, ok)
	ok, err = h.jobs.NRFCloudJobClaim(job.JobId, job.NextUpdateAt, storage.NewTimestamp(now.Add(time.Minute)))
	require.Nil(t, err)
	require.False(t, ok)
}

func TestUpdater(t *testing.T) {
	h := newHarness(t, testFlowConfig())
	ctx := context.Background()
	now := time.Now()
	u := h.poller.updater

	// Not found while young: skipped.
	young := trackJob(t, h, "young", now.Add(-time.Hour))
	require.Nil(t, u.Update(ctx, young, now))
	got, err := h.jobs.NRFCloudJobGet("young")
	require.Nil(t, err)
	require.Equal(t, storage.NRFCloudJobQueued, got.Status)

	// Not found once old enough: failed.
	old := trackJob(t, h, "old", now.Add(-25*time.Hour))
	require.Nil(t, u.Update(ctx, old, now))
	got, err = h.jobs.NRFCloudJobGet("old")
	require.Nil(t, err)
	require.Equal(t, storage.NRFCloudJobFailed, got.Status)
	require.Equal(t, "The job was not found on nRF Cloud. It may have been deleted.", got.StatusDetail)

	// Fetch errors are skipped.
	h.cloud.getErr = errors.New("connection refused")
	require.Nil(t, u.Update(ctx, young, now))
	h.cloud.getErr = nil

	h.cloud.jobs["young"] = &nrfcloud.Job{
		JobId:         "young",
		Status:        "DOWNLOADING",
		StatusDetail:  "50%",
		Firmware:      json.RawMessage(`{"bundleId":"APP*1e29dfa3*v1.1.0"}`),
		Target:        json.RawMessage(`{"deviceIds":["dev-1"]}`),
		LastUpdatedAt: "2024-05-01T10:00:00.000Z",
	}
	require.Nil(t, u.Update(ctx, young, now))
	got, err = h.jobs.NRFCloudJobGet("young")
	require.Nil(t, err)
	require.Equal(t, storage.NRFCloudJobDownloading, got.Status)
	require.Equal(t, "50%", got.StatusDetail)
	require.JSONEq(t, `{"bundleId":"APP*1e29dfa3*v1.1.0"}`, got.Firmware)
	require.JSONEq(t, `{"deviceIds":["dev-1"]}`, got.Target)
	require.Equal(t, "2024-05-01T10:00:00.000000Z", got.LastUpdatedAt.String())
}

func TestNotifierDeduplicates(t *testing.T) {
	h := newHarness(t, testFlowConfig())
	n := NewNotifier(h.sink)
	job := storage.Job{Id: "job-1", DeviceId: "dev-1", Target: storage.TargetApp, Status: storage.JobStatusFailed}

	ctx := context.Background()
	require.Nil(t, n.handle(ctx, stream.JobChange{Job: job}))
	require.Nil(t, n.handle(ctx, stream.JobChange{Job: job}))
	require.Len(t, h.sink.events, 1)

	job.Status = storage.JobStatusSucceeded
	require.Nil(t, n.handle(ctx, stream.JobChange{Job: job}))
	require.Len(t, h.sink.events, 2)
	require.Equal(t, "job-1", h.sink.events[1].Data.(JobExecution).JobId)

	require.NotNil(t, n.handle(ctx, stream.NRFCloudJobChange{}))
}
