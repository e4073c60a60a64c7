// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package jobs

import (
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/storage"
)

func newTestStorage(t *testing.T) (*storage.DbHandle, *Storage) {
	db, err := storage.NewDb(filepath.Join(t.TempDir(), "sql.db"))
	require.Nil(t, err)
	t.Cleanup(func() { require.Nil(t, db.Close()) })
	s, err := NewStorage(db, time.Hour)
	require.Nil(t, err)
	return db, s
}

func newJob(deviceId string) *storage.Job {
	return &storage.Job{
		Id:              uuid.Must(uuid.NewV7()).String(),
		DeviceId:        deviceId,
		Target:          storage.TargetApp,
		Account:         "nordic",
		Status:          storage.JobStatusNew,
		StatusDetail:    "The job has been created",
		ReportedVersion: "1.0.0",
		UpgradePath:     storage.UpgradePath{"1.0.0": "APP*1e29dfa3*v1.1.0"},
	}
}

func countChanges(t *testing.T, db *storage.DbHandle, kind string) (count int) {
	err := db.WithTx(func(tx *sql.Tx) error {
		return tx.QueryRow("SELECT COUNT(*) FROM changes WHERE kind = ?", kind).Scan(&count)
	})
	require.Nil(t, err)
	return
}

func TestJobCreate(t *testing.T) {
	db, s := newTestStorage(t)

	job := newJob("dev-1")
	require.Nil(t, s.JobCreate(job))
	require.Equal(t, "dev-1#app", job.Pk)
	require.NotNil(t, job.UsedVersions)
	require.Equal(t, 1, countChanges(t, db, "job"))

	got, err := s.JobGetByKey("dev-1#app")
	require.Nil(t, err)
	require.Equal(t, *job, *got)

	got, err = s.JobGetById(job.Id)
	require.Nil(t, err)
	require.Equal(t, job.Id, got.Id)

	err = s.JobCreate(newJob("dev-1"))
	require.True(t, errors.Is(err, ErrJobExists))

	other := newJob("dev-1")
	other.Target = storage.TargetModem
	require.Nil(t, s.JobCreate(other))

	bad := newJob("dev-2")
	bad.Status = storage.JobStatusInProgress
	require.NotNil(t, s.JobCreate(bad))

	got, err = s.JobGetByKey("dev-3#app")
	require.Nil(t, err)
	require.Nil(t, got)
	got, err = s.JobGetById("missing")
	require.Nil(t, err)
	require.Nil(t, got)
}

func TestJobCreateConcurrent(t *testing.T) {
	_, s := newTestStorage(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		exists  int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.JobCreate(newJob("dev-1"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.Is(err, ErrJobExists) {
				exists++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
	require.Equal(t, 7, exists)
}

func TestJobUpdate(t *testing.T) {
	db, s := newTestStorage(t)

	job := newJob("dev-1")
	require.Nil(t, s.JobCreate(job))

	_, err := s.JobUpdate(storage.JobUpdate{Status: storage.JobStatusNew}, *job)
	require.Equal(t, ErrStatusNew, err)

	updated, err := s.JobUpdate(storage.JobUpdate{
		Status:       storage.JobStatusInProgress,
		StatusDetail: "Started job for version 1.0.0 with bundle APP*1e29dfa3*v1.1.0.",
		UsedVersions: storage.UsedVersions{"1.0.0": "APP*1e29dfa3*v1.1.0"},
	}, *job)
	require.Nil(t, err)
	require.Equal(t, storage.JobStatusInProgress, updated.Status)
	require.Equal(t, "1.0.0", updated.ReportedVersion)
	require.True(t, updated.Timestamp > job.Timestamp)

	// A stale image no longer matches the stored timestamp.
	_, err = s.JobUpdate(storage.JobUpdate{Status: storage.JobStatusInProgress}, *job)
	require.True(t, errors.Is(err, ErrConditionFailed))

	updated, err = s.JobUpdate(storage.JobUpdate{
		Status:          storage.JobStatusInProgress,
		ReportedVersion: "1.1.0",
		UsedVersions:    storage.UsedVersions{"1.1.0": "APP*2b3c*v1.2.0"},
	}, *updated)
	require.Nil(t, err)
	require.Equal(t, storage.UsedVersions{
		"1.0.0": "APP*1e29dfa3*v1.1.0",
		"1.1.0": "APP*2b3c*v1.2.0",
	}, updated.UsedVersions)

	stored, err := s.JobGetByKey(job.Pk)
	require.Nil(t, err)
	require.Equal(t, *updated, *stored)

	// Terminal updates ignore the timestamp and archive the job.
	done, err := s.JobUpdate(storage.JobUpdate{
		Status:       storage.JobStatusSucceeded,
		StatusDetail: "No more bundles to apply for 1.2.0. Job completed.",
	}, *job)
	require.Nil(t, err)
	require.Equal(t, storage.JobStatusSucceeded, done.Status)
	require.Equal(t, "1.1.0", done.ReportedVersion)
	require.Len(t, done.UsedVersions, 2)
	require.Contains(t, done.Pk, "dev-1#app#SUCCEEDED#")

	stored, err = s.JobGetByKey(job.Pk)
	require.Nil(t, err)
	require.Nil(t, stored)

	archived, err := s.JobGetByKey(done.Pk)
	require.Nil(t, err)
	require.NotNil(t, archived)
	require.Equal(t, job.Id, archived.Id)
	require.Equal(t, done.Pk, archived.Pk)
	require.Equal(t, storage.JobStatusSucceeded, archived.Status)

	stored, err = s.JobGetById(job.Id)
	require.Nil(t, err)
	require.Equal(t, storage.JobStatusSucceeded, stored.Status)
	require.Equal(t, "", stored.UpdateAppliedToken)

	_, err = s.JobUpdate(storage.JobUpdate{Status: storage.JobStatusFailed}, *job)
	require.True(t, errors.Is(err, ErrJobNotFound))

	require.Equal(t, 4, countChanges(t, db, "job"))

	// The slot is free again.
	require.Nil(t, s.JobCreate(newJob("dev-1")))
}

func TestJobListByDevice(t *testing.T) {
	_, s := newTestStorage(t)

	first := newJob("dev-1")
	require.Nil(t, s.JobCreate(first))
	_, err := s.JobUpdate(storage.JobUpdate{Status: storage.JobStatusFailed, StatusDetail: "boom"}, *first)
	require.Nil(t, err)

	second := newJob("dev-1")
	require.Nil(t, s.JobCreate(second))
	require.Nil(t, s.JobCreate(newJob("dev-2")))

	jobs, err := s.JobListByDevice("dev-1", 10)
	require.Nil(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, second.Id, jobs[0].Id)
	require.Equal(t, first.Id, jobs[1].Id)
	require.Equal(t, storage.JobStatusFailed, jobs[1].Status)

	jobs, err = s.JobListByDevice("dev-1", 1)
	require.Nil(t, err)
	require.Len(t, jobs, 1)

	jobs, err = s.JobListByDevice("dev-9", 10)
	require.Nil(t, err)
	require.Len(t, jobs, 0)
}

func TestJobUpdateAppliedToken(t *testing.T) {
	_, s := newTestStorage(t)

	job := newJob("dev-1")
	require.Nil(t, s.JobCreate(job))
	require.Nil(t, s.JobSetUpdateAppliedToken(job.Pk, "token-1"))

	stored, err := s.JobGetByKey(job.Pk)
	require.Nil(t, err)
	require.Equal(t, "token-1", stored.UpdateAppliedToken)
	// Storing a token does not invalidate the caller's image.
	require.Equal(t, job.Timestamp, stored.Timestamp)

	err = s.JobSetUpdateAppliedToken("dev-9#app", "token")
	require.True(t, errors.Is(err, ErrJobNotFound))
}

func TestJobGc(t *testing.T) {
	_, s := newTestStorage(t)

	job := newJob("dev-1")
	require.Nil(t, s.JobCreate(job))
	_, err := s.JobUpdate(storage.JobUpdate{Status: storage.JobStatusSucceeded}, *job)
	require.Nil(t, err)

	s.runGc(time.Now())
	stored, err := s.JobGetById(job.Id)
	require.Nil(t, err)
	require.NotNil(t, stored)

	s.runGc(time.Now().Add(2 * time.Hour))
	stored, err = s.JobGetById(job.Id)
	require.Nil(t, err)
	require.Nil(t, stored)
}
