// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package stream

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/storage"
)

func newTestStream(t *testing.T) (*storage.DbHandle, *Storage) {
	db, err := storage.NewDb(filepath.Join(t.TempDir(), "sql.db"))
	require.Nil(t, err)
	t.Cleanup(func() { require.Nil(t, db.Close()) })
	s, err := NewStorage(db, 2)
	require.Nil(t, err)
	return db, s
}

func appendJob(t *testing.T, db *storage.DbHandle, id string, status storage.JobStatus) {
	job := storage.Job{Id: id, Pk: "dev#app", Status: status}
	err := db.WithTx(func(tx *sql.Tx) error {
		return Append(tx, KindJob, job.Pk, string(status), job)
	})
	require.Nil(t, err)
}

func TestStreamFilter(t *testing.T) {
	db, s := newTestStream(t)

	var seen []string
	s.Subscribe("terminal", KindJob, storage.TerminalJobStatuses, func(ctx context.Context, c Change) error {
		seen = append(seen, c.(JobChange).Job.Id)
		return nil
	})
	var all int
	s.Subscribe("all", KindJob, nil, func(ctx context.Context, c Change) error {
		all++
		return nil
	})
	var nrf []string
	s.Subscribe("nrfcloud", KindNRFCloudJob, nil, func(ctx context.Context, c Change) error {
		nrf = append(nrf, c.(NRFCloudJobChange).Job.JobId)
		return nil
	})

	appendJob(t, db, "1", storage.JobStatusNew)
	appendJob(t, db, "1", storage.JobStatusInProgress)
	appendJob(t, db, "1", storage.JobStatusSucceeded)
	appendJob(t, db, "2", storage.JobStatusNew)
	appendJob(t, db, "2", storage.JobStatusFailed)
	err := db.WithTx(func(tx *sql.Tx) error {
		return Append(tx, KindNRFCloudJob, "nrf-1", "COMPLETED", storage.NRFCloudJob{JobId: "nrf-1"})
	})
	require.Nil(t, err)

	require.Nil(t, s.Poll(context.Background()))
	require.Equal(t, []string{"1", "2"}, seen)
	require.Equal(t, 5, all)
	require.Equal(t, []string{"nrf-1"}, nrf)

	// Cursors are persisted, nothing is delivered twice.
	require.Nil(t, s.Poll(context.Background()))
	require.Equal(t, 5, all)

	s2, err := NewStorage(db, 10)
	require.Nil(t, err)
	var again int
	s2.Subscribe("all", KindJob, nil, func(ctx context.Context, c Change) error {
		again++
		return nil
	})
	require.Nil(t, s2.Poll(context.Background()))
	require.Equal(t, 0, again)
}

func TestStreamRetry(t *testing.T) {
	db, s := newTestStream(t)

	calls := map[string]int{}
	s.Subscribe("flaky", KindJob, nil, func(ctx context.Context, c Change) error {
		id := c.(JobChange).Job.Id
		calls[id]++
		if id == "bad" || (id == "slow" && calls[id] < 3) {
			return errors.New("boom")
		}
		return nil
	})

	appendJob(t, db, "slow", storage.JobStatusNew)
	appendJob(t, db, "bad", storage.JobStatusNew)
	appendJob(t, db, "good", storage.JobStatusNew)

	for range 3 {
		require.Nil(t, s.Poll(context.Background()))
	}
	require.Equal(t, 3, calls["slow"])
	require.Equal(t, 0, calls["good"])

	for range s.maxAttempts {
		require.Nil(t, s.Poll(context.Background()))
	}
	require.Equal(t, s.maxAttempts, calls["bad"])
	require.Equal(t, 1, calls["good"])
}

func TestStreamGc(t *testing.T) {
	db, s := newTestStream(t)

	s.Subscribe("all", KindJob, nil, func(ctx context.Context, c Change) error { return nil })
	appendJob(t, db, "1", storage.JobStatusNew)
	appendJob(t, db, "2", storage.JobStatusNew)

	count := func() (n int) {
		require.Nil(t, db.WithTx(func(tx *sql.Tx) error {
			return tx.QueryRow("SELECT COUNT(*) FROM changes").Scan(&n)
		}))
		return
	}

	// Nothing is consumed yet.
	require.Nil(t, s.Gc(time.Now().Add(time.Minute)))
	require.Equal(t, 2, count())

	require.Nil(t, s.Poll(context.Background()))
	require.Nil(t, s.Gc(time.Now().Add(-time.Minute)))
	require.Equal(t, 2, count())
	require.Nil(t, s.Gc(time.Now().Add(time.Minute)))
	require.Equal(t, 0, count())
}
