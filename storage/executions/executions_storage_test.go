// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package executions

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/storage"
)

func newTestStorage(t *testing.T) *Storage {
	db, err := storage.NewDb(filepath.Join(t.TempDir(), "sql.db"))
	require.Nil(t, err)
	t.Cleanup(func() { require.Nil(t, db.Close()) })
	s, err := NewStorage(db)
	require.Nil(t, err)
	return s
}

func newExecution(id string, deadline time.Time) storage.Execution {
	now := storage.Now()
	return storage.Execution{
		Id:        id,
		Flow:      "flow",
		State:     "First",
		Status:    storage.ExecutionRunning,
		Data:      []byte(`{}`),
		StartedAt: now,
		Deadline:  storage.NewTimestamp(deadline),
		UpdatedAt: now,
	}
}

func TestExecutions(t *testing.T) {
	s := newTestStorage(t)

	exec := newExecution("e1", time.Now().Add(time.Hour))
	require.Nil(t, s.Create(exec))
	require.True(t, errors.Is(s.Create(exec), ErrExecutionExists))
	require.Nil(t, s.Create(newExecution("e2", time.Now().Add(-time.Minute))))

	got, err := s.Get("e1")
	require.Nil(t, err)
	require.Equal(t, exec, *got)
	got, err = s.Get("e9")
	require.Nil(t, err)
	require.Nil(t, got)

	running, err := s.ListRunning()
	require.Nil(t, err)
	require.Len(t, running, 2)

	expired, err := s.ListExpired(storage.Now())
	require.Nil(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "e2", expired[0].Id)

	exec.State = "Second"
	exec.Step = 1
	exec.Data = []byte(`{"a":1}`)
	require.Nil(t, s.Save(exec))
	got, err = s.Get("e1")
	require.Nil(t, err)
	require.Equal(t, "Second", got.State)
	require.Equal(t, 1, got.Step)
	require.Equal(t, `{"a":1}`, string(got.Data))

	exec.Status = storage.ExecutionSucceeded
	require.Nil(t, s.Save(exec))
	err = s.Save(exec)
	require.True(t, errors.Is(err, ErrExecutionNotRunning))

	running, err = s.ListRunning()
	require.Nil(t, err)
	require.Len(t, running, 1)
}

func TestWaits(t *testing.T) {
	s := newTestStorage(t)

	exec := newExecution("e1", time.Now().Add(time.Hour))
	require.Nil(t, s.Create(exec))

	past := storage.NewTimestamp(time.Now().Add(-time.Minute))
	future := storage.NewTimestamp(time.Now().Add(time.Hour))
	for _, w := range []storage.ExecutionWait{
		{Token: "t1", ExecutionId: "e1", Step: 1, Name: "B", Status: storage.WaitPending, Deadline: future},
		{Token: "t2", ExecutionId: "e1", Step: 1, Name: "A", Status: storage.WaitPending, Deadline: past},
		{Token: "t3", ExecutionId: "e1", Step: 0, Name: "A", Status: storage.WaitPending, Deadline: future},
	} {
		require.Nil(t, s.WaitCreate(w))
	}

	waits, err := s.WaitList("e1", 1)
	require.Nil(t, err)
	require.Len(t, waits, 2)
	require.Equal(t, "A", waits[0].Name)
	require.Equal(t, "B", waits[1].Name)

	expired, err := s.WaitListExpired(storage.Now(), 10)
	require.Nil(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "t2", expired[0].Token)

	wait, err := s.WaitResolve("t1", storage.WaitSucceeded, []byte(`{"v":"1.1.0"}`), "", "")
	require.Nil(t, err)
	require.Equal(t, storage.WaitSucceeded, wait.Status)
	require.Equal(t, `{"v":"1.1.0"}`, string(wait.Output))

	_, err = s.WaitResolve("t1", storage.WaitFailed, nil, "Error", "late")
	require.True(t, errors.Is(err, ErrWaitNotPending))
	wait, err = s.WaitGet("t1")
	require.Nil(t, err)
	require.Equal(t, storage.WaitSucceeded, wait.Status)

	_, err = s.WaitResolve("t9", storage.WaitSucceeded, nil, "", "")
	require.True(t, errors.Is(err, ErrWaitNotFound))

	wait, err = s.WaitResolve("t2", storage.WaitFailed, nil, "States.Timeout", "Timed out waiting for A.")
	require.Nil(t, err)
	require.Equal(t, "States.Timeout", wait.Error)
	require.Nil(t, wait.Output)

	// Terminal executions cancel what is still pending.
	exec.Status = storage.ExecutionFailed
	require.Nil(t, s.Save(exec))
	wait, err = s.WaitGet("t3")
	require.Nil(t, err)
	require.Equal(t, storage.WaitCancelled, wait.Status)
	wait, err = s.WaitGet("t1")
	require.Nil(t, err)
	require.Equal(t, storage.WaitSucceeded, wait.Status)
}

func TestFailPending(t *testing.T) {
	s := newTestStorage(t)

	running := newExecution("e1", time.Now().Add(time.Hour))
	require.Nil(t, s.Create(running))
	failed := newExecution("e2", time.Now().Add(time.Hour))
	require.Nil(t, s.Create(failed))

	failed.Status = storage.ExecutionFailed
	failed.FailPending = true
	require.Nil(t, s.Save(failed))

	execs, err := s.ListFailPending(10)
	require.Nil(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, "e2", execs[0].Id)
	require.True(t, execs[0].FailPending)

	require.Nil(t, s.FailHandled("e2"))
	execs, err = s.ListFailPending(10)
	require.Nil(t, err)
	require.Empty(t, execs)

	exec, err := s.Get("e2")
	require.Nil(t, err)
	require.False(t, exec.FailPending)
	require.Equal(t, storage.ExecutionFailed, exec.Status)
}
