// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/storage"
)

const (
	// End completes an execution successfully.
	End = "$end"
	// Suspend parks an execution until the waits opened by its current state
	// are resolved. The state is then executed again.
	Suspend = "$suspend"
)

const (
	ErrorTaskFailed = "States.TaskFailed"
	ErrorTimeout    = "States.Timeout"
	ErrorAborted    = "States.Aborted"
)

type (
	// State is one step of a flow. Execute returns the name of the next
	// state, End or Suspend.
	State interface {
		Name() string
		Execute(ctx context.Context, exec *Execution) (string, error)
	}

	// FailureHandler is called when an execution ends in any status but
	// SUCCEEDED. exec.Error() and exec.Cause() describe the failure. A
	// returned error leaves the failure pending and Sweep calls the handler
	// again, so it must be idempotent.
	FailureHandler func(ctx context.Context, exec *Execution) error

	Definition struct {
		Name    string
		StartAt string
		States  []State
		Timeout time.Duration
		OnFail  FailureHandler

		index map[string]State
	}

	// Failure is an error carrying a failure code. States return it to fail
	// the execution with a code other than ErrorTaskFailed.
	Failure struct {
		Code  string
		Cause string
	}
)

func (f Failure) Error() string {
	return f.Cause
}

func (d *Definition) init() error {
	if d.Name == "" {
		return errors.New("a flow needs a name")
	}
	d.index = make(map[string]State, len(d.States))
	for _, s := range d.States {
		name := s.Name()
		if name == End || name == Suspend {
			return fmt.Errorf("flow %s: reserved state name %s", d.Name, name)
		} else if _, ok := d.index[name]; ok {
			return fmt.Errorf("flow %s: duplicate state %s", d.Name, name)
		}
		d.index[name] = s
	}
	if _, ok := d.index[d.StartAt]; !ok {
		return fmt.Errorf("flow %s: unknown start state %s", d.Name, d.StartAt)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("flow %s: a timeout is required", d.Name)
	}
	return nil
}

// Execution is the handle a state gets on the running execution.
type Execution struct {
	engine *Engine
	rec    storage.Execution
}

func (e *Execution) Id() string {
	return e.rec.Id
}

func (e *Execution) State() string {
	return e.rec.State
}

func (e *Execution) Status() storage.ExecutionStatus {
	return e.rec.Status
}

func (e *Execution) Error() string {
	return e.rec.Error
}

func (e *Execution) Cause() string {
	return e.rec.Cause
}

// Load decodes the flow data into v.
func (e *Execution) Load(v any) error {
	if len(e.rec.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.rec.Data, v)
}

// Store replaces the flow data. It is persisted when the state returns.
func (e *Execution) Store(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to encode data of %s: %w", e.rec.Id, err)
	}
	e.rec.Data = data
	return nil
}

// Await opens a wait named name for the current state and returns its
// token. The wait fails with ErrorTimeout if nobody resolves it within
// timeout.
func (e *Execution) Await(name string, timeout time.Duration) (string, error) {
	wait := storage.ExecutionWait{
		Token:       uuid.NewString(),
		ExecutionId: e.rec.Id,
		Step:        e.rec.Step,
		Name:        name,
		Status:      storage.WaitPending,
		Deadline:    storage.NewTimestamp(time.Now().Add(timeout)),
	}
	if err := e.engine.store.WaitCreate(wait); err != nil {
		return "", fmt.Errorf("unable to open wait %s: %w", name, err)
	}
	return wait.Token, nil
}

// Wait returns the wait named name opened by the current state, or nil.
func (e *Execution) Wait(name string) (*storage.ExecutionWait, error) {
	waits, err := e.engine.store.WaitList(e.rec.Id, e.rec.Step)
	if err != nil {
		return nil, err
	}
	for _, w := range waits {
		if w.Name == name {
			return &w, nil
		}
	}
	return nil, nil
}

// Complete resolves a wait of the current state from inside the state. It
// is used when the awaited event happened before the token was published.
func (e *Execution) Complete(token string, output any) error {
	data, err := json.Marshal(output)
	if err != nil {
		return err
	}
	_, err = e.engine.store.WaitResolve(token, storage.WaitSucceeded, data, "", "")
	return ignoreNotPending(err)
}

// Reject fails a wait of the current state from inside the state.
func (e *Execution) Reject(token, code, cause string) error {
	_, err := e.engine.store.WaitResolve(token, storage.WaitFailed, nil, code, cause)
	return ignoreNotPending(err)
}
