// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package workflow runs durable flows. An execution advances state by state;
// a state may open waits and suspend, the execution then resumes when every
// wait was resolved through its token. All progress is kept in sqlite, so a
// restarted process picks the executions up where they were.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/executions"
)

var (
	ErrUnknownFlow    = errors.New("unknown flow")
	ErrNotFound       = executions.ErrExecutionNotFound
	ErrExists         = executions.ErrExecutionExists
	ErrNotRunning     = executions.ErrExecutionNotRunning
	ErrTaskNotFound   = executions.ErrWaitNotFound
	ErrTaskNotPending = executions.ErrWaitNotPending
)

type Engine struct {
	store *executions.Storage
	flows map[string]*Definition
	locks keyedMutex
	wg    sync.WaitGroup

	sweepBatch int
	done       chan struct{}
}

func NewEngine(store *executions.Storage) *Engine {
	return &Engine{
		store:      store,
		flows:      map[string]*Definition{},
		sweepBatch: 100,
	}
}

// Register makes a flow available to Start. It must be called before the
// engine starts or resumes executions.
func (e *Engine) Register(def *Definition) error {
	if err := def.init(); err != nil {
		return err
	}
	if _, ok := e.flows[def.Name]; ok {
		return fmt.Errorf("flow %s is already registered", def.Name)
	}
	e.flows[def.Name] = def
	return nil
}

// Start creates an execution of flow and runs it in the background. The
// execution id must be unique.
func (e *Engine) Start(ctx context.Context, flow, id string, input any) error {
	def, ok := e.flows[flow]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFlow, flow)
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("unable to encode input of %s: %w", id, err)
	}
	now := time.Now()
	rec := storage.Execution{
		Id:        id,
		Flow:      flow,
		State:     def.StartAt,
		Status:    storage.ExecutionRunning,
		Data:      data,
		StartedAt: storage.NewTimestamp(now),
		Deadline:  storage.NewTimestamp(now.Add(def.Timeout)),
		UpdatedAt: storage.NewTimestamp(now),
	}
	if err = e.store.Create(rec); err != nil {
		return err
	}
	context.CtxGetLog(ctx).Info("Started execution", "flow", flow, "execution", id)
	e.spawn(ctx, id)
	return nil
}

func (e *Engine) Describe(id string) (*storage.Execution, error) {
	return e.store.Get(id)
}

// SendTaskSuccess resolves the wait of token and resumes its execution.
func (e *Engine) SendTaskSuccess(ctx context.Context, token string, output any) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("unable to encode task output: %w", err)
	}
	wait, err := e.store.WaitResolve(token, storage.WaitSucceeded, data, "", "")
	if err != nil {
		return err
	}
	e.spawn(ctx, wait.ExecutionId)
	return nil
}

// SendTaskFailure fails the wait of token, which fails its execution.
func (e *Engine) SendTaskFailure(ctx context.Context, token, code, cause string) error {
	wait, err := e.store.WaitResolve(token, storage.WaitFailed, nil, code, cause)
	if err != nil {
		return err
	}
	e.spawn(ctx, wait.ExecutionId)
	return nil
}

// Abort stops a running execution. Its failure handler runs before Abort
// returns.
func (e *Engine) Abort(ctx context.Context, id, cause string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	rec, err := e.store.Get(id)
	if err != nil {
		return err
	} else if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if rec.Status != storage.ExecutionRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, rec.Status)
	}
	exec := &Execution{engine: e, rec: *rec}
	return e.finish(e.withLog(ctx, exec), exec, storage.ExecutionAborted, ErrorAborted, cause)
}

// Resume restarts every running execution, used once at start up.
func (e *Engine) Resume(ctx context.Context) error {
	execs, err := e.store.ListRunning()
	if err != nil {
		return fmt.Errorf("unable to list running executions: %w", err)
	}
	for _, exec := range execs {
		e.spawn(ctx, exec.Id)
	}
	context.CtxGetLog(ctx).Info("Resumed executions", "count", len(execs))
	return nil
}

// Sweep fails the waits and the executions whose deadline passed. It also
// retries the failure handlers which did not complete.
func (e *Engine) Sweep(ctx context.Context, now time.Time) error {
	log := context.CtxGetLog(ctx)
	ts := storage.NewTimestamp(now)
	waits, err := e.store.WaitListExpired(ts, e.sweepBatch)
	if err != nil {
		return fmt.Errorf("unable to list expired waits: %w", err)
	}
	for _, w := range waits {
		cause := fmt.Sprintf("Timed out waiting for %s.", w.Name)
		err = e.SendTaskFailure(ctx, w.Token, ErrorTimeout, cause)
		if err != nil && !errors.Is(err, ErrTaskNotPending) {
			log.Error("Unable to time out wait", "execution", w.ExecutionId, "wait", w.Name, "error", err)
		}
	}

	execs, err := e.store.ListExpired(ts)
	if err != nil {
		return fmt.Errorf("unable to list expired executions: %w", err)
	}
	for _, rec := range execs {
		e.timeout(ctx, rec.Id, ts)
	}

	if execs, err = e.store.ListFailPending(e.sweepBatch); err != nil {
		return fmt.Errorf("unable to list failed executions: %w", err)
	}
	for _, rec := range execs {
		e.retryFailure(ctx, rec.Id)
	}
	return nil
}

func (e *Engine) timeout(ctx context.Context, id string, now storage.Timestamp) {
	unlock := e.locks.lock(id)
	defer unlock()

	rec, err := e.store.Get(id)
	if err != nil {
		context.CtxGetLog(ctx).Error("Unable to read execution", "execution", id, "error", err)
		return
	} else if rec == nil || rec.Status != storage.ExecutionRunning || rec.Deadline >= now {
		return
	}
	exec := &Execution{engine: e, rec: *rec}
	_ = e.finish(e.withLog(ctx, exec), exec, storage.ExecutionTimedOut, ErrorTimeout, "Execution timed out.")
}

// StartSweeper runs Sweep every interval until Stop is called.
func (e *Engine) StartSweeper(interval time.Duration) {
	e.done = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.Sweep(context.Background(), time.Now()); err != nil {
					slog.Error("Unable to sweep executions", "error", err)
				}
			case <-e.done:
				slog.Info("Stopping execution sweeper")
				return
			}
		}
	}()
}

// Stop stops the sweeper and waits for the executions being advanced.
func (e *Engine) Stop() {
	if e.done != nil {
		close(e.done)
	}
	e.Drain()
}

// Drain waits until no execution is advancing in the background.
func (e *Engine) Drain() {
	e.wg.Wait()
}

func (e *Engine) spawn(ctx context.Context, id string) {
	ctx = context.DetachedWithLog(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.advance(ctx, id)
	}()
}

func (e *Engine) withLog(ctx context.Context, exec *Execution) context.Context {
	log := context.CtxGetLog(ctx).With("flow", exec.rec.Flow, "execution", exec.rec.Id)
	return context.CtxWithLog(ctx, log)
}

// advance runs the states of an execution until it suspends or ends.
func (e *Engine) advance(ctx context.Context, id string) {
	unlock := e.locks.lock(id)
	defer unlock()

	rec, err := e.store.Get(id)
	if err != nil {
		context.CtxGetLog(ctx).Error("Unable to read execution", "execution", id, "error", err)
		return
	} else if rec == nil || rec.Status != storage.ExecutionRunning {
		return
	}
	exec := &Execution{engine: e, rec: *rec}
	ctx = e.withLog(ctx, exec)
	log := context.CtxGetLog(ctx)

	def, ok := e.flows[rec.Flow]
	if !ok {
		log.Error("Execution of an unknown flow")
		return
	}

	for {
		if storage.Now() > exec.rec.Deadline {
			_ = e.finish(ctx, exec, storage.ExecutionTimedOut, ErrorTimeout, "Execution timed out.")
			return
		}
		waits, err := e.store.WaitList(id, exec.rec.Step)
		if err != nil {
			log.Error("Unable to read waits", "error", err)
			return
		}
		pending := false
		for _, w := range waits {
			if w.Status == storage.WaitFailed {
				_ = e.finish(ctx, exec, storage.ExecutionFailed, w.Error, w.Cause)
				return
			} else if w.Status == storage.WaitPending {
				pending = true
			}
		}
		if pending {
			log.Debug("Execution suspended", "state", exec.rec.State)
			return
		}

		state := def.index[exec.rec.State]
		if state == nil {
			_ = e.finish(ctx, exec, storage.ExecutionFailed, ErrorTaskFailed, "Unknown state "+exec.rec.State)
			return
		}
		log.Debug("Executing state", "state", exec.rec.State, "step", exec.rec.Step)
		next, err := state.Execute(ctx, exec)
		if err != nil {
			code := ErrorTaskFailed
			var failure Failure
			if errors.As(err, &failure) {
				code = failure.Code
			}
			log.Info("State failed", "state", exec.rec.State, "error", err)
			_ = e.finish(ctx, exec, storage.ExecutionFailed, code, err.Error())
			return
		}

		switch next {
		case End:
			_ = e.finish(ctx, exec, storage.ExecutionSucceeded, "", "")
			return
		case Suspend:
			if waits, err = e.store.WaitList(id, exec.rec.Step); err != nil {
				log.Error("Unable to read waits", "error", err)
				return
			} else if len(waits) == 0 {
				cause := fmt.Sprintf("State %s suspended without waits", exec.rec.State)
				_ = e.finish(ctx, exec, storage.ExecutionFailed, ErrorTaskFailed, cause)
				return
			}
		default:
			if _, ok := def.index[next]; !ok {
				cause := fmt.Sprintf("State %s moved to unknown state %s", exec.rec.State, next)
				_ = e.finish(ctx, exec, storage.ExecutionFailed, ErrorTaskFailed, cause)
				return
			}
			exec.rec.State = next
			exec.rec.Step++
		}
		exec.rec.UpdatedAt = storage.Now()
		if err = e.store.Save(exec.rec); err != nil {
			log.Error("Unable to save execution", "error", err)
			return
		}
	}
}

func (e *Engine) finish(ctx context.Context, exec *Execution, status storage.ExecutionStatus, code, cause string) error {
	log := context.CtxGetLog(ctx)
	def := e.flows[exec.rec.Flow]
	exec.rec.Status = status
	exec.rec.Error = code
	exec.rec.Cause = cause
	exec.rec.UpdatedAt = storage.Now()
	exec.rec.FailPending = status != storage.ExecutionSucceeded && def != nil && def.OnFail != nil
	if err := e.store.Save(exec.rec); err != nil {
		log.Error("Unable to finish execution", "status", status, "error", err)
		return err
	}
	log.Info("Execution finished", "status", status, "error", code, "cause", cause)
	if exec.rec.FailPending {
		e.handleFailure(ctx, def, exec)
	}
	return nil
}

// handleFailure runs the failure handler and clears the pending failure once
// it succeeded. The caller holds the execution lock.
func (e *Engine) handleFailure(ctx context.Context, def *Definition, exec *Execution) {
	log := context.CtxGetLog(ctx)
	if err := def.OnFail(ctx, exec); err != nil {
		log.Error("Failure handler failed, retrying on next sweep", "error", err)
		return
	}
	if err := e.store.FailHandled(exec.rec.Id); err != nil {
		log.Error("Unable to clear pending failure", "error", err)
		return
	}
	exec.rec.FailPending = false
}

// retryFailure runs the failure handler of an execution which ended while its
// handler failed or never ran.
func (e *Engine) retryFailure(ctx context.Context, id string) {
	unlock := e.locks.lock(id)
	defer unlock()

	rec, err := e.store.Get(id)
	if err != nil {
		context.CtxGetLog(ctx).Error("Unable to read execution", "execution", id, "error", err)
		return
	} else if rec == nil || !rec.FailPending || rec.Status == storage.ExecutionRunning {
		return
	}
	exec := &Execution{engine: e, rec: *rec}
	ctx = e.withLog(ctx, exec)
	def := e.flows[rec.Flow]
	if def == nil || def.OnFail == nil {
		context.CtxGetLog(ctx).Error("Pending failure of a flow without failure handler")
		return
	}
	context.CtxGetLog(ctx).Info("Retrying failure handler", "status", rec.Status)
	e.handleFailure(ctx, def, exec)
}

func ignoreNotPending(err error) error {
	if errors.Is(err, ErrTaskNotPending) {
		return nil
	}
	return err
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// keyedMutex serialises the work on one execution while executions with
// different ids progress in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedLock{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
