// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package executions

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/foundriesio/dg-fota/storage"
)

var (
	ErrExecutionExists     = errors.New("execution already exists")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrExecutionNotRunning = errors.New("execution is not running")
	ErrWaitNotFound        = errors.New("task token not found")
	ErrWaitNotPending      = errors.New("task is not pending")
)

type Storage struct {
	db *storage.DbHandle

	stmtExecCreate      stmtExecCreate
	stmtExecGet         stmtExecGet
	stmtExecSave        stmtExecSave
	stmtExecListRunning stmtExecListRunning
	stmtExecListExpired stmtExecListExpired
	stmtExecListFailed  stmtExecListFailed
	stmtExecFailHandled stmtExecFailHandled
	stmtWaitCreate      stmtWaitCreate
	stmtWaitGet         stmtWaitGet
	stmtWaitList        stmtWaitList
	stmtWaitResolve     stmtWaitResolve
	stmtWaitCancel      stmtWaitCancel
	stmtWaitListExpired stmtWaitListExpired
}

func NewStorage(db *storage.DbHandle) (*Storage, error) {
	handle := Storage{db: db}
	if err := db.InitStmt(
		&handle.stmtExecCreate,
		&handle.stmtExecGet,
		&handle.stmtExecSave,
		&handle.stmtExecListRunning,
		&handle.stmtExecListExpired,
		&handle.stmtExecListFailed,
		&handle.stmtExecFailHandled,
		&handle.stmtWaitCreate,
		&handle.stmtWaitGet,
		&handle.stmtWaitList,
		&handle.stmtWaitResolve,
		&handle.stmtWaitCancel,
		&handle.stmtWaitListExpired,
	); err != nil {
		return nil, err
	}
	return &handle, nil
}

func (s Storage) Create(exec storage.Execution) error {
	_, err := s.stmtExecCreate.Stmt.Exec(
		exec.Id,
		exec.Flow,
		exec.State,
		exec.Step,
		exec.Status,
		string(exec.Data),
		exec.Error,
		exec.Cause,
		exec.StartedAt,
		exec.Deadline,
		exec.UpdatedAt,
		exec.FailPending,
	)
	if err = storage.TranslateUnique(err); errors.Is(err, storage.ErrDbConstraintUnique) {
		return fmt.Errorf("%w: %s", ErrExecutionExists, exec.Id)
	}
	return err
}

func (s Storage) Get(id string) (*storage.Execution, error) {
	exec, err := scanExecution(s.stmtExecGet.Stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// Save writes the progress of a running execution. When the execution
// reaches a terminal status its pending waits are cancelled in the same
// transaction.
func (s Storage) Save(exec storage.Execution) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		err := storage.CheckAffected(tx.Stmt(s.stmtExecSave.Stmt).Exec(
			exec.State,
			exec.Step,
			exec.Status,
			string(exec.Data),
			exec.Error,
			exec.Cause,
			exec.UpdatedAt,
			exec.FailPending,
			exec.Id,
		))
		if errors.Is(err, storage.ErrDbNoRowsAffected) {
			return fmt.Errorf("%w: %s", ErrExecutionNotRunning, exec.Id)
		} else if err != nil {
			return fmt.Errorf("unable to save execution %s: %w", exec.Id, err)
		}
		if exec.Status != storage.ExecutionRunning {
			if _, err = tx.Stmt(s.stmtWaitCancel.Stmt).Exec(exec.Id); err != nil {
				return fmt.Errorf("unable to cancel waits of %s: %w", exec.Id, err)
			}
		}
		return nil
	})
}

func (s Storage) ListRunning() ([]storage.Execution, error) {
	return queryExecutions("stmtExecListRunning", s.stmtExecListRunning.Stmt)
}

// ListExpired returns running executions whose deadline is before now.
func (s Storage) ListExpired(now storage.Timestamp) ([]storage.Execution, error) {
	return queryExecutions("stmtExecListExpired", s.stmtExecListExpired.Stmt, now)
}

// ListFailPending returns ended executions whose failure handler has not
// completed yet.
func (s Storage) ListFailPending(limit int) ([]storage.Execution, error) {
	return queryExecutions("stmtExecListFailed", s.stmtExecListFailed.Stmt, limit)
}

// FailHandled clears the pending failure of an execution.
func (s Storage) FailHandled(id string) error {
	if _, err := s.stmtExecFailHandled.Stmt.Exec(id); err != nil {
		return fmt.Errorf("unable to clear failure of %s: %w", id, err)
	}
	return nil
}

func (s Storage) WaitCreate(wait storage.ExecutionWait) error {
	_, err := s.stmtWaitCreate.Stmt.Exec(
		wait.Token,
		wait.ExecutionId,
		wait.Step,
		wait.Name,
		wait.Status,
		wait.Deadline,
		string(wait.Output),
		wait.Error,
		wait.Cause,
	)
	return err
}

func (s Storage) WaitGet(token string) (*storage.ExecutionWait, error) {
	wait, err := scanWait(s.stmtWaitGet.Stmt.QueryRow(token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wait, err
}

// WaitList returns the waits an execution opened at a given step.
func (s Storage) WaitList(executionId string, step int) ([]storage.ExecutionWait, error) {
	return queryWaits("stmtWaitList", s.stmtWaitList.Stmt, executionId, step)
}

func (s Storage) WaitListExpired(now storage.Timestamp, limit int) ([]storage.ExecutionWait, error) {
	return queryWaits("stmtWaitListExpired", s.stmtWaitListExpired.Stmt, now, limit)
}

// WaitResolve settles a pending wait and returns it. Only the first
// resolution of a token wins, later ones get ErrWaitNotPending.
func (s Storage) WaitResolve(token string, status storage.WaitStatus, output []byte, code, cause string) (*storage.ExecutionWait, error) {
	var wait *storage.ExecutionWait
	err := s.db.WithTx(func(tx *sql.Tx) error {
		err := storage.CheckAffected(tx.Stmt(s.stmtWaitResolve.Stmt).Exec(
			status, string(output), code, cause, token,
		))
		if err != nil && !errors.Is(err, storage.ErrDbNoRowsAffected) {
			return fmt.Errorf("unable to resolve task: %w", err)
		}
		notPending := err != nil
		wait, err = scanWait(tx.Stmt(s.stmtWaitGet.Stmt).QueryRow(token))
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrWaitNotFound, token)
		} else if err != nil {
			return err
		} else if notPending {
			return fmt.Errorf("%w: %s is %s", ErrWaitNotPending, token, wait.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wait, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const execColumns = `id, flow, state, step, status, data, error, cause, started_at, deadline, updated_at, fail_pending`

func scanExecution(row rowScanner) (*storage.Execution, error) {
	var (
		exec storage.Execution
		data string
	)
	err := row.Scan(
		&exec.Id,
		&exec.Flow,
		&exec.State,
		&exec.Step,
		&exec.Status,
		&data,
		&exec.Error,
		&exec.Cause,
		&exec.StartedAt,
		&exec.Deadline,
		&exec.UpdatedAt,
		&exec.FailPending,
	)
	if err != nil {
		return nil, err
	}
	exec.Data = []byte(data)
	return &exec, nil
}

func queryExecutions(name string, stmt *sql.Stmt, args ...any) ([]storage.Execution, error) {
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer storage.CloseRows(name, rows)

	var execs []storage.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

const waitColumns = `token, execution_id, step, name, status, deadline, output, error, cause`

func scanWait(row rowScanner) (*storage.ExecutionWait, error) {
	var (
		wait   storage.ExecutionWait
		output string
	)
	err := row.Scan(
		&wait.Token,
		&wait.ExecutionId,
		&wait.Step,
		&wait.Name,
		&wait.Status,
		&wait.Deadline,
		&output,
		&wait.Error,
		&wait.Cause,
	)
	if err != nil {
		return nil, err
	}
	if len(output) > 0 {
		wait.Output = []byte(output)
	}
	return &wait, nil
}

func queryWaits(name string, stmt *sql.Stmt, args ...any) ([]storage.ExecutionWait, error) {
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer storage.CloseRows(name, rows)

	var waits []storage.ExecutionWait
	for rows.Next() {
		wait, err := scanWait(rows)
		if err != nil {
			return nil, err
		}
		waits = append(waits, *wait)
	}
	return waits, rows.Err()
}

type stmtExecCreate storage.DbStmt

func (s *stmtExecCreate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("execCreate", `
		INSERT INTO executions (`+execColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	return
}

type stmtExecGet storage.DbStmt

func (s *stmtExecGet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("execGet", `
		SELECT `+execColumns+` FROM executions WHERE id = ?`,
	)
	return
}

type stmtExecSave storage.DbStmt

func (s *stmtExecSave) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("execSave", `
		UPDATE executions
		SET state = ?, step = ?, status = ?, data = ?, error = ?, cause = ?, updated_at = ?, fail_pending = ?
		WHERE id = ? AND status = 'RUNNING'`,
	)
	return
}

type stmtExecListRunning storage.DbStmt

func (s *stmtExecListRunning) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("execListRunning", `
		SELECT `+execColumns+` FROM executions WHERE status = 'RUNNING'`,
	)
	return
}

type stmtExecListExpired storage.DbStmt

func (s *stmtExecListExpired) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("execListExpired", `
		SELECT `+execColumns+` FROM executions
		WHERE status = 'RUNNING' AND deadline < ?`,
	)
	return
}

type stmtExecListFailed storage.DbStmt

func (s *stmtExecListFailed) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("execListFailed", `
		SELECT `+execColumns+` FROM executions
		WHERE fail_pending = 1 AND status != 'RUNNING'
		ORDER BY updated_at
		LIMIT ?`,
	)
	return
}

type stmtExecFailHandled storage.DbStmt

func (s *stmtExecFailHandled) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("execFailHandled", `
		UPDATE executions SET fail_pending = 0 WHERE id = ?`,
	)
	return
}

type stmtWaitCreate storage.DbStmt

func (s *stmtWaitCreate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("waitCreate", `
		INSERT INTO execution_waits (`+waitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	return
}

type stmtWaitGet storage.DbStmt

func (s *stmtWaitGet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("waitGet", `
		SELECT `+waitColumns+` FROM execution_waits WHERE token = ?`,
	)
	return
}

type stmtWaitList storage.DbStmt

func (s *stmtWaitList) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("waitList", `
		SELECT `+waitColumns+` FROM execution_waits
		WHERE execution_id = ? AND step = ?
		ORDER BY name`,
	)
	return
}

type stmtWaitResolve storage.DbStmt

func (s *stmtWaitResolve) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("waitResolve", `
		UPDATE execution_waits
		SET status = ?, output = ?, error = ?, cause = ?
		WHERE token = ? AND status = 'PENDING'`,
	)
	return
}

type stmtWaitCancel storage.DbStmt

func (s *stmtWaitCancel) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("waitCancel", `
		UPDATE execution_waits SET status = 'CANCELLED'
		WHERE execution_id = ? AND status = 'PENDING'`,
	)
	return
}

type stmtWaitListExpired storage.DbStmt

func (s *stmtWaitListExpired) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("waitListExpired", `
		SELECT `+waitColumns+` FROM execution_waits
		WHERE status = 'PENDING' AND deadline < ?
		ORDER BY deadline
		LIMIT ?`,
	)
	return
}
