// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrDbConstraintUnique = errors.New("sqlite: unique constraint failed")
	ErrDbNoRowsAffected   = errors.New("sqlite: no rows affected")
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	pk                   TEXT PRIMARY KEY,
	id                   TEXT NOT NULL UNIQUE,
	device_id            TEXT NOT NULL,
	target               TEXT NOT NULL,
	account              TEXT NOT NULL,
	status               TEXT NOT NULL,
	status_detail        TEXT NOT NULL,
	reported_version     TEXT NOT NULL,
	used_versions        TEXT NOT NULL,
	upgrade_path         TEXT NOT NULL,
	update_applied_token TEXT NOT NULL DEFAULT '',
	timestamp            INTEGER NOT NULL,
	ttl                  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_device_id ON jobs(device_id);

CREATE TABLE IF NOT EXISTS job_history (
	id               TEXT PRIMARY KEY,
	archive_key      TEXT NOT NULL,
	device_id        TEXT NOT NULL,
	target           TEXT NOT NULL,
	account          TEXT NOT NULL,
	status           TEXT NOT NULL,
	status_detail    TEXT NOT NULL,
	reported_version TEXT NOT NULL,
	used_versions    TEXT NOT NULL,
	upgrade_path     TEXT NOT NULL,
	timestamp        INTEGER NOT NULL,
	ttl              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS job_history_device_id ON job_history(device_id, id);
CREATE INDEX IF NOT EXISTS job_history_ttl ON job_history(ttl);
CREATE INDEX IF NOT EXISTS job_history_archive_key ON job_history(archive_key);

CREATE TABLE IF NOT EXISTS nrfcloud_jobs (
	job_id           TEXT PRIMARY KEY,
	parent_job_id    TEXT NOT NULL,
	account          TEXT NOT NULL,
	device_id        TEXT NOT NULL,
	status           TEXT NOT NULL,
	status_detail    TEXT NOT NULL DEFAULT '',
	firmware         TEXT NOT NULL DEFAULT '',
	target           TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	last_updated_at  INTEGER NOT NULL,
	next_update_at   INTEGER NOT NULL,
	completion_token TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS nrfcloud_jobs_due ON nrfcloud_jobs(status, next_update_at);
CREATE INDEX IF NOT EXISTS nrfcloud_jobs_parent ON nrfcloud_jobs(parent_job_id);

CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	flow         TEXT NOT NULL,
	state        TEXT NOT NULL,
	step         INTEGER NOT NULL,
	status       TEXT NOT NULL,
	data         TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	cause        TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	deadline     INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	fail_pending INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS executions_status ON executions(status, deadline);
CREATE INDEX IF NOT EXISTS executions_fail_pending ON executions(fail_pending);

CREATE TABLE IF NOT EXISTS execution_waits (
	token        TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	step         INTEGER NOT NULL,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	deadline     INTEGER NOT NULL,
	output       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	cause        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS execution_waits_execution ON execution_waits(execution_id, step);
CREATE INDEX IF NOT EXISTS execution_waits_deadline ON execution_waits(status, deadline);

CREATE TABLE IF NOT EXISTS changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	key        TEXT NOT NULL,
	status     TEXT NOT NULL,
	image      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stream_cursors (
	name TEXT PRIMARY KEY,
	seq  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	name         TEXT PRIMARY KEY,
	api_endpoint TEXT NOT NULL,
	api_key      TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);
`

// IsDbError reports whether err is a sqlite error with the given primary
// (sqlite3.ErrNo) or extended (sqlite3.ErrNoExtended) code.
func IsDbError(err error, code any) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch c := code.(type) {
	case sqlite3.ErrNo:
		return sqliteErr.Code == c
	case sqlite3.ErrNoExtended:
		return sqliteErr.ExtendedCode == c
	}
	return false
}

// TranslateUnique maps primary key and unique violations onto
// ErrDbConstraintUnique so callers do not depend on the driver.
func TranslateUnique(err error) error {
	if IsDbError(err, sqlite3.ErrConstraintPrimaryKey) || IsDbError(err, sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: %s", ErrDbConstraintUnique, err)
	}
	return err
}

type DbHandle struct {
	db *sql.DB
}

func NewDb(dbfile string) (*DbHandle, error) {
	// Immediate transactions take the write lock up front, so two writers
	// never deadlock while upgrading a read lock.
	dsn := "file:" + dbfile + "?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database %s: %w", dbfile, err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Join(fmt.Errorf("unable to initialize database schema: %w", err), db.Close())
	}
	return &DbHandle{db: db}, nil
}

func (d DbHandle) Close() error {
	return d.db.Close()
}

func (d DbHandle) Prepare(name, query string) (stmt *sql.Stmt, err error) {
	if stmt, err = d.db.Prepare(query); err != nil {
		err = fmt.Errorf("unable to prepare statement %s: %w", name, err)
	}
	return
}

func (d DbHandle) InitStmt(stmt ...DbStmtInit) error {
	for _, s := range stmt {
		if err := s.Init(d); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (d DbHandle) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("unable to start transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Unable to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	return nil
}

type DbStmt struct {
	Stmt *sql.Stmt
}

type DbStmtInit interface {
	Init(db DbHandle) error
}

// CheckAffected turns a conditional write that matched nothing into
// ErrDbNoRowsAffected.
func CheckAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	} else if n == 0 {
		return ErrDbNoRowsAffected
	}
	return nil
}

// CloseRows is deferred by row iterators.
func CloseRows(name string, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Error(name+": failed to close rows", "error", err)
	}
}
