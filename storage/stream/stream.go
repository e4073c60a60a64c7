// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package stream is a change stream over the job tables. Writers append a
// change record in the transaction that modifies a row; subscribers consume
// the records in order, each one remembering its own cursor.
package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/foundriesio/dg-fota/storage"
)

type Kind string

const (
	KindJob         Kind = "job"
	KindNRFCloudJob Kind = "nrfcloud_job"
)

// Change is a decoded change record: either a JobChange or a
// NRFCloudJobChange.
type Change interface {
	Seq() int64
}

type JobChange struct {
	seq int64
	Job storage.Job
}

func (c JobChange) Seq() int64 { return c.seq }

type NRFCloudJobChange struct {
	seq int64
	Job storage.NRFCloudJob
}

func (c NRFCloudJobChange) Seq() int64 { return c.seq }

type Handler func(ctx context.Context, change Change) error

// Append records the new image of a row. It must run in the transaction
// that writes the row.
func Append(tx *sql.Tx, kind Kind, key, status string, image any) error {
	buf, err := json.Marshal(image)
	if err != nil {
		return fmt.Errorf("unable to marshal %s change: %w", kind, err)
	}
	_, err = tx.Exec(`
		INSERT INTO changes (kind, key, status, image, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		kind, key, status, string(buf), storage.Now(),
	)
	if err != nil {
		return fmt.Errorf("unable to append %s change: %w", kind, err)
	}
	return nil
}

type record struct {
	seq    int64
	kind   Kind
	key    string
	status string
	image  string
}

func (r record) decode() (Change, error) {
	switch r.kind {
	case KindJob:
		c := JobChange{seq: r.seq}
		if err := json.Unmarshal([]byte(r.image), &c.Job); err != nil {
			return nil, fmt.Errorf("invalid job change %d: %w", r.seq, err)
		}
		return c, nil
	case KindNRFCloudJob:
		c := NRFCloudJobChange{seq: r.seq}
		if err := json.Unmarshal([]byte(r.image), &c.Job); err != nil {
			return nil, fmt.Errorf("invalid nrfcloud job change %d: %w", r.seq, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown change kind %q of record %d", r.kind, r.seq)
}

type subscription struct {
	name     string
	kind     Kind
	statuses []string
	handler  Handler
	attempts int
}

type Storage struct {
	db *storage.DbHandle

	stmtCursorGet stmtCursorGet
	stmtCursorSet stmtCursorSet
	stmtRead      stmtRead
	stmtGc        stmtGc

	batchSize   int
	maxAttempts int

	mu   sync.Mutex
	subs []*subscription
	done chan struct{}
}

func NewStorage(db *storage.DbHandle, batchSize int) (*Storage, error) {
	handle := Storage{
		db:          db,
		batchSize:   batchSize,
		maxAttempts: 5,
	}
	if err := db.InitStmt(
		&handle.stmtCursorGet,
		&handle.stmtCursorSet,
		&handle.stmtRead,
		&handle.stmtGc,
	); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Subscribe registers a named consumer of the changes of one kind. Only
// records whose status is in statuses reach the handler; the others just
// move the cursor. An empty statuses list matches every record.
func (s *Storage) Subscribe(name string, kind Kind, statuses []string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, &subscription{
		name:     name,
		kind:     kind,
		statuses: slices.Clone(statuses),
		handler:  handler,
	})
}

// Poll delivers every pending record to the subscribers once.
func (s *Storage) Poll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if err := s.pollSubscription(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) pollSubscription(ctx context.Context, sub *subscription) error {
	cursor, err := s.stmtCursorGet.run(sub.name)
	if err != nil {
		return fmt.Errorf("unable to read cursor of %s: %w", sub.name, err)
	}
	for {
		records, err := s.stmtRead.run(sub.kind, cursor, s.batchSize)
		if err != nil {
			return fmt.Errorf("unable to read changes for %s: %w", sub.name, err)
		}
		for _, r := range records {
			if len(sub.statuses) == 0 || slices.Contains(sub.statuses, r.status) {
				if !s.deliver(ctx, sub, r) {
					return nil
				}
			}
			cursor = r.seq
			if err = s.stmtCursorSet.run(sub.name, cursor); err != nil {
				return fmt.Errorf("unable to store cursor of %s: %w", sub.name, err)
			}
		}
		if len(records) < s.batchSize {
			return nil
		}
	}
}

// deliver returns false when the record must be retried on the next poll.
func (s *Storage) deliver(ctx context.Context, sub *subscription, r record) bool {
	log := slog.With("subscriber", sub.name, "seq", r.seq, "key", r.key)
	change, err := r.decode()
	if err == nil {
		err = sub.handler(ctx, change)
	}
	if err == nil {
		sub.attempts = 0
		return true
	}
	sub.attempts++
	if sub.attempts < s.maxAttempts {
		log.Warn("Change handler failed, will retry", "attempt", sub.attempts, "error", err)
		return false
	}
	log.Error("Change handler failed, skipping record", "attempts", sub.attempts, "error", err)
	sub.attempts = 0
	return true
}

// Start polls the stream every interval until Stop is called.
func (s *Storage) Start(interval time.Duration) {
	s.done = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Poll(context.Background()); err != nil {
					slog.Error("Unable to poll change stream", "error", err)
				}
			case <-s.done:
				slog.Info("Stopping change stream")
				return
			}
		}
	}()
}

func (s *Storage) Stop() {
	close(s.done)
}

// Gc removes records older than before that every subscriber has consumed.
func (s *Storage) Gc(before time.Time) error {
	return s.stmtGc.run(storage.NewTimestamp(before))
}

type stmtCursorGet storage.DbStmt

func (s *stmtCursorGet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("streamCursorGet", `
		SELECT seq FROM stream_cursors WHERE name = ?`,
	)
	return
}

func (s *stmtCursorGet) run(name string) (seq int64, err error) {
	err = s.Stmt.QueryRow(name).Scan(&seq)
	if err == sql.ErrNoRows {
		err = nil
	}
	return
}

type stmtCursorSet storage.DbStmt

func (s *stmtCursorSet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("streamCursorSet", `
		INSERT INTO stream_cursors (name, seq) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET seq = excluded.seq`,
	)
	return
}

func (s *stmtCursorSet) run(name string, seq int64) error {
	_, err := s.Stmt.Exec(name, seq)
	return err
}

type stmtRead storage.DbStmt

func (s *stmtRead) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("streamRead", `
		SELECT seq, kind, key, status, image
		FROM changes
		WHERE kind = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`,
	)
	return
}

func (s *stmtRead) run(kind Kind, after int64, limit int) ([]record, error) {
	rows, err := s.Stmt.Query(kind, after, limit)
	if err != nil {
		return nil, err
	}
	defer storage.CloseRows("stmtRead", rows)

	var records []record
	for rows.Next() {
		var r record
		if err = rows.Scan(&r.seq, &r.kind, &r.key, &r.status, &r.image); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type stmtGc storage.DbStmt

func (s *stmtGc) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("streamGc", `
		DELETE FROM changes
		WHERE created_at < ?
		AND seq <= (SELECT COALESCE(MIN(seq), 0) FROM stream_cursors)`,
	)
	return
}

func (s *stmtGc) run(before storage.Timestamp) error {
	_, err := s.Stmt.Exec(before)
	return err
}
