// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/stream"
)

var (
	ErrJobExists         = errors.New("an active job already exists for this device and target")
	ErrJobNotFound       = errors.New("job not found")
	ErrStatusNew         = errors.New("cannot set status to NEW")
	ErrConditionFailed   = errors.New("job was modified concurrently")
	ErrNRFCloudJobExists = errors.New("nRF Cloud job is already tracked")
)

type Storage struct {
	db  *storage.DbHandle
	ttl time.Duration

	stmtJobCreate        stmtJobCreate
	stmtJobGetByKey      stmtJobGetByKey
	stmtJobGetById       stmtJobGetById
	stmtJobListByDevice  stmtJobListByDevice
	stmtJobUpdate        stmtJobUpdate
	stmtJobDelete        stmtJobDelete
	stmtJobSetToken      stmtJobSetToken
	stmtHistoryCreate    stmtHistoryCreate
	stmtHistoryGetById   stmtHistoryGetById
	stmtHistoryGetByKey  stmtHistoryGetByKey
	stmtHistoryDeleteTtl stmtHistoryDeleteTtl

	stmtNRFCloudJobCreate       stmtNRFCloudJobCreate
	stmtNRFCloudJobGet          stmtNRFCloudJobGet
	stmtNRFCloudJobListDue      stmtNRFCloudJobListDue
	stmtNRFCloudJobListByParent stmtNRFCloudJobListByParent
	stmtNRFCloudJobClaim        stmtNRFCloudJobClaim
	stmtNRFCloudJobSetStatus    stmtNRFCloudJobSetStatus
	stmtNRFCloudJobSetToken     stmtNRFCloudJobSetToken

	done chan struct{}
}

func NewStorage(db *storage.DbHandle, ttl time.Duration) (*Storage, error) {
	handle := Storage{db: db, ttl: ttl}

	if err := db.InitStmt(
		&handle.stmtJobCreate,
		&handle.stmtJobGetByKey,
		&handle.stmtJobGetById,
		&handle.stmtJobListByDevice,
		&handle.stmtJobUpdate,
		&handle.stmtJobDelete,
		&handle.stmtJobSetToken,
		&handle.stmtHistoryCreate,
		&handle.stmtHistoryGetById,
		&handle.stmtHistoryGetByKey,
		&handle.stmtHistoryDeleteTtl,
		&handle.stmtNRFCloudJobCreate,
		&handle.stmtNRFCloudJobGet,
		&handle.stmtNRFCloudJobListDue,
		&handle.stmtNRFCloudJobListByParent,
		&handle.stmtNRFCloudJobClaim,
		&handle.stmtNRFCloudJobSetStatus,
		&handle.stmtNRFCloudJobSetToken,
	); err != nil {
		return nil, err
	}
	return &handle, nil
}

// JobCreate claims the active slot of the job's device and target. It fails
// with ErrJobExists while another job holds the slot.
func (s Storage) JobCreate(job *storage.Job) error {
	if job.Status != storage.JobStatusNew {
		return fmt.Errorf("a job must be created with status %s, not %s", storage.JobStatusNew, job.Status)
	}
	now := storage.Now()
	job.Pk = storage.JobKey(job.DeviceId, job.Target)
	job.Timestamp = now
	job.Ttl = storage.NewTimestamp(now.ToTime().Add(s.ttl))
	if job.UsedVersions == nil {
		job.UsedVersions = storage.UsedVersions{}
	}
	return s.db.WithTx(func(tx *sql.Tx) error {
		if err := s.stmtJobCreate.run(tx, job); err != nil {
			if err = storage.TranslateUnique(err); errors.Is(err, storage.ErrDbConstraintUnique) {
				return fmt.Errorf("%w: %s", ErrJobExists, job.Pk)
			}
			return fmt.Errorf("unable to create job: %w", err)
		}
		return stream.Append(tx, stream.KindJob, job.Pk, string(job.Status), job)
	})
}

// JobGetByKey returns the job stored under pk, or nil. A slot key gives the
// active job of a device and target. An archive key, as returned by a
// terminal JobUpdate, gives the archived job.
func (s Storage) JobGetByKey(pk string) (*storage.Job, error) {
	job, err := scanJob(s.stmtJobGetByKey.Stmt.QueryRow(pk))
	if err == sql.ErrNoRows {
		job, err = scanJob(s.stmtHistoryGetByKey.Stmt.QueryRow(pk))
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// JobGetById looks the job up among the active and the archived ones.
func (s Storage) JobGetById(id string) (*storage.Job, error) {
	job, err := scanJob(s.stmtJobGetById.Stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		job, err = scanJob(s.stmtHistoryGetById.Stmt.QueryRow(id))
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// JobListByDevice returns the active and archived jobs of a device, newest
// first.
func (s Storage) JobListByDevice(deviceId string, limit int) ([]storage.Job, error) {
	return s.stmtJobListByDevice.run(deviceId, limit)
}

// JobUpdate moves a job forward. Non terminal updates only apply when the
// stored job still carries current.Timestamp. Terminal updates move the job
// from its active slot into the history.
func (s Storage) JobUpdate(update storage.JobUpdate, current storage.Job) (*storage.Job, error) {
	if update.Status == storage.JobStatusNew {
		return nil, ErrStatusNew
	}
	now := storage.Now()
	if now <= current.Timestamp {
		now = current.Timestamp + 1
	}
	var job storage.Job
	err := s.db.WithTx(func(tx *sql.Tx) error {
		if !update.Status.IsTerminal() {
			job = applyUpdate(current, update, now)
			err := storage.CheckAffected(s.stmtJobUpdate.run(tx, job, current.Timestamp))
			if errors.Is(err, storage.ErrDbNoRowsAffected) {
				return fmt.Errorf("%w: %s", ErrConditionFailed, current.Pk)
			} else if err != nil {
				return fmt.Errorf("unable to update job: %w", err)
			}
			return stream.Append(tx, stream.KindJob, job.Pk, string(job.Status), job)
		}

		stored, err := scanJob(tx.Stmt(s.stmtJobGetByKey.Stmt).QueryRow(current.Pk))
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrJobNotFound, current.Pk)
		} else if err != nil {
			return fmt.Errorf("unable to read job: %w", err)
		}
		job = applyUpdate(*stored, update, now)
		job.Pk = storage.ArchiveKey(job.DeviceId, job.Target, job.Status, now)
		job.UpdateAppliedToken = ""
		if err = s.stmtHistoryCreate.run(tx, job); err != nil {
			return fmt.Errorf("unable to archive job: %w", storage.TranslateUnique(err))
		}
		if err = storage.CheckAffected(s.stmtJobDelete.run(tx, stored.Pk)); err != nil {
			return fmt.Errorf("unable to release job slot %s: %w", stored.Pk, err)
		}
		return stream.Append(tx, stream.KindJob, job.Id, string(job.Status), job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func applyUpdate(job storage.Job, update storage.JobUpdate, now storage.Timestamp) storage.Job {
	job.Status = update.Status
	job.StatusDetail = update.StatusDetail
	if update.ReportedVersion != "" {
		job.ReportedVersion = update.ReportedVersion
	}
	used := make(storage.UsedVersions, len(job.UsedVersions)+len(update.UsedVersions))
	maps.Copy(used, job.UsedVersions)
	maps.Copy(used, update.UsedVersions)
	job.UsedVersions = used
	job.Timestamp = now
	return job
}

// JobSetUpdateAppliedToken stores the token resuming the flow once the
// device reports a new version. An empty token clears it.
func (s Storage) JobSetUpdateAppliedToken(pk, token string) error {
	err := storage.CheckAffected(s.stmtJobSetToken.Stmt.Exec(token, pk))
	if errors.Is(err, storage.ErrDbNoRowsAffected) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, pk)
	}
	return err
}

// StartGc removes archived jobs past their ttl every interval.
func (s *Storage) StartGc(interval time.Duration) {
	s.done = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runGc(time.Now())
			case <-s.done:
				slog.Info("Stopping job GC")
				return
			}
		}
	}()
}

func (s *Storage) StopGc() {
	close(s.done)
}

func (s Storage) runGc(now time.Time) {
	slog.Info("Running job history GC")
	if _, err := s.stmtHistoryDeleteTtl.Stmt.Exec(storage.NewTimestamp(now)); err != nil {
		slog.Error("Unable to run job history GC", "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `pk, id, device_id, target, account, status, status_detail, reported_version,
	used_versions, upgrade_path, update_applied_token, timestamp, ttl`

const historyColumns = `archive_key, id, device_id, target, account, status, status_detail, reported_version,
	used_versions, upgrade_path, '', timestamp, ttl`

func scanJob(row rowScanner) (*storage.Job, error) {
	var (
		job         storage.Job
		used, paths string
	)
	err := row.Scan(
		&job.Pk,
		&job.Id,
		&job.DeviceId,
		&job.Target,
		&job.Account,
		&job.Status,
		&job.StatusDetail,
		&job.ReportedVersion,
		&used,
		&paths,
		&job.UpdateAppliedToken,
		&job.Timestamp,
		&job.Ttl,
	)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(used), &job.UsedVersions); err != nil {
		return nil, fmt.Errorf("invalid used versions of job %s: %w", job.Id, err)
	}
	if err = json.Unmarshal([]byte(paths), &job.UpgradePath); err != nil {
		return nil, fmt.Errorf("invalid upgrade path of job %s: %w", job.Id, err)
	}
	return &job, nil
}

func marshalMaps(job storage.Job) (used, paths string, err error) {
	var buf []byte
	if buf, err = json.Marshal(job.UsedVersions); err != nil {
		return
	}
	used = string(buf)
	if buf, err = json.Marshal(job.UpgradePath); err != nil {
		return
	}
	paths = string(buf)
	return
}

type stmtJobCreate storage.DbStmt

func (s *stmtJobCreate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("jobCreate", `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	return
}

func (s *stmtJobCreate) run(tx *sql.Tx, job *storage.Job) error {
	used, paths, err := marshalMaps(*job)
	if err != nil {
		return err
	}
	_, err = tx.Stmt(s.Stmt).Exec(
		job.Pk,
		job.Id,
		job.DeviceId,
		job.Target,
		job.Account,
		job.Status,
		job.StatusDetail,
		job.ReportedVersion,
		used,
		paths,
		job.UpdateAppliedToken,
		job.Timestamp,
		job.Ttl,
	)
	return err
}

type stmtJobGetByKey storage.DbStmt

func (s *stmtJobGetByKey) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("jobGetByKey", `
		SELECT `+jobColumns+` FROM jobs WHERE pk = ?`,
	)
	return
}

type stmtJobGetById storage.DbStmt

func (s *stmtJobGetById) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("jobGetById", `
		SELECT `+jobColumns+` FROM jobs WHERE id = ?`,
	)
	return
}

type stmtHistoryGetById storage.DbStmt

func (s *stmtHistoryGetById) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("historyGetById", `
		SELECT `+historyColumns+` FROM job_history WHERE id = ?`,
	)
	return
}

type stmtHistoryGetByKey storage.DbStmt

func (s *stmtHistoryGetByKey) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("historyGetByKey", `
		SELECT `+historyColumns+` FROM job_history WHERE archive_key = ?`,
	)
	return
}

type stmtJobListByDevice storage.DbStmt

func (s *stmtJobListByDevice) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("jobListByDevice", `
		SELECT `+jobColumns+` FROM jobs WHERE device_id = ?
		UNION ALL
		SELECT `+historyColumns+` FROM job_history WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?`,
	)
	return
}

func (s *stmtJobListByDevice) run(deviceId string, limit int) ([]storage.Job, error) {
	rows, err := s.Stmt.Query(deviceId, deviceId, limit)
	if err != nil {
		return nil, err
	}
	defer storage.CloseRows("stmtJobListByDevice", rows)

	jobs := []storage.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type stmtJobUpdate storage.DbStmt

func (s *stmtJobUpdate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("jobUpdate", `
		UPDATE jobs
		SET status = ?, status_detail = ?, reported_version = ?, used_versions = ?, timestamp = ?
		WHERE pk = ? AND timestamp = ?`,
	)
	return
}

func (s *stmtJobUpdate) run(tx *sql.Tx, job storage.Job, expected storage.Timestamp) (sql.Result, error) {
	used, _, err := marshalMaps(job)
	if err != nil {
		return nil, err
	}
	return tx.Stmt(s.Stmt).Exec(
		job.Status,
		job.StatusDetail,
		job.ReportedVersion,
		used,
		job.Timestamp,
		job.Pk,
		expected,
	)
}

type stmtJobDelete storage.DbStmt

func (s *stmtJobDelete) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("jobDelete", `
		DELETE FROM jobs WHERE pk = ?`,
	)
	return
}

func (s *stmtJobDelete) run(tx *sql.Tx, pk string) (sql.Result, error) {
	return tx.Stmt(s.Stmt).Exec(pk)
}

type stmtJobSetToken storage.DbStmt

func (s *stmtJobSetToken) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("jobSetToken", `
		UPDATE jobs SET update_applied_token = ? WHERE pk = ?`,
	)
	return
}

type stmtHistoryCreate storage.DbStmt

func (s *stmtHistoryCreate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("historyCreate", `
		INSERT INTO job_history (archive_key, id, device_id, target, account, status, status_detail,
			reported_version, used_versions, upgrade_path, timestamp, ttl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	return
}

func (s *stmtHistoryCreate) run(tx *sql.Tx, job storage.Job) error {
	used, paths, err := marshalMaps(job)
	if err != nil {
		return err
	}
	_, err = tx.Stmt(s.Stmt).Exec(
		job.Pk,
		job.Id,
		job.DeviceId,
		job.Target,
		job.Account,
		job.Status,
		job.StatusDetail,
		job.ReportedVersion,
		used,
		paths,
		job.Timestamp,
		job.Ttl,
	)
	return err
}

type stmtHistoryDeleteTtl storage.DbStmt

func (s *stmtHistoryDeleteTtl) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("historyDeleteTtl", `
		DELETE FROM job_history WHERE ttl < ?`,
	)
	return
}
