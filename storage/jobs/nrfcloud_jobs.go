// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package jobs

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/stream"
)

// NRFCloudJobCreate starts tracking a job created on nRF Cloud. Creating a
// job that is already tracked returns ErrNRFCloudJobExists.
func (s Storage) NRFCloudJobCreate(job *storage.NRFCloudJob) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if err := s.stmtNRFCloudJobCreate.run(tx, *job); err != nil {
			if err = storage.TranslateUnique(err); errors.Is(err, storage.ErrDbConstraintUnique) {
				return fmt.Errorf("%w: %s", ErrNRFCloudJobExists, job.JobId)
			}
			return fmt.Errorf("unable to track nRF Cloud job: %w", err)
		}
		return stream.Append(tx, stream.KindNRFCloudJob, job.JobId, string(job.Status), job)
	})
}

func (s Storage) NRFCloudJobGet(jobId string) (*storage.NRFCloudJob, error) {
	job, err := scanNRFCloudJob(s.stmtNRFCloudJobGet.Stmt.QueryRow(jobId))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// NRFCloudJobListDue returns open jobs whose next check is before now.
func (s Storage) NRFCloudJobListDue(now storage.Timestamp, limit int) ([]storage.NRFCloudJob, error) {
	return queryNRFCloudJobs("stmtNRFCloudJobListDue", s.stmtNRFCloudJobListDue.Stmt, now, limit)
}

func (s Storage) NRFCloudJobListByParent(parentJobId string) ([]storage.NRFCloudJob, error) {
	return queryNRFCloudJobs("stmtNRFCloudJobListByParent", s.stmtNRFCloudJobListByParent.Stmt, parentJobId)
}

// NRFCloudJobClaim moves the next check of a job from current to next. It
// returns false when another worker claimed the job first.
func (s Storage) NRFCloudJobClaim(jobId string, current, next storage.Timestamp) (bool, error) {
	err := storage.CheckAffected(s.stmtNRFCloudJobClaim.Stmt.Exec(next, jobId, current))
	if errors.Is(err, storage.ErrDbNoRowsAffected) {
		return false, nil
	}
	return err == nil, err
}

// NRFCloudJobSetStatus records the latest state reported by nRF Cloud and
// publishes the new image to the change stream.
func (s Storage) NRFCloudJobSetStatus(update storage.NRFCloudJob) (*storage.NRFCloudJob, error) {
	var job *storage.NRFCloudJob
	err := s.db.WithTx(func(tx *sql.Tx) error {
		err := storage.CheckAffected(tx.Stmt(s.stmtNRFCloudJobSetStatus.Stmt).Exec(
			update.Status,
			update.StatusDetail,
			update.Firmware,
			update.Target,
			update.LastUpdatedAt,
			update.JobId,
		))
		if errors.Is(err, storage.ErrDbNoRowsAffected) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, update.JobId)
		} else if err != nil {
			return fmt.Errorf("unable to update nRF Cloud job: %w", err)
		}
		if job, err = scanNRFCloudJob(tx.Stmt(s.stmtNRFCloudJobGet.Stmt).QueryRow(update.JobId)); err != nil {
			return err
		}
		return stream.Append(tx, stream.KindNRFCloudJob, job.JobId, string(job.Status), job)
	})
	return job, err
}

// NRFCloudJobSetCompletionToken stores the token resuming the flow once the
// job is terminal, and returns the job as stored.
func (s Storage) NRFCloudJobSetCompletionToken(jobId, token string) (*storage.NRFCloudJob, error) {
	var job *storage.NRFCloudJob
	err := s.db.WithTx(func(tx *sql.Tx) error {
		err := storage.CheckAffected(tx.Stmt(s.stmtNRFCloudJobSetToken.Stmt).Exec(token, jobId))
		if errors.Is(err, storage.ErrDbNoRowsAffected) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobId)
		} else if err != nil {
			return err
		}
		job, err = scanNRFCloudJob(tx.Stmt(s.stmtNRFCloudJobGet.Stmt).QueryRow(jobId))
		return err
	})
	return job, err
}

const nrfcloudJobColumns = `job_id, parent_job_id, account, device_id, status, status_detail, firmware,
	target, created_at, last_updated_at, next_update_at, completion_token`

func scanNRFCloudJob(row rowScanner) (*storage.NRFCloudJob, error) {
	var job storage.NRFCloudJob
	err := row.Scan(
		&job.JobId,
		&job.ParentJobId,
		&job.Account,
		&job.DeviceId,
		&job.Status,
		&job.StatusDetail,
		&job.Firmware,
		&job.Target,
		&job.CreatedAt,
		&job.LastUpdatedAt,
		&job.NextUpdateAt,
		&job.CompletionToken,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func queryNRFCloudJobs(name string, stmt *sql.Stmt, args ...any) ([]storage.NRFCloudJob, error) {
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer storage.CloseRows(name, rows)

	var jobs []storage.NRFCloudJob
	for rows.Next() {
		job, err := scanNRFCloudJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type stmtNRFCloudJobCreate storage.DbStmt

func (s *stmtNRFCloudJobCreate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("nrfcloudJobCreate", `
		INSERT INTO nrfcloud_jobs (`+nrfcloudJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	return
}

func (s *stmtNRFCloudJobCreate) run(tx *sql.Tx, job storage.NRFCloudJob) error {
	_, err := tx.Stmt(s.Stmt).Exec(
		job.JobId,
		job.ParentJobId,
		job.Account,
		job.DeviceId,
		job.Status,
		job.StatusDetail,
		job.Firmware,
		job.Target,
		job.CreatedAt,
		job.LastUpdatedAt,
		job.NextUpdateAt,
		job.CompletionToken,
	)
	return err
}

type stmtNRFCloudJobGet storage.DbStmt

func (s *stmtNRFCloudJobGet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("nrfcloudJobGet", `
		SELECT `+nrfcloudJobColumns+` FROM nrfcloud_jobs WHERE job_id = ?`,
	)
	return
}

type stmtNRFCloudJobListDue storage.DbStmt

func (s *stmtNRFCloudJobListDue) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("nrfcloudJobListDue", `
		SELECT `+nrfcloudJobColumns+` FROM nrfcloud_jobs
		WHERE status IN ('QUEUED', 'IN_PROGRESS', 'DOWNLOADING')
		AND next_update_at < ?
		ORDER BY next_update_at
		LIMIT ?`,
	)
	return
}

type stmtNRFCloudJobListByParent storage.DbStmt

func (s *stmtNRFCloudJobListByParent) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("nrfcloudJobListByParent", `
		SELECT `+nrfcloudJobColumns+` FROM nrfcloud_jobs
		WHERE parent_job_id = ?
		ORDER BY created_at, job_id`,
	)
	return
}

type stmtNRFCloudJobClaim storage.DbStmt

func (s *stmtNRFCloudJobClaim) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("nrfcloudJobClaim", `
		UPDATE nrfcloud_jobs SET next_update_at = ?
		WHERE job_id = ? AND next_update_at = ?`,
	)
	return
}

type stmtNRFCloudJobSetStatus storage.DbStmt

func (s *stmtNRFCloudJobSetStatus) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("nrfcloudJobSetStatus", `
		UPDATE nrfcloud_jobs
		SET status = ?, status_detail = ?, firmware = ?, target = ?, last_updated_at = ?
		WHERE job_id = ?`,
	)
	return
}

type stmtNRFCloudJobSetToken storage.DbStmt

func (s *stmtNRFCloudJobSetToken) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("nrfcloudJobSetToken", `
		UPDATE nrfcloud_jobs SET completion_token = ? WHERE job_id = ?`,
	)
	return
}
