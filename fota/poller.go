// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/foundriesio/dg-fota/config"
	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/nrfcloud"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/jobs"
)

const detailNotFound = "The job was not found on nRF Cloud. It may have been deleted."

// Poller refreshes the status of the open nRF Cloud jobs. Jobs are checked
// often while they are young and then once in a while.
type Poller struct {
	jobs    *jobs.Storage
	updater *Updater
	cfg     config.PollerConfig

	done chan struct{}
}

func NewPoller(jobs *jobs.Storage, api JobService, cfg config.PollerConfig) *Poller {
	return &Poller{
		jobs:    jobs,
		updater: &Updater{jobs: jobs, api: api, notFoundGrace: cfg.NotFoundGrace.Duration},
		cfg:     cfg,
	}
}

// Poll claims the jobs due at now and updates them. It returns the number of
// jobs it claimed.
func (p *Poller) Poll(ctx context.Context, now time.Time) (int, error) {
	due, err := p.jobs.NRFCloudJobListDue(storage.NewTimestamp(now), p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var (
		wg      sync.WaitGroup
		claimed int
		sem     = make(chan struct{}, p.cfg.Workers)
	)
	for _, job := range due {
		next := storage.NewTimestamp(now.Add(p.nextCheck(job, now)))
		ok, err := p.jobs.NRFCloudJobClaim(job.JobId, job.NextUpdateAt, next)
		if err != nil {
			slog.Error("Unable to claim nRF Cloud job", "nrfcloud_job", job.JobId, "error", err)
			continue
		} else if !ok {
			continue
		}
		claimed++
		sem <- struct{}{}
		wg.Add(1)
		go func(job storage.NRFCloudJob) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := p.updater.Update(ctx, job, now); err != nil {
				slog.Error("Unable to update nRF Cloud job", "nrfcloud_job", job.JobId, "error", err)
			}
		}(job)
	}
	wg.Wait()
	return claimed, nil
}

func (p *Poller) nextCheck(job storage.NRFCloudJob, now time.Time) time.Duration {
	if now.Sub(job.CreatedAt.ToTime()) < p.cfg.FreshAge.Duration {
		return p.cfg.FreshInterval.Duration
	}
	return p.cfg.StaleInterval.Duration
}

func (p *Poller) Start() {
	p.done = make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.Interval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := p.Poll(context.Background(), time.Now()); err != nil {
					slog.Error("Unable to poll nRF Cloud jobs", "error", err)
				}
			case <-p.done:
				slog.Info("Stopping nRF Cloud job poller")
				return
			}
		}
	}()
}

func (p *Poller) Stop() {
	close(p.done)
}

// Updater copies the state of one nRF Cloud job into the side table.
type Updater struct {
	jobs          *jobs.Storage
	api           JobService
	notFoundGrace time.Duration
}

func (u *Updater) Update(ctx context.Context, job storage.NRFCloudJob, now time.Time) error {
	log := context.CtxGetLog(ctx).With("nrfcloud_job", job.JobId, "account", job.Account)

	remote, err := u.api.GetJob(ctx, job.Account, job.JobId)
	if errors.Is(err, nrfcloud.ErrNotFound) && now.Sub(job.CreatedAt.ToTime()) > u.notFoundGrace {
		log.Warn("nRF Cloud job disappeared")
		job.Status = storage.NRFCloudJobFailed
		job.StatusDetail = detailNotFound
		job.LastUpdatedAt = storage.NewTimestamp(now)
		_, err = u.jobs.NRFCloudJobSetStatus(job)
		return err
	} else if err != nil {
		log.Warn("Unable to fetch nRF Cloud job, skipping", "error", err)
		return nil
	}

	update := job
	update.Status = storage.NRFCloudJobStatus(remote.Status)
	update.StatusDetail = remote.StatusDetail
	update.Firmware = rawString(remote.Firmware)
	update.Target = rawString(remote.Target)
	update.LastUpdatedAt = parseTimestamp(remote.LastUpdatedAt, now)
	if update.Status == job.Status && update.StatusDetail == job.StatusDetail &&
		update.Firmware == job.Firmware && update.Target == job.Target {
		log.Debug("nRF Cloud job unchanged")
		return nil
	}
	log.Info("nRF Cloud job changed", "from", job.Status, "to", update.Status)
	_, err = u.jobs.NRFCloudJobSetStatus(update)
	return err
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func parseTimestamp(value string, fallback time.Time) storage.Timestamp {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return storage.NewTimestamp(t)
	}
	return storage.NewTimestamp(fallback)
}
