// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foundriesio/dg-fota/config"
	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/nrfcloud"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/jobs"
	"github.com/foundriesio/dg-fota/workflow"
)

const FlowName = "MultiBundleFOTA"

const (
	StateGetDeviceFirmwareDetails = "GetDeviceFirmwareDetails"
	StateGetNextBundle            = "GetNextBundle"
	StateNoMoreBundles            = "NoMoreBundles"
	StateCreateFOTAJob            = "CreateFOTAJob"
	StatePersistJobDetails        = "PersistJobDetails"
	StateWaitForUpdate            = "WaitForUpdate"

	WaitFOTAJobCompletion = "FOTAJobCompletion"
	WaitUpdateApplied     = "UpdateApplied"
)

const (
	detailCreated   = "The job has been created"
	detailFailed    = "Job execution failed."
	detailTimedOut  = "The job timed out."
	detailCancelled = "The job was cancelled."
)

var ErrNotDeviceJob = errors.New("job does not belong to the device")

// JobService is the part of the nRF Cloud API the flow needs.
type JobService interface {
	CreateJob(ctx context.Context, account, deviceId, bundleId string) (string, error)
	GetJob(ctx context.Context, account, jobId string) (*nrfcloud.Job, error)
	CancelJob(ctx context.Context, account, jobId string) error
}

type StartRequest struct {
	DeviceId    string
	Account     string
	UpgradePath storage.UpgradePath
}

// flowData is what an execution carries from state to state.
type flowData struct {
	JobId         string         `json:"jobId"`
	DeviceId      string         `json:"deviceId"`
	Account       string         `json:"account"`
	Target        storage.Target `json:"target"`
	Upgrade       Upgrade        `json:"upgrade"`
	NRFCloudJobId string         `json:"nrfcloudJobId,omitempty"`
}

func (d flowData) pk() string {
	return storage.JobKey(d.DeviceId, d.Target)
}

// Orchestrator drives a multi-bundle upgrade: it applies one bundle after
// the other until the upgrade path has nothing left for the version the
// device reports.
type Orchestrator struct {
	engine   *workflow.Engine
	jobs     *jobs.Storage
	reader   DeviceStateReader
	resolver *FirmwareResolver
	api      JobService
	cfg      config.FlowConfig
}

func NewOrchestrator(engine *workflow.Engine, jobs *jobs.Storage, reader DeviceStateReader, api JobService, cfg config.FlowConfig) (*Orchestrator, error) {
	o := &Orchestrator{
		engine:   engine,
		jobs:     jobs,
		reader:   reader,
		resolver: NewFirmwareResolver(reader),
		api:      api,
		cfg:      cfg,
	}
	err := engine.Register(&workflow.Definition{
		Name:    FlowName,
		StartAt: StateGetDeviceFirmwareDetails,
		Timeout: cfg.Timeout.Duration,
		OnFail:  o.onFail,
		States: []workflow.State{
			state{StateGetDeviceFirmwareDetails, o.getDeviceFirmwareDetails},
			state{StateGetNextBundle, o.getNextBundle},
			state{StateNoMoreBundles, o.noMoreBundles},
			state{StateCreateFOTAJob, o.createFOTAJob},
			state{StatePersistJobDetails, o.persistJobDetails},
			state{StateWaitForUpdate, o.waitForUpdate},
		},
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Start validates a request against the device state, creates its job and
// starts the flow applying it.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*storage.Job, error) {
	details, err := o.resolver.Resolve(ctx, req.DeviceId)
	if err != nil {
		return nil, err
	}
	target, err := ValidateUpgradePath(req.UpgradePath)
	if err != nil {
		return nil, err
	}
	if _, err = NextBundle(req.UpgradePath, *details, nil); err != nil {
		return nil, err
	}

	job := storage.Job{
		Id:              uuid.Must(uuid.NewV7()).String(),
		DeviceId:        req.DeviceId,
		Target:          target,
		Account:         req.Account,
		Status:          storage.JobStatusNew,
		StatusDetail:    detailCreated,
		ReportedVersion: details.Version(target),
		UsedVersions:    storage.UsedVersions{},
		UpgradePath:     req.UpgradePath,
	}
	if err = o.jobs.JobCreate(&job); err != nil {
		return nil, err
	}

	data := flowData{JobId: job.Id, DeviceId: job.DeviceId, Account: job.Account, Target: job.Target}
	if err = o.engine.Start(ctx, FlowName, job.Id, data); err != nil {
		if _, ferr := o.jobs.JobUpdate(storage.JobUpdate{Status: storage.JobStatusFailed, StatusDetail: detailFailed}, job); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return nil, fmt.Errorf("unable to start job %s: %w", job.Id, err)
	}
	context.CtxGetLog(ctx).Info("Started FOTA job", "job", job.Id, "device", job.DeviceId, "target", job.Target)
	return &job, nil
}

// Abort cancels the running flow of a job of a device.
func (o *Orchestrator) Abort(ctx context.Context, deviceId, jobId string) error {
	rec, err := o.engine.Describe(jobId)
	if err != nil {
		return err
	} else if rec == nil {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobId)
	}
	var data flowData
	if err = json.Unmarshal(rec.Data, &data); err != nil {
		return fmt.Errorf("invalid data of execution %s: %w", jobId, err)
	}
	if data.DeviceId != deviceId {
		return fmt.Errorf("%w: %s", ErrNotDeviceJob, jobId)
	}
	if rec.Status != storage.ExecutionRunning {
		return fmt.Errorf("%w: %s is %s", workflow.ErrNotRunning, jobId, rec.Status)
	}
	return o.engine.Abort(ctx, jobId, detailCancelled)
}

func (o *Orchestrator) getDeviceFirmwareDetails(ctx context.Context, exec *workflow.Execution) (string, error) {
	var data flowData
	if err := exec.Load(&data); err != nil {
		return "", err
	}
	details, err := o.resolver.Resolve(ctx, data.DeviceId)
	if err != nil {
		return "", err
	}
	if details.Version(data.Target) == "" {
		return "", fmt.Errorf("%w for target %s", ErrNoFirmwareVersion, data.Target)
	}
	return StateGetNextBundle, nil
}

func (o *Orchestrator) getNextBundle(ctx context.Context, exec *workflow.Execution) (string, error) {
	var data flowData
	if err := exec.Load(&data); err != nil {
		return "", err
	}
	job, err := o.activeJob(data)
	if err != nil {
		return "", err
	}
	details, err := o.resolver.Resolve(ctx, data.DeviceId)
	if err != nil {
		return "", err
	}
	upgrade, err := NextBundle(job.UpgradePath, *details, job.UsedVersions)
	if err != nil {
		return "", err
	}
	data.Upgrade = upgrade
	data.NRFCloudJobId = ""
	if err = exec.Store(data); err != nil {
		return "", err
	}
	if upgrade.BundleId == "" {
		return StateNoMoreBundles, nil
	}
	context.CtxGetLog(ctx).Info("Next bundle", "version", upgrade.ReportedVersion, "bundle", upgrade.BundleId)
	return StateCreateFOTAJob, nil
}

func (o *Orchestrator) noMoreBundles(ctx context.Context, exec *workflow.Execution) (string, error) {
	var data flowData
	if err := exec.Load(&data); err != nil {
		return "", err
	}
	job, err := o.activeJob(data)
	if err != nil {
		return "", err
	}
	_, err = o.jobs.JobUpdate(storage.JobUpdate{
		Status:          storage.JobStatusSucceeded,
		StatusDetail:    fmt.Sprintf("No more bundles to apply for %s. Job completed.", data.Upgrade.ReportedVersion),
		ReportedVersion: data.Upgrade.ReportedVersion,
	}, *job)
	if err != nil {
		return "", err
	}
	return workflow.End, nil
}

func (o *Orchestrator) createFOTAJob(ctx context.Context, exec *workflow.Execution) (string, error) {
	var data flowData
	if err := exec.Load(&data); err != nil {
		return "", err
	}
	log := context.CtxGetLog(ctx)
	backoff := o.cfg.CreateJobBackoff.Duration
	for attempt := 1; ; attempt++ {
		jobId, err := o.api.CreateJob(ctx, data.Account, data.DeviceId, data.Upgrade.BundleId)
		if err == nil {
			log.Info("Created nRF Cloud job", "nrfcloud_job", jobId, "bundle", data.Upgrade.BundleId)
			data.NRFCloudJobId = jobId
			return StatePersistJobDetails, exec.Store(data)
		}
		if !errors.Is(err, nrfcloud.ErrTransient) || attempt >= o.cfg.CreateJobAttempts {
			log.Warn("Unable to create nRF Cloud job", "attempt", attempt, "error", err)
			return "", createJobError(data.Account, err)
		}
		log.Warn("Retrying nRF Cloud job creation", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
}

func createJobError(account string, err error) error {
	if errors.Is(err, nrfcloud.ErrNotConfigured) {
		return fmt.Errorf("nRF Cloud API key for %s is not configured.", account)
	}
	msg := err.Error()
	var apiErr nrfcloud.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return fmt.Errorf("Failed to create job: %s.", msg)
}

func (o *Orchestrator) persistJobDetails(ctx context.Context, exec *workflow.Execution) (string, error) {
	var data flowData
	if err := exec.Load(&data); err != nil {
		return "", err
	}
	now := storage.Now()
	err := o.jobs.NRFCloudJobCreate(&storage.NRFCloudJob{
		JobId:         data.NRFCloudJobId,
		ParentJobId:   data.JobId,
		Account:       data.Account,
		DeviceId:      data.DeviceId,
		Status:        storage.NRFCloudJobQueued,
		CreatedAt:     now,
		LastUpdatedAt: now,
		NextUpdateAt:  now,
	})
	if err != nil && !errors.Is(err, jobs.ErrNRFCloudJobExists) {
		return "", err
	}

	job, err := o.activeJob(data)
	if err != nil {
		return "", err
	}
	version, bundle := data.Upgrade.ReportedVersion, data.Upgrade.BundleId
	if job.UsedVersions[version] == bundle && job.Status == storage.JobStatusInProgress {
		return StateWaitForUpdate, nil
	}
	_, err = o.jobs.JobUpdate(storage.JobUpdate{
		Status:          storage.JobStatusInProgress,
		StatusDetail:    fmt.Sprintf("Started job for version %s with bundle %s.", version, bundle),
		ReportedVersion: version,
		UsedVersions:    storage.UsedVersions{version: bundle},
	}, *job)
	if err != nil {
		return "", err
	}
	return StateWaitForUpdate, nil
}

// waitForUpdate suspends until the nRF Cloud job is done and the device
// reports the firmware version the bundle installed. The events may have
// happened already, so each wait is checked right after its token is stored.
func (o *Orchestrator) waitForUpdate(ctx context.Context, exec *workflow.Execution) (string, error) {
	var data flowData
	if err := exec.Load(&data); err != nil {
		return "", err
	}
	opened := false

	completion, err := exec.Wait(WaitFOTAJobCompletion)
	if err != nil {
		return "", err
	} else if completion == nil {
		if err = o.awaitJobCompletion(exec, data); err != nil {
			return "", err
		}
		opened = true
	}

	applied, err := exec.Wait(WaitUpdateApplied)
	if err != nil {
		return "", err
	} else if applied == nil {
		if err = o.awaitUpdateApplied(ctx, exec, data); err != nil {
			return "", err
		}
		opened = true
	}

	if opened {
		return workflow.Suspend, nil
	}
	context.CtxGetLog(ctx).Info("Bundle applied", "bundle", data.Upgrade.BundleId)
	return StateGetNextBundle, nil
}

func (o *Orchestrator) awaitJobCompletion(exec *workflow.Execution, data flowData) error {
	token, err := exec.Await(WaitFOTAJobCompletion, o.cfg.JobCompletionTimeout.Duration)
	if err != nil {
		return err
	}
	job, err := o.jobs.NRFCloudJobSetCompletionToken(data.NRFCloudJobId, token)
	if err != nil {
		return err
	}
	if job.Status.IsSuccess() {
		return exec.Complete(token, job.Status)
	} else if job.Status.IsTerminal() {
		return exec.Reject(token, workflow.ErrorTaskFailed, jobFailedCause(job))
	}
	return nil
}

func (o *Orchestrator) awaitUpdateApplied(ctx context.Context, exec *workflow.Execution, data flowData) error {
	token, err := exec.Await(WaitUpdateApplied, o.cfg.UpdateAppliedTimeout.Duration)
	if err != nil {
		return err
	}
	if err = o.jobs.JobSetUpdateAppliedToken(data.pk(), token); err != nil {
		return err
	}
	reported, err := o.reader.GetReportedState(ctx, data.DeviceId)
	if err != nil {
		return nil
	}
	if version := appliedVersion(reported, data.Target, data.Upgrade.ReportedVersion, data.Upgrade.BundleId); version != "" {
		return exec.Complete(token, version)
	}
	return nil
}

func jobFailedCause(job *storage.NRFCloudJob) string {
	return fmt.Sprintf("Job %s failed with status %s", job.JobId, job.Status)
}

// onFail moves the job of a failed execution to FAILED. A job which already
// left its slot was handled by an earlier call.
func (o *Orchestrator) onFail(ctx context.Context, exec *workflow.Execution) error {
	log := context.CtxGetLog(ctx)
	var data flowData
	if err := exec.Load(&data); err != nil {
		return fmt.Errorf("unable to read flow data: %w", err)
	}

	var detail string
	switch exec.Status() {
	case storage.ExecutionTimedOut:
		detail = detailTimedOut
	case storage.ExecutionAborted:
		detail = detailCancelled
		o.cancelOpenJobs(ctx, data)
	default:
		if detail = exec.Cause(); detail == "" {
			detail = detailFailed
		}
	}

	job, err := o.jobs.JobGetByKey(data.pk())
	if err != nil {
		return fmt.Errorf("unable to read job %s: %w", data.JobId, err)
	} else if job == nil || job.Id != data.JobId {
		log.Warn("Job of failed execution is not active", "job", data.JobId)
		return nil
	}
	if _, err = o.jobs.JobUpdate(storage.JobUpdate{Status: storage.JobStatusFailed, StatusDetail: detail}, *job); err != nil {
		return fmt.Errorf("unable to mark job %s as failed: %w", data.JobId, err)
	}
	log.Info("FOTA job failed", "job", data.JobId, "detail", detail)
	return nil
}

func (o *Orchestrator) cancelOpenJobs(ctx context.Context, data flowData) {
	log := context.CtxGetLog(ctx)
	open, err := o.jobs.NRFCloudJobListByParent(data.JobId)
	if err != nil {
		log.Error("Unable to list nRF Cloud jobs", "job", data.JobId, "error", err)
		return
	}
	for _, job := range open {
		if job.Status.IsTerminal() {
			continue
		}
		if err = o.api.CancelJob(ctx, job.Account, job.JobId); err != nil {
			log.Error("Unable to cancel nRF Cloud job", "nrfcloud_job", job.JobId, "error", err)
		} else {
			log.Info("Cancelled nRF Cloud job", "nrfcloud_job", job.JobId)
		}
	}
}

// activeJob returns the job of the flow, which must still hold its slot.
func (o *Orchestrator) activeJob(data flowData) (*storage.Job, error) {
	job, err := o.jobs.JobGetByKey(data.pk())
	if err != nil {
		return nil, err
	} else if job == nil || job.Id != data.JobId {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, data.JobId)
	}
	return job, nil
}

type state struct {
	name string
	fn   func(ctx context.Context, exec *workflow.Execution) (string, error)
}

func (s state) Name() string {
	return s.name
}

func (s state) Execute(ctx context.Context, exec *workflow.Execution) (string, error) {
	return s.fn(ctx, exec)
}
