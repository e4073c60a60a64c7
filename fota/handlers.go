// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"errors"
	"fmt"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/stream"
	"github.com/foundriesio/dg-fota/workflow"
)

const completionSubscriber = "fota-job-completion"

// SubscribeCompletion resumes the flows waiting on nRF Cloud jobs as those
// reach a terminal status.
func (o *Orchestrator) SubscribeCompletion(changes *stream.Storage) {
	changes.Subscribe(completionSubscriber, stream.KindNRFCloudJob, storage.TerminalNRFCloudJobStatuses, o.handleJobCompletion)
}

func (o *Orchestrator) handleJobCompletion(ctx context.Context, change stream.Change) error {
	c, ok := change.(stream.NRFCloudJobChange)
	if !ok {
		return fmt.Errorf("unexpected change %T", change)
	}
	log := context.CtxGetLog(ctx).With("nrfcloud_job", c.Job.JobId, "status", c.Job.Status)

	// The change image never carries the token, it is read from the row.
	job, err := o.jobs.NRFCloudJobGet(c.Job.JobId)
	if err != nil {
		return err
	} else if job == nil || job.CompletionToken == "" {
		log.Debug("No flow waiting for job completion")
		return nil
	}

	if c.Job.Status.IsSuccess() {
		err = o.engine.SendTaskSuccess(ctx, job.CompletionToken, c.Job.Status)
	} else {
		err = o.engine.SendTaskFailure(ctx, job.CompletionToken, workflow.ErrorTaskFailed, jobFailedCause(&c.Job))
	}
	if errors.Is(err, workflow.ErrTaskNotPending) || errors.Is(err, workflow.ErrTaskNotFound) {
		log.Debug("Job completion already handled")
		return nil
	}
	return err
}

// HandleReportedState resumes the flows of a device waiting for a firmware
// update to be applied. delta is what changed in the reported state, reported
// is the whole state after the change.
func (o *Orchestrator) HandleReportedState(ctx context.Context, deviceId string, delta, reported lwm2m.Shadow) error {
	if _, ok := delta[lwm2m.ObjectKey(lwm2m.ObjectDeviceInformation, lwm2m.DefaultObjectVersion)]; !ok {
		return nil
	}
	log := context.CtxGetLog(ctx).With("device", deviceId)

	var errs []error
	for _, target := range []storage.Target{storage.TargetApp, storage.TargetModem} {
		job, err := o.jobs.JobGetByKey(storage.JobKey(deviceId, target))
		if err != nil {
			errs = append(errs, err)
			continue
		} else if job == nil || job.UpdateAppliedToken == "" {
			continue
		}
		version := appliedVersion(reported, target, job.ReportedVersion, job.UsedVersions[job.ReportedVersion])
		if version == "" {
			continue
		}
		log.Info("Device applied an update", "job", job.Id, "from", job.ReportedVersion, "to", version)
		err = o.engine.SendTaskSuccess(ctx, job.UpdateAppliedToken, version)
		if err != nil && !errors.Is(err, workflow.ErrTaskNotPending) && !errors.Is(err, workflow.ErrTaskNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// appliedVersion returns the version reported for target once it is the one
// bundleId installs, or "". When the bundle id carries no version any version
// other than from counts as applied.
func appliedVersion(reported lwm2m.Shadow, target storage.Target, from, bundleId string) string {
	details, err := FirmwareDetails(reported)
	if err != nil {
		return ""
	}
	version := details.Version(target)
	if version == "" || version == from {
		return ""
	}
	if want := BundleVersion(bundleId); want != nil {
		if got := parseVersion(version); got == nil || !got.Equal(want) {
			return ""
		}
	}
	return version
}
