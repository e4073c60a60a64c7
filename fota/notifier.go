// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fota

import (
	"fmt"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/notify"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/stream"
)

const notifierSubscriber = "fota-job-notifier"

// JobExecution is the event published when a job reaches a terminal status.
type JobExecution struct {
	JobId           string               `json:"jobId"`
	DeviceId        string               `json:"deviceId"`
	Target          storage.Target       `json:"target"`
	Status          storage.JobStatus    `json:"status"`
	StatusDetail    string               `json:"statusDetail"`
	ReportedVersion string               `json:"reportedVersion"`
	UsedVersions    storage.UsedVersions `json:"usedVersions"`
	Timestamp       storage.Timestamp    `json:"timestamp"`
}

type Notifier struct {
	sink notify.Sink
	seen cache.Cache[string, bool]
}

func NewNotifier(sink notify.Sink) *Notifier {
	return &Notifier{
		sink: sink,
		seen: cache.NewCache[string, bool]().WithTTL(10 * time.Minute).WithMaxKeys(10000),
	}
}

func (n *Notifier) Subscribe(changes *stream.Storage) {
	changes.Subscribe(notifierSubscriber, stream.KindJob, storage.TerminalJobStatuses, n.handle)
}

func (n *Notifier) handle(ctx context.Context, change stream.Change) error {
	c, ok := change.(stream.JobChange)
	if !ok {
		return fmt.Errorf("unexpected change %T", change)
	}
	key := c.Job.Id + "#" + string(c.Job.Status)
	if _, ok = n.seen.Get(key); ok {
		context.CtxGetLog(ctx).Debug("Job notification already sent", "job", c.Job.Id, "status", c.Job.Status)
		return nil
	}
	ev := notify.Event{
		Type:      notify.EventJobExecution,
		DeviceId:  c.Job.DeviceId,
		Timestamp: c.Job.Timestamp,
		Data: JobExecution{
			JobId:           c.Job.Id,
			DeviceId:        c.Job.DeviceId,
			Target:          c.Job.Target,
			Status:          c.Job.Status,
			StatusDetail:    c.Job.StatusDetail,
			ReportedVersion: c.Job.ReportedVersion,
			UsedVersions:    c.Job.UsedVersions,
			Timestamp:       c.Job.Timestamp,
		},
	}
	if err := n.sink.Publish(ctx, ev); err != nil {
		return err
	}
	n.seen.Set(key, true, 0)
	return nil
}
