// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package ingest applies the state reports of devices: the shadow is
// updated with what changed, the change is recorded and published, and the
// FOTA flows waiting on a new firmware version are resumed.
package ingest

import (
	"time"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/history"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/notify"
	"github.com/foundriesio/dg-fota/storage"
)

type ShadowStore interface {
	Update(ctx context.Context, deviceId string, reported lwm2m.Shadow) (lwm2m.Shadow, error)
	GetReportedState(ctx context.Context, deviceId string) (lwm2m.Shadow, error)
}

type ReportedStateHandler interface {
	HandleReportedState(ctx context.Context, deviceId string, delta, reported lwm2m.Shadow) error
}

type Pipeline struct {
	shadows ShadowStore
	history history.Writer
	sink    notify.Sink
	handler ReportedStateHandler
}

func NewPipeline(shadows ShadowStore, history history.Writer, sink notify.Sink, handler ReportedStateHandler) *Pipeline {
	return &Pipeline{shadows: shadows, history: history, sink: sink, handler: handler}
}

// Ingest applies a report and returns what changed, nil if nothing did.
// Only the shadow update is fatal, the later steps are logged.
func (p *Pipeline) Ingest(ctx context.Context, deviceId string, reported lwm2m.Shadow) (lwm2m.Shadow, error) {
	log := context.CtxGetLog(ctx).With("device", deviceId)
	delta, err := p.shadows.Update(ctx, deviceId, reported)
	if err != nil || delta == nil {
		return nil, err
	}

	now := time.Now()
	if err = p.history.Write(ctx, deviceId, delta, now); err != nil {
		log.Error("Unable to record shadow history", "error", err)
	}
	ev := notify.Event{
		Type:      notify.EventShadowUpdate,
		DeviceId:  deviceId,
		Timestamp: storage.NewTimestamp(now),
		Data:      delta,
	}
	if err = p.sink.Publish(ctx, ev); err != nil {
		log.Error("Unable to publish shadow update", "error", err)
	}

	full, err := p.shadows.GetReportedState(ctx, deviceId)
	if err != nil {
		log.Error("Unable to read reported state", "error", err)
		return delta, nil
	}
	if err = p.handler.HandleReportedState(ctx, deviceId, delta, full); err != nil {
		log.Error("Unable to resume FOTA flows", "error", err)
	}
	return delta, nil
}
