// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package notify publishes device and job events to the configured buses
// and to the WebSocket clients of the API.
package notify

import (
	"errors"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/storage"
)

const (
	EventJobExecution = "JobExecution"
	EventShadowUpdate = "ShadowUpdate"
)

type Event struct {
	Type      string            `json:"type"`
	DeviceId  string            `json:"deviceId"`
	Timestamp storage.Timestamp `json:"timestamp"`
	Data      any               `json:"data"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every sink. A failing sink does not stop the others.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error {
	return nil
}
