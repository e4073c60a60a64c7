// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package shadows

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/storage"
)

var ErrDeviceNotFound = errors.New("device not found")

// Document is the stored shadow of a device.
type Document struct {
	lwm2m.ShadowDocument
	Version   int               `json:"version"`
	UpdatedAt storage.Timestamp `json:"updatedAt"`
}

type Storage struct {
	fs *storage.FsHandle
	mu sync.Mutex
}

func NewStorage(fs *storage.FsHandle) *Storage {
	return &Storage{fs: fs}
}

func (s *Storage) Get(ctx context.Context, deviceId string) (*Document, error) {
	var doc Document
	if err := s.fs.Devices.ReadAsJson(deviceId, storage.ShadowFile, &doc); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceId)
	} else if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetReportedState returns what the device last reported.
func (s *Storage) GetReportedState(ctx context.Context, deviceId string) (lwm2m.Shadow, error) {
	doc, err := s.Get(ctx, deviceId)
	if err != nil {
		return nil, err
	}
	return doc.Reported, nil
}

// Update applies a reported state. Only what differs from the stored state
// is written; the applied delta is returned, nil when nothing changed.
func (s *Storage) Update(ctx context.Context, deviceId string, reported lwm2m.Shadow) (lwm2m.Shadow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.getOrNew(ctx, deviceId)
	if err != nil {
		return nil, err
	}
	delta := lwm2m.Diff(doc.Reported, reported)
	if delta == nil {
		context.CtxGetLog(ctx).Debug("Shadow update without changes", "device", deviceId)
		return nil, nil
	}
	doc.Reported = lwm2m.Merge(doc.Reported, delta)
	if err = s.save(deviceId, doc); err != nil {
		return nil, err
	}
	return delta, nil
}

// SetDesiredState merges partial into the desired state of a device.
func (s *Storage) SetDesiredState(ctx context.Context, deviceId string, partial lwm2m.Shadow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Get(ctx, deviceId)
	if err != nil {
		return err
	}
	doc.Desired = lwm2m.Merge(doc.Desired, partial)
	return s.save(deviceId, doc)
}

func (s *Storage) getOrNew(ctx context.Context, deviceId string) (*Document, error) {
	doc, err := s.Get(ctx, deviceId)
	if errors.Is(err, ErrDeviceNotFound) {
		return &Document{}, nil
	}
	return doc, err
}

func (s *Storage) save(deviceId string, doc *Document) error {
	doc.Version++
	doc.UpdatedAt = storage.Now()
	return s.fs.Devices.WriteAsJson(deviceId, storage.ShadowFile, doc)
}
