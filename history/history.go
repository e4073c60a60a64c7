// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package history keeps the time series of the objects devices report.
package history

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/foundriesio/dg-fota/config"
	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/lwm2m"
)

const Measurement = "lwm2m"

type Writer interface {
	Write(ctx context.Context, deviceId string, delta lwm2m.Shadow, at time.Time) error
	Close()
}

type InfluxWriter struct {
	client influxdb2.Client
	api    api.WriteAPIBlocking
}

func NewInfluxWriter(cfg config.InfluxConfig) *InfluxWriter {
	client := influxdb2.NewClient(cfg.Url, cfg.Token)
	return &InfluxWriter{
		client: client,
		api:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (w *InfluxWriter) Write(ctx context.Context, deviceId string, delta lwm2m.Shadow, at time.Time) error {
	points := Points(deviceId, delta, at)
	if len(points) == 0 {
		return nil
	}
	if err := w.api.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("unable to write history of %s: %w", deviceId, err)
	}
	return nil
}

func (w *InfluxWriter) Close() {
	w.client.Close()
}

// Points converts a delta into one point per object instance. Resources
// holding lists or objects are stored as their JSON text.
func Points(deviceId string, delta lwm2m.Shadow, at time.Time) []*write.Point {
	var points []*write.Point
	for _, objKey := range sortedKeys(delta) {
		for _, instId := range sortedKeys(delta[objKey]) {
			fields := map[string]interface{}{}
			for resId, value := range delta[objKey][instId] {
				if v, ok := fieldValue(value); ok {
					fields[resId] = v
				}
			}
			if len(fields) == 0 {
				continue
			}
			tags := map[string]string{
				"deviceId": deviceId,
				"object":   objKey,
				"instance": instId,
			}
			points = append(points, write.NewPoint(Measurement, tags, fields, at))
		}
	}
	return points
}

func fieldValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case string, bool, float64, float32, int, int64, int32, uint, uint64:
		return v, true
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(buf), true
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Nop is used when no time series database is configured.
type Nop struct{}

func (Nop) Write(context.Context, string, lwm2m.Shadow, time.Time) error {
	return nil
}

func (Nop) Close() {}
