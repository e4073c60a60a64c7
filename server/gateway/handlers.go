// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package gateway is the device facing API. Devices authenticate with a
// client certificate whose common name is their device id.
package gateway

import (
	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/server"
	"github.com/foundriesio/dg-fota/storage/shadows"
)

var EchoError = server.EchoError

// Ingester applies a state reported by a device.
type Ingester interface {
	Ingest(ctx context.Context, deviceId string, reported lwm2m.Shadow) (lwm2m.Shadow, error)
}

type ShadowReader interface {
	Get(ctx context.Context, deviceId string) (*shadows.Document, error)
}

type handlers struct {
	ingester Ingester
	shadows  ShadowReader
}

func RegisterHandlers(e *echo.Echo, ingester Ingester, shadows ShadowReader) {
	h := handlers{ingester: ingester, shadows: shadows}
	e.Use(authDevice)
	e.GET("/device", h.deviceGet)
	e.PATCH("/device/shadow/reported", h.shadowReport)
	e.GET("/device/shadow/desired", h.shadowDesired)
}
