// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/fota"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/nrfcloud"
	"github.com/foundriesio/dg-fota/server"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/shadows"
)

//go:generate swag init --generalInfo handlers.go --output docs --outputTypes go

var EchoError = server.EchoError

type Orchestrator interface {
	Start(ctx context.Context, req fota.StartRequest) (*storage.Job, error)
	Abort(ctx context.Context, deviceId, jobId string) error
}

type JobLister interface {
	JobListByDevice(deviceId string, limit int) ([]storage.Job, error)
}

type ShadowStore interface {
	Get(ctx context.Context, deviceId string) (*shadows.Document, error)
	SetDesiredState(ctx context.Context, deviceId string, partial lwm2m.Shadow) error
}

type BundleLister interface {
	ListBundles(ctx context.Context, account string) ([]nrfcloud.Bundle, error)
}

type AccountStore interface {
	Set(name, endpoint, apiKey string) error
}

// WebSocketHub upgrades a request into a notification stream.
type WebSocketHub interface {
	Serve(w http.ResponseWriter, r *http.Request, deviceId string) error
}

type Services struct {
	Orchestrator Orchestrator
	Jobs         JobLister
	Shadows      ShadowStore
	Bundles      BundleLister
	Accounts     AccountStore
	Hub          WebSocketHub
}

type handlers struct {
	Services
}

func RegisterHandlers(e *echo.Echo, services Services) {
	h := handlers{Services: services}
	g := e.Group("/v1")
	g.GET("/swagger.json", h.swagger)

	g.POST("/device/:id/fota", h.fotaStart)
	g.GET("/device/:id/fota/jobs", h.fotaJobList)
	g.DELETE("/device/:id/fota/jobs/:job", h.fotaJobAbort)

	g.GET("/device/:id/shadow", h.shadowGet)
	g.PATCH("/device/:id/shadow/desired", h.shadowSetDesired)

	g.GET("/fota/bundles", h.bundleList)
	g.PUT("/accounts/:account", h.accountSet)

	g.GET("/ws", h.notifications)
}
