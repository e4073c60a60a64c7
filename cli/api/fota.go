// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"fmt"
	"net/url"

	"github.com/foundriesio/dg-fota/nrfcloud"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/shadows"
)

type (
	Job            = storage.Job
	UpgradePath    = storage.UpgradePath
	Bundle         = nrfcloud.Bundle
	ShadowDocument = shadows.Document
)

type DeviceApi struct {
	api      *Api
	deviceId string
}

func (a *Api) Device(deviceId string) DeviceApi {
	return DeviceApi{api: a, deviceId: url.PathEscape(deviceId)}
}

func (d DeviceApi) StartFota(account string, path UpgradePath) (*Job, error) {
	var job Job
	req := map[string]any{"account": account, "upgradePath": path}
	return &job, d.api.Post("/v1/device/"+d.deviceId+"/fota", req, &job)
}

func (d DeviceApi) Jobs(limit int) ([]Job, error) {
	var jobs []Job
	return jobs, d.api.Get(fmt.Sprintf("/v1/device/%s/fota/jobs?limit=%d", d.deviceId, limit), &jobs)
}

func (d DeviceApi) AbortJob(jobId string) error {
	return d.api.Delete("/v1/device/" + d.deviceId + "/fota/jobs/" + url.PathEscape(jobId))
}

func (d DeviceApi) Shadow() (*ShadowDocument, error) {
	var doc ShadowDocument
	return &doc, d.api.Get("/v1/device/"+d.deviceId+"/shadow", &doc)
}

func (a *Api) Bundles(account string) ([]Bundle, error) {
	var bundles []Bundle
	return bundles, a.Get("/v1/fota/bundles?account="+url.QueryEscape(account), &bundles)
}

func (a *Api) SetAccount(name, endpoint, apiKey string) error {
	req := map[string]string{"apiKey": apiKey}
	if endpoint != "" {
		req["apiEndpoint"] = endpoint
	}
	return a.Put("/v1/accounts/"+url.PathEscape(name), req)
}
