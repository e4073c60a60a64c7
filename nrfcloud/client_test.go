// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package nrfcloud

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/context"
)

type staticSettings map[string]*Settings

func (s staticSettings) Settings(ctx context.Context, account string) (*Settings, error) {
	return s[account], nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(staticSettings{"nordic": {Endpoint: srv.URL + "/", ApiKey: "secret"}}, 5*time.Second)
}

func TestCreateJob(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/fota-jobs", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.Nil(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "APP*1e29dfa3*v2.0.1", body["bundleId"])
		require.Equal(t, []any{"dev-1"}, body["deviceIdentifiers"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"jobId":"nrf-1"}`))
	})
	jobId, err := c.CreateJob(context.Background(), "nordic", "dev-1", "APP*1e29dfa3*v2.0.1")
	require.Nil(t, err)
	require.Equal(t, "nrf-1", jobId)

	_, err = c.CreateJob(context.Background(), "other", "dev-1", "APP*1e29dfa3*v2.0.1")
	require.True(t, errors.Is(err, ErrNotConfigured))
	require.Contains(t, err.Error(), "nRF Cloud API key for other is not configured.")
}

func TestErrors(t *testing.T) {
	status := http.StatusBadRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":40001,"message":"Bundle does not exist"}`))
	})
	ctx := context.Background()

	_, err := c.CreateJob(ctx, "nordic", "dev-1", "APP*x*v1.0.0")
	var apiErr Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "Bundle does not exist", apiErr.Message)
	require.False(t, errors.Is(err, ErrTransient))
	require.False(t, errors.Is(err, ErrNotFound))

	status = http.StatusServiceUnavailable
	_, err = c.CreateJob(ctx, "nordic", "dev-1", "APP*x*v1.0.0")
	require.True(t, errors.Is(err, ErrTransient))

	status = http.StatusTooManyRequests
	_, err = c.GetJob(ctx, "nordic", "nrf-1")
	require.True(t, errors.Is(err, ErrTransient))

	status = http.StatusNotFound
	_, err = c.GetJob(ctx, "nordic", "nrf-1")
	require.True(t, errors.Is(err, ErrNotFound))

	unreachable := NewClient(staticSettings{"nordic": {Endpoint: "http://127.0.0.1:1", ApiKey: "k"}}, time.Second)
	_, err = unreachable.GetJob(ctx, "nordic", "nrf-1")
	require.True(t, errors.Is(err, ErrTransient))
}

func TestGetAndCancelJob(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/fota-jobs/nrf-1":
			_, _ = w.Write([]byte(`{
				"jobId": "nrf-1",
				"status": "IN_PROGRESS",
				"statusDetail": "downloading",
				"firmware": {"bundleId": "APP*1e29dfa3*v2.0.1"},
				"target": {"deviceIds": ["dev-1"]},
				"lastUpdatedAt": "2024-05-01T10:00:00.000Z"
			}`))
		case r.Method == http.MethodPut && r.URL.Path == "/v1/fota-jobs/nrf-1/cancel":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})
	ctx := context.Background()

	job, err := c.GetJob(ctx, "nordic", "nrf-1")
	require.Nil(t, err)
	require.Equal(t, "IN_PROGRESS", job.Status)
	require.Equal(t, "downloading", job.StatusDetail)
	require.JSONEq(t, `{"bundleId": "APP*1e29dfa3*v2.0.1"}`, string(job.Firmware))
	require.Equal(t, "2024-05-01T10:00:00.000Z", job.LastUpdatedAt)

	require.Nil(t, c.CancelJob(ctx, "nordic", "nrf-1"))
}

func TestListBundles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/firmwares", r.URL.Path)
		require.Equal(t, "100", r.URL.Query().Get("pageLimit"))
		if r.URL.Query().Get("pageNextToken") == "" {
			_, _ = w.Write([]byte(`{"items": [
				{"bundleId": "APP*a*v1.0.0", "type": "APP", "version": "1.0.0", "lastModified": "2024-01-01T00:00:00Z"},
				{"bundleId": "APP*b*v1.1.0", "type": "APP", "version": "1.1.0", "lastModified": "2024-03-01T00:00:00Z"}
			], "pageNextToken": "page2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"items": [
			{"bundleId": "MODEM*c*mfw_nrf91x1_2.0.1", "type": "MODEM", "version": "2.0.1", "lastModified": "2024-02-01T00:00:00Z"}
		]}`))
	})

	bundles, err := c.ListBundles(context.Background(), "nordic")
	require.Nil(t, err)
	require.Len(t, bundles, 3)
	require.Equal(t, "APP*b*v1.1.0", bundles[0].BundleId)
	require.Equal(t, "MODEM*c*mfw_nrf91x1_2.0.1", bundles[1].BundleId)
	require.Equal(t, "APP*a*v1.0.0", bundles[2].BundleId)
}
