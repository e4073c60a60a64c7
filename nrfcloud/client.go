// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package nrfcloud is a client of the nRF Cloud FOTA REST API.
package nrfcloud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/foundriesio/dg-fota/context"
)

var (
	// ErrTransient marks failures worth retrying: network errors, throttling
	// and server errors.
	ErrTransient     = errors.New("transient nRF Cloud error")
	ErrNotFound      = errors.New("not found on nRF Cloud")
	ErrNotConfigured = errors.New("nRF Cloud API is not configured")
)

// Settings of the nRF Cloud account a device belongs to.
type Settings struct {
	Endpoint string
	ApiKey   string
}

type SettingsProvider interface {
	Settings(ctx context.Context, account string) (*Settings, error)
}

// Error is a non 2xx answer of the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("nRF Cloud API returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("nRF Cloud API returned HTTP %d: %s", e.StatusCode, e.Message)
}

func (e Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrTransient:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

type Job struct {
	JobId         string          `json:"jobId"`
	Status        string          `json:"status"`
	StatusDetail  string          `json:"statusDetail,omitempty"`
	Firmware      json.RawMessage `json:"firmware,omitempty"`
	Target        json.RawMessage `json:"target,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	LastUpdatedAt string          `json:"lastUpdatedAt,omitempty"`
}

type Bundle struct {
	BundleId     string `json:"bundleId"`
	Type         string `json:"type"`
	Version      string `json:"version"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

type Client struct {
	settings SettingsProvider
	base     http.RoundTripper
	timeout  time.Duration
}

func NewClient(settings SettingsProvider, timeout time.Duration) *Client {
	return &Client{settings: settings, base: http.DefaultTransport, timeout: timeout}
}

// CreateJob starts a FOTA job applying bundleId to one device and returns
// the id of the job.
func (c Client) CreateJob(ctx context.Context, account, deviceId, bundleId string) (string, error) {
	req := struct {
		DeviceIdentifiers []string `json:"deviceIdentifiers"`
		BundleId          string   `json:"bundleId"`
	}{[]string{deviceId}, bundleId}
	var res struct {
		JobId string `json:"jobId"`
	}
	if err := c.do(ctx, account, http.MethodPost, "/v1/fota-jobs", req, &res); err != nil {
		return "", err
	}
	if res.JobId == "" {
		return "", errors.New("nRF Cloud API did not return a job id")
	}
	return res.JobId, nil
}

func (c Client) GetJob(ctx context.Context, account, jobId string) (*Job, error) {
	var job Job
	if err := c.do(ctx, account, http.MethodGet, "/v1/fota-jobs/"+url.PathEscape(jobId), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c Client) CancelJob(ctx context.Context, account, jobId string) error {
	return c.do(ctx, account, http.MethodPut, "/v1/fota-jobs/"+url.PathEscape(jobId)+"/cancel", nil, nil)
}

// ListBundles returns the firmware bundles of an account, most recently
// modified first.
func (c Client) ListBundles(ctx context.Context, account string) ([]Bundle, error) {
	bundles := []Bundle{}
	next := ""
	for {
		query := url.Values{"pageLimit": {"100"}}
		if next != "" {
			query.Set("pageNextToken", next)
		}
		var page struct {
			Items         []Bundle `json:"items"`
			PageNextToken string   `json:"pageNextToken"`
		}
		if err := c.do(ctx, account, http.MethodGet, "/v1/firmwares?"+query.Encode(), nil, &page); err != nil {
			return nil, err
		}
		bundles = append(bundles, page.Items...)
		if next = page.PageNextToken; next == "" {
			break
		}
	}
	sort.SliceStable(bundles, func(i, j int) bool {
		return bundles[i].LastModified > bundles[j].LastModified
	})
	return bundles, nil
}

func (c Client) do(ctx context.Context, account, method, path string, body, out any) error {
	settings, err := c.settings.Settings(ctx, account)
	if err != nil {
		return err
	} else if settings == nil || settings.ApiKey == "" {
		return fmt.Errorf("%w: nRF Cloud API key for %s is not configured.", ErrNotConfigured, account)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(settings.Endpoint, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: settings.ApiKey, TokenType: "Bearer"}),
			Base:   c.base,
		},
	}
	log := context.CtxGetLog(ctx).With("account", account, "method", method, "path", path)
	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		log.Warn("nRF Cloud request failed", "error", err)
		return fmt.Errorf("%w: %s", ErrTransient, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Warn("Unable to close response body", "error", err)
		}
	}()
	log.Debug("nRF Cloud request", "status", res.StatusCode, "duration", time.Since(start))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := Error{StatusCode: res.StatusCode}
		content, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var problem struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(content, &problem) == nil && problem.Message != "" {
			apiErr.Message = problem.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(content))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode nRF Cloud response: %w", err)
	}
	return nil
}
