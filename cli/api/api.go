// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/foundriesio/dg-fota/cli/config"
)

type ctxKey int

const ContextKey ctxKey = iota

// HttpError is a non 2xx answer of the server.
type HttpError struct {
	Status  int
	Message string
}

func (e HttpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

type Api struct {
	url    string
	client *http.Client
}

func NewClient(ctx config.Context) *Api {
	client := &http.Client{Timeout: 30 * time.Second}
	if ctx.Token != "" {
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: ctx.Token, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}
	return &Api{url: strings.TrimRight(ctx.URL, "/"), client: client}
}

func CtxGetApi(ctx context.Context) *Api {
	return ctx.Value(ContextKey).(*Api)
}

func (a *Api) Get(resource string, out any) error {
	return a.Do(http.MethodGet, resource, nil, out)
}

func (a *Api) Post(resource string, body, out any) error {
	return a.Do(http.MethodPost, resource, body, out)
}

func (a *Api) Put(resource string, body any) error {
	return a.Do(http.MethodPut, resource, body, nil)
}

func (a *Api) Patch(resource string, body any) error {
	return a.Do(http.MethodPatch, resource, body, nil)
}

func (a *Api) Delete(resource string) error {
	return a.Do(http.MethodDelete, resource, nil, nil)
}

// Do sends body as JSON and decodes a JSON answer into out when out is set.
func (a *Api) Do(method, resource string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.url+resource, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", a.url, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Message == "" {
			msg.Message = strings.TrimSpace(string(data))
		}
		return HttpError{Status: res.StatusCode, Message: msg.Message}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err = json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
