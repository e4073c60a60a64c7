// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/fota"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/jobs"
	"github.com/foundriesio/dg-fota/storage/shadows"
	"github.com/foundriesio/dg-fota/workflow"
)

const maxJobListLimit = 100

type StartRequest struct {
	UpgradePath storage.UpgradePath `json:"upgradePath"`
	Account     string              `json:"account"`
}

// @Summary Start a multi-bundle FOTA job
// @Accept  json
// @Produce json
// @Param   id path string true "Device id"
// @Param   request body StartRequest true "Upgrade path and nRF Cloud account"
// @Success 201 {object} storage.Job
// @Failure 400,404,409
// @Router  /device/{id}/fota [post]
func (h *handlers) fotaStart(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64*1024))
	if err != nil {
		return EchoError(c, err, http.StatusBadRequest, "Could not read request")
	}
	var req StartRequest
	if err = validateJson(startRequestSchema, body, &req); err != nil {
		return EchoError(c, err, http.StatusBadRequest, err.Error())
	}

	job, err := h.Orchestrator.Start(c.Request().Context(), fota.StartRequest{
		DeviceId:    c.Param("id"),
		Account:     req.Account,
		UpgradePath: req.UpgradePath,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, job)
	case errors.Is(err, shadows.ErrDeviceNotFound):
		return EchoError(c, err, http.StatusNotFound, "Device not found")
	case errors.Is(err, jobs.ErrJobExists):
		return EchoError(c, err, http.StatusConflict, "A FOTA job is already in progress for this device")
	case errors.Is(err, fota.ErrFOTANotSupported),
		errors.Is(err, fota.ErrNoFirmwareVersion),
		errors.Is(err, fota.ErrInvalidUpgradePath),
		errors.Is(err, fota.ErrTargetNotSupported),
		errors.Is(err, fota.ErrMultipleTargets):
		return EchoError(c, err, http.StatusBadRequest, err.Error())
	default:
		return EchoError(c, err, http.StatusInternalServerError, "Failed to start FOTA job")
	}
}

// @Summary List the FOTA jobs of a device, newest first
// @Produce json
// @Param   id path string true "Device id"
// @Param   limit query int false "Maximum number of jobs"
// @Success 200 {array} storage.Job
// @Router  /device/{id}/fota/jobs [get]
func (h *handlers) fotaJobList(c echo.Context) error {
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return EchoError(c, err, http.StatusBadRequest, "Invalid limit")
		}
	}
	limit = min(limit, maxJobListLimit)

	list, err := h.Jobs.JobListByDevice(c.Param("id"), limit)
	if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to look up jobs")
	}
	if list == nil {
		list = []storage.Job{}
	}
	return c.JSON(http.StatusOK, list)
}

// @Summary Abort a running FOTA job
// @Param   id path string true "Device id"
// @Param   job path string true "Job id"
// @Success 202
// @Failure 403,404,409
// @Router  /device/{id}/fota/jobs/{job} [delete]
func (h *handlers) fotaJobAbort(c echo.Context) error {
	err := h.Orchestrator.Abort(c.Request().Context(), c.Param("id"), c.Param("job"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, fota.ErrNotDeviceJob):
		return EchoError(c, err, http.StatusForbidden, "The job does not belong to this device")
	case errors.Is(err, jobs.ErrJobNotFound):
		return EchoError(c, err, http.StatusNotFound, "Job not found")
	case errors.Is(err, workflow.ErrNotRunning):
		return EchoError(c, err, http.StatusConflict, "The job is not running")
	default:
		return EchoError(c, err, http.StatusInternalServerError, "Failed to abort job")
	}
}

func decodeJson(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
