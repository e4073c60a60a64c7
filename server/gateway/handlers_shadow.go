// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/ingest"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/shadows"
)

const maxReportSize = 256 * 1024

type DeviceInfo struct {
	DeviceId  string            `json:"deviceId"`
	Version   int               `json:"shadowVersion"`
	UpdatedAt storage.Timestamp `json:"updatedAt"`
}

// @Summary Get server side information on the device
// @Produce json
// @Success 200 {object} DeviceInfo
// @Failure 404
// @Router  /device [get]
func (h handlers) deviceGet(c echo.Context) error {
	ctx := c.Request().Context()
	deviceId := CtxGetDeviceId(ctx)
	doc, err := h.shadows.Get(ctx, deviceId)
	if errors.Is(err, shadows.ErrDeviceNotFound) {
		return EchoError(c, err, http.StatusNotFound, "Device has not reported yet")
	} else if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to look up device")
	}
	return c.JSON(http.StatusOK, DeviceInfo{DeviceId: deviceId, Version: doc.Version, UpdatedAt: doc.UpdatedAt})
}

// @Summary Report the state of the device
// @Description The body is a list of LwM2M object instances or a {"reported": shadow} document.
// @Accept  json
// @Produce json
// @Success 200 {object} lwm2m.Shadow "The part of the report which changed the shadow"
// @Failure 400
// @Router  /device/shadow/reported [patch]
func (h handlers) shadowReport(c echo.Context) error {
	ctx := c.Request().Context()
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxReportSize+1))
	if err != nil {
		return EchoError(c, err, http.StatusBadRequest, "Could not read request")
	} else if len(body) > maxReportSize {
		return EchoError(c, nil, http.StatusRequestEntityTooLarge, "Report is too large")
	}
	reported, err := ingest.DecodeReport(body)
	if err != nil {
		return EchoError(c, err, http.StatusBadRequest, err.Error())
	}
	delta, err := h.ingester.Ingest(ctx, CtxGetDeviceId(ctx), reported)
	if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to apply report")
	}
	if delta == nil {
		delta = lwm2m.Shadow{}
	}
	return c.JSON(http.StatusOK, delta)
}

// @Summary Get the state the server wants the device in
// @Produce json
// @Success 200 {object} lwm2m.Shadow
// @Failure 404
// @Router  /device/shadow/desired [get]
func (h handlers) shadowDesired(c echo.Context) error {
	ctx := c.Request().Context()
	doc, err := h.shadows.Get(ctx, CtxGetDeviceId(ctx))
	if errors.Is(err, shadows.ErrDeviceNotFound) {
		return EchoError(c, err, http.StatusNotFound, "Device has not reported yet")
	} else if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to look up device shadow")
	}
	desired := doc.Desired
	if desired == nil {
		desired = lwm2m.Shadow{}
	}
	return c.JSON(http.StatusOK, desired)
}
