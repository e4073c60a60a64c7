// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/storage/shadows"
)

// @Summary Get the shadow of a device
// @Produce json
// @Param   id path string true "Device id"
// @Success 200 {object} shadows.Document
// @Failure 404
// @Router  /device/{id}/shadow [get]
func (h *handlers) shadowGet(c echo.Context) error {
	doc, err := h.Shadows.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, shadows.ErrDeviceNotFound) {
		return EchoError(c, err, http.StatusNotFound, "Device not found")
	} else if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to look up device shadow")
	}
	return c.JSON(http.StatusOK, doc)
}

// @Summary Merge a partial desired state into the shadow of a device
// @Accept  json
// @Param   id path string true "Device id"
// @Param   desired body lwm2m.Shadow true "Partial desired state"
// @Success 204
// @Failure 400,404
// @Router  /device/{id}/shadow/desired [patch]
func (h *handlers) shadowSetDesired(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 256*1024))
	if err != nil {
		return EchoError(c, err, http.StatusBadRequest, "Could not read request")
	}
	var desired lwm2m.Shadow
	if err = validateJson(desiredStateSchema, body, &desired); err != nil {
		return EchoError(c, err, http.StatusBadRequest, err.Error())
	}

	err = h.Shadows.SetDesiredState(c.Request().Context(), c.Param("id"), desired)
	if errors.Is(err, shadows.ErrDeviceNotFound) {
		return EchoError(c, err, http.StatusNotFound, "Device not found")
	} else if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to update device shadow")
	}
	return c.NoContent(http.StatusNoContent)
}
