// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/server/api/docs"
)

// @Summary Stream job and shadow notifications over a WebSocket
// @Param   deviceId query string false "Only events of this device"
// @Success 101
// @Router  /ws [get]
func (h *handlers) notifications(c echo.Context) error {
	// The hub answers the handshake itself, including its failures.
	return h.Hub.Serve(c.Response(), c.Request(), c.QueryParam("deviceId"))
}

// @Summary OpenAPI description of this API
// @Produce json
// @Success 200
// @Router  /swagger.json [get]
func (h *handlers) swagger(c echo.Context) error {
	doc, err := docs.ReadDoc()
	if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to render API description")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, []byte(doc))
}
