// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/nrfcloud"
)

// @Summary List the firmware bundles of an nRF Cloud account, newest first
// @Produce json
// @Param   account query string true "nRF Cloud account"
// @Success 200 {array} nrfcloud.Bundle
// @Failure 400,502
// @Router  /fota/bundles [get]
func (h *handlers) bundleList(c echo.Context) error {
	account := c.QueryParam("account")
	if account == "" {
		return EchoError(c, nil, http.StatusBadRequest, "The account query parameter is required")
	}

	bundles, err := h.Bundles.ListBundles(c.Request().Context(), account)
	if err != nil {
		var apiErr nrfcloud.Error
		switch {
		case errors.Is(err, nrfcloud.ErrNotConfigured):
			return EchoError(c, err, http.StatusBadRequest, "nRF Cloud API key for "+account+" is not configured.")
		case errors.As(err, &apiErr):
			return EchoError(c, err, http.StatusBadGateway, "nRF Cloud rejected the request: "+apiErr.Message)
		default:
			return EchoError(c, err, http.StatusInternalServerError, "Failed to look up bundles")
		}
	}
	if bundles == nil {
		bundles = []nrfcloud.Bundle{}
	}
	return c.JSON(http.StatusOK, bundles)
}
