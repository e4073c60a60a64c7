// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/storage/accounts"
)

type AccountRequest struct {
	ApiEndpoint string `json:"apiEndpoint,omitempty"`
	ApiKey      string `json:"apiKey"`
}

// @Summary Configure the nRF Cloud API of an account
// @Accept  json
// @Param   account path string true "Account name"
// @Param   request body AccountRequest true "API endpoint and key"
// @Success 204
// @Failure 400
// @Router  /accounts/{account} [put]
func (h *handlers) accountSet(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 16*1024))
	if err != nil {
		return EchoError(c, err, http.StatusBadRequest, "Could not read request")
	}
	var req AccountRequest
	if err = validateJson(accountRequestSchema, body, &req); err != nil {
		return EchoError(c, err, http.StatusBadRequest, err.Error())
	}

	err = h.Accounts.Set(c.Param("account"), req.ApiEndpoint, req.ApiKey)
	if errors.Is(err, accounts.ErrInvalidAccount) {
		return EchoError(c, err, http.StatusBadRequest, err.Error())
	} else if err != nil {
		return EchoError(c, err, http.StatusInternalServerError, "Failed to store account")
	}
	return c.NoContent(http.StatusNoContent)
}
