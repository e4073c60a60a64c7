// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package gateway

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

func authDevice(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.TLS == nil || len(req.TLS.PeerCertificates) == 0 {
			return EchoError(c, errors.New("no client certificate"), http.StatusUnauthorized, "A client certificate is required")
		}
		deviceId := req.TLS.PeerCertificates[0].Subject.CommonName
		if deviceId == "" || deviceId != filepath.Base(deviceId) || deviceId == "." || deviceId == ".." {
			return EchoError(c, errors.New("invalid common name"), http.StatusForbidden, "Invalid device id in client certificate")
		}

		ctx := req.Context()
		log := CtxGetLog(ctx).With("device", deviceId)
		ctx = CtxWithLog(ctx, log)
		ctx = CtxWithDeviceId(ctx, deviceId)
		c.SetRequest(req.WithContext(ctx))

		return next(c)
	}
}
