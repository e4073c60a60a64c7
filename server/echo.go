// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"

	"github.com/foundriesio/dg-fota/context"
)

func NewEchoServer(name string, logger *slog.Logger) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true
	server.Use(contextLogger(logger))
	server.Use(middlewareLogger(name))
	server.Use(middleware.Recover())
	return server
}

func middlewareLogger(name string) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		HandleError:      true, // lets the error handler pick the status code before it is logged
		LogContentLength: true,
		LogError:         true,
		LogLatency:       true,
		LogMethod:        true,
		LogStatus:        true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("content-length", v.ContentLength),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			context.CtxGetLog(c.Request().Context()).LogAttrs(context.Background(), level, name, attrs...)
			return nil
		},
	})
}

func contextLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = random.String(12)
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)
			ctx := context.CtxWithLog(req.Context(), log.With("req_id", rid, "uri", req.RequestURI))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// EchoError logs err with the request logger and answers with msg. Internal
// errors never reach the client.
func EchoError(c echo.Context, err error, status int, msg string) error {
	log := context.CtxGetLog(c.Request().Context())
	if status >= 500 {
		log.Error(msg, "error", err, "status", status)
	} else {
		log.Info(msg, "error", err, "status", status)
	}
	if jerr := c.JSON(status, map[string]string{"message": msg}); jerr != nil {
		log.Error("Unable to send error response", "error", jerr)
	}
	return nil
}
