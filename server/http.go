// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/foundriesio/dg-fota/context"
)

type Server struct {
	context context.Context
	echo    *echo.Echo
	server  *http.Server
	tls     bool
}

func NewServer(ctx context.Context, echo *echo.Echo, port uint16) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{context: ctx, echo: echo, server: srv}
}

// NewTlsServer serves with the certificates of tlsConfig. Echo switches to its
// TLS listener when the server has a TLSConfig.
func NewTlsServer(ctx context.Context, echo *echo.Echo, port uint16, tlsConfig *tls.Config) *Server {
	s := NewServer(ctx, echo, port)
	s.server.TLSConfig = tlsConfig
	s.tls = true
	return s
}

// Start serves in the background. A failure to serve is sent to quit.
func (s *Server) Start(quit chan error) {
	go func() {
		if err := s.echo.StartServer(s.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			quit <- err
		}
	}()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.context, timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// GetAddress returns the listening address, once Start bound it.
func (s *Server) GetAddress() string {
	l := s.echo.Listener
	if s.tls {
		l = s.echo.TLSListener
	}
	if l != nil {
		return l.Addr().String()
	}
	return ""
}
