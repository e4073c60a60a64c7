// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package context

import (
	"context"
	"log/slog"
)

type (
	Context    = context.Context
	CancelFunc = context.CancelFunc
	ctxKey     int
)

var (
	Background  = context.Background
	WithCancel  = context.WithCancel
	WithTimeout = context.WithTimeout
	WithValue   = context.WithValue
)

const (
	ctxKeyLogger ctxKey = iota
)

// CtxGetLog returns the logger attached to ctx, or the default logger for
// contexts created outside a request (daemons, stream subscribers).
func CtxGetLog(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

func CtxWithLog(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, log)
}

// DetachedWithLog returns a background context carrying the logger of ctx.
// Work that outlives a request uses it so the request cancellation does not
// abort it half way.
func DetachedWithLog(ctx context.Context) context.Context {
	return CtxWithLog(context.Background(), CtxGetLog(ctx))
}
