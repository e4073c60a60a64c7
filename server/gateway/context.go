// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package gateway

import (
	"github.com/foundriesio/dg-fota/context"
)

type (
	Context = context.Context
	ctxKey  int
)

var (
	CtxGetLog  = context.CtxGetLog
	CtxWithLog = context.CtxWithLog
)

const (
	ctxKeyDeviceId ctxKey = iota
)

func CtxGetDeviceId(ctx Context) string {
	return ctx.Value(ctxKeyDeviceId).(string)
}

func CtxWithDeviceId(ctx Context, deviceId string) Context {
	return context.WithValue(ctx, ctxKeyDeviceId, deviceId)
}
