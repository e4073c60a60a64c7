// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package history

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/lwm2m"
)

func TestPoints(t *testing.T) {
	at := time.Unix(1700000000, 0)
	points := Points("dev-1", lwm2m.Shadow{
		"14401:1.0": {"0": {"0": []any{"APP", "MODEM"}}},
		"14204:1.0": {"0": {"3": "1.1.0", "99": float64(1700000000000)}},
		"14240:1.0": {"0": {"1": nil}},
	}, at)
	require.Len(t, points, 2)

	lines := []string{
		write.PointToLineProtocol(points[0], time.Second),
		write.PointToLineProtocol(points[1], time.Second),
	}
	require.True(t, strings.HasPrefix(lines[0], "lwm2m,"))
	require.Contains(t, lines[0], "deviceId=dev-1")
	require.Contains(t, lines[0], "instance=0")
	require.Contains(t, lines[0], "object=14204:1.0")
	require.Contains(t, lines[0], `3="1.1.0"`)
	require.Contains(t, lines[0], " 1700000000")
	require.Contains(t, lines[1], "object=14401:1.0")
	require.Contains(t, lines[1], `0="[\"APP\",\"MODEM\"]"`)

	require.Empty(t, Points("dev-1", nil, at))
}
