// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/lwm2m"
	"github.com/foundriesio/dg-fota/notify"
	"github.com/foundriesio/dg-fota/storage"
	"github.com/foundriesio/dg-fota/storage/shadows"
)

type fakeHistory struct {
	deltas []lwm2m.Shadow
}

func (h *fakeHistory) Write(ctx context.Context, deviceId string, delta lwm2m.Shadow, at time.Time) error {
	h.deltas = append(h.deltas, delta)
	return errors.New("influx unavailable")
}

func (h *fakeHistory) Close() {}

type fakeSink struct {
	events []notify.Event
}

func (s *fakeSink) Publish(ctx context.Context, ev notify.Event) error {
	s.events = append(s.events, ev)
	return nil
}

type fakeHandler struct {
	calls []lwm2m.Shadow
}

func (h *fakeHandler) HandleReportedState(ctx context.Context, deviceId string, delta, reported lwm2m.Shadow) error {
	h.calls = append(h.calls, reported)
	return nil
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return qos }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestPipeline(t *testing.T) (*Pipeline, *shadows.Storage, *fakeHistory, *fakeSink, *fakeHandler) {
	fs, err := storage.NewFs(t.TempDir())
	require.Nil(t, err)
	store := shadows.NewStorage(fs)
	h, s, fh := &fakeHistory{}, &fakeSink{}, &fakeHandler{}
	return NewPipeline(store, h, s, fh), store, h, s, fh
}

func TestIngest(t *testing.T) {
	p, store, h, sink, handler := newTestPipeline(t)
	ctx := context.Background()

	report := lwm2m.Shadow{"14204:1.0": {"0": {"3": "1.0.0", "99": float64(1000)}}}
	delta, err := p.Ingest(ctx, "dev-1", report)
	require.Nil(t, err)
	require.Equal(t, report, delta)
	require.Len(t, h.deltas, 1)
	require.Len(t, sink.events, 1)
	require.Equal(t, notify.EventShadowUpdate, sink.events[0].Type)
	require.Equal(t, "dev-1", sink.events[0].DeviceId)
	require.Len(t, handler.calls, 1)

	// A heartbeat only moves the timestamp: nothing is written or published.
	delta, err = p.Ingest(ctx, "dev-1", lwm2m.Shadow{"14204:1.0": {"0": {"3": "1.0.0", "99": float64(2000)}}})
	require.Nil(t, err)
	require.Nil(t, delta)
	require.Len(t, sink.events, 1)
	require.Len(t, handler.calls, 1)

	_, err = p.Ingest(ctx, "dev-1", lwm2m.Shadow{"14202:1.0": {"0": {"1": float64(3700)}}})
	require.Nil(t, err)
	require.Len(t, handler.calls, 2)
	require.Equal(t, float64(3700), handler.calls[1]["14202:1.0"]["0"]["1"])
	require.Equal(t, "1.0.0", handler.calls[1]["14204:1.0"]["0"]["3"])

	reported, err := store.GetReportedState(ctx, "dev-1")
	require.Nil(t, err)
	require.Equal(t, handler.calls[1], reported)
}

func TestDeviceIdFromTopic(t *testing.T) {
	id, ok := DeviceIdFromTopic("devices/dev-1/shadow/update")
	require.True(t, ok)
	require.Equal(t, "dev-1", id)
	for _, topic := range []string{"devices//shadow/update", "devices/dev-1/shadow", "things/dev-1/shadow/update"} {
		_, ok = DeviceIdFromTopic(topic)
		require.False(t, ok, topic)
	}
}

func TestDecodeReport(t *testing.T) {
	shadow, err := DecodeReport([]byte(`[{"ObjectID":14204,"ObjectVersion":"1.0","Resources":{"3":"1.0.0"}}]`))
	require.Nil(t, err)
	require.Equal(t, lwm2m.Shadow{"14204:1.0": {"0": {"3": "1.0.0"}}}, shadow)

	shadow, err = DecodeReport([]byte(` {"reported":{"14204:1.0":{"0":{"2":"mfw_nrf91x1_2.0.1"}}}}`))
	require.Nil(t, err)
	require.Equal(t, "mfw_nrf91x1_2.0.1", shadow["14204:1.0"]["0"]["2"])

	for _, payload := range []string{"", "{}", "[", `{"desired":{"14240:1.0":{"0":{"0":1}}}}`} {
		_, err = DecodeReport([]byte(payload))
		require.NotNil(t, err, payload)
	}
}

func TestSubscriberHandle(t *testing.T) {
	p, store, _, _, _ := newTestPipeline(t)
	s := &Subscriber{pipeline: p}

	s.handle(nil, fakeMessage{"devices/dev-1/shadow/update", []byte(`{"reported":{"14204:1.0":{"0":{"3":"1.2.0"}}}}`)})
	s.handle(nil, fakeMessage{"devices/dev-2/shadow/update", []byte(`not json`)})
	s.handle(nil, fakeMessage{"bogus", []byte(`{"reported":{"14204:1.0":{"0":{"3":"1.2.0"}}}}`)})

	reported, err := store.GetReportedState(context.Background(), "dev-1")
	require.Nil(t, err)
	require.Equal(t, "1.2.0", reported["14204:1.0"]["0"]["3"])
	_, err = store.GetReportedState(context.Background(), "dev-2")
	require.True(t, errors.Is(err, shadows.ErrDeviceNotFound))
}
