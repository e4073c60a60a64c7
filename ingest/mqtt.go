// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/foundriesio/dg-fota/config"
	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/lwm2m"
)

const qos = 1

// Subscriber feeds the shadow updates devices publish over MQTT into a
// Pipeline. Topics look like devices/<id>/shadow/update.
type Subscriber struct {
	client   mqtt.Client
	topic    string
	pipeline *Pipeline
}

func NewSubscriber(cfg config.MqttConfig, pipeline *Pipeline) *Subscriber {
	s := &Subscriber{topic: cfg.Topic, pipeline: pipeline}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientId).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(c mqtt.Client) {
		if token := c.Subscribe(s.topic, qos, s.handle); token.Wait() && token.Error() != nil {
			slog.Error("Unable to subscribe to shadow updates", "topic", s.topic, "error", token.Error())
		} else {
			slog.Info("Subscribed to shadow updates", "topic", s.topic)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "error", err)
	}
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects in the background. With ConnectRetry the connect token
// only completes once the broker is reachable.
func (s *Subscriber) Start() {
	s.client.Connect()
}

func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	log := slog.With("topic", msg.Topic())
	deviceId, ok := DeviceIdFromTopic(msg.Topic())
	if !ok {
		log.Warn("Ignoring message on unexpected topic")
		return
	}
	reported, err := DecodeReport(msg.Payload())
	if err != nil {
		log.Warn("Ignoring invalid shadow update", "error", err)
		return
	}
	ctx := context.CtxWithLog(context.Background(), log.With("device", deviceId))
	if _, err = s.pipeline.Ingest(ctx, deviceId, reported); err != nil {
		log.Error("Unable to ingest shadow update", "error", err)
	}
}

// DeviceIdFromTopic extracts the device id of devices/<id>/shadow/update.
func DeviceIdFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "devices" || parts[1] == "" || parts[2] != "shadow" {
		return "", false
	}
	return parts[1], true
}

// DecodeReport accepts either a list of object instances or a shadow
// document of which only the reported state is used.
func DecodeReport(payload []byte) (lwm2m.Shadow, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	if payload[0] == '[' {
		var objects []lwm2m.ObjectInstance
		if err := json.Unmarshal(payload, &objects); err != nil {
			return nil, fmt.Errorf("invalid object list: %w", err)
		}
		return lwm2m.ObjectsToShadow(objects), nil
	}
	var doc lwm2m.ShadowDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("invalid shadow document: %w", err)
	}
	if len(doc.Reported) == 0 {
		return nil, errors.New("no reported state")
	}
	return doc.Reported, nil
}
