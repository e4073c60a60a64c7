// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package notify

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/foundriesio/dg-fota/config"
	"github.com/foundriesio/dg-fota/context"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events on a pub/sub channel.
type RedisSink struct {
	client  publisher
	channel string
	close   func() error
}

func NewRedisSink(cfg config.RedisConfig) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.Db,
	})
	return &RedisSink{client: client, channel: cfg.Channel, close: client.Close}
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("unable to encode %s event: %w", ev.Type, err)
	}
	if err = s.client.Publish(ctx, s.channel, string(msg)).Err(); err != nil {
		return fmt.Errorf("unable to publish %s event to redis: %w", ev.Type, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
