// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package daemons

import (
	"log/slog"
	"time"

	"github.com/foundriesio/dg-fota/storage/jobs"
	"github.com/foundriesio/dg-fota/storage/stream"
	"github.com/foundriesio/dg-fota/workflow"
)

// Runner is a loop with its own start and stop, like the job poller, the
// workflow sweeper or the MQTT subscriber.
type Runner interface {
	Start()
	Stop()
}

func WithRunner(r Runner) Option {
	return func(d *daemons) {
		d.daemons = append(d.daemons, func(stop chan bool) {
			r.Start()
			<-stop
			r.Stop()
		})
	}
}

func WithJobGc(jobs *jobs.Storage, interval time.Duration) Option {
	return func(d *daemons) {
		gcFunc := func(stop chan bool) {
			jobs.StartGc(interval)
			<-stop
			jobs.StopGc()
		}
		d.daemons = append(d.daemons, gcFunc)
	}
}

func WithStream(changes *stream.Storage, interval time.Duration) Option {
	return func(d *daemons) {
		d.daemons = append(d.daemons, func(stop chan bool) {
			changes.Start(interval)
			<-stop
			changes.Stop()
		})
	}
}

// WithStreamGc drops change records older than retention.
func WithStreamGc(changes *stream.Storage, retention, interval time.Duration) Option {
	return func(d *daemons) {
		d.daemons = append(d.daemons, func(stop chan bool) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case now := <-ticker.C:
					if err := changes.Gc(now.Add(-retention)); err != nil {
						slog.Error("Unable to garbage collect change records", "error", err)
					}
				}
			}
		})
	}
}

// WithSweeper times out stuck waits and flows. On stop it also waits for the
// executions advancing in the background.
func WithSweeper(engine *workflow.Engine, interval time.Duration) Option {
	return func(d *daemons) {
		d.daemons = append(d.daemons, func(stop chan bool) {
			engine.StartSweeper(interval)
			<-stop
			engine.Stop()
			engine.Drain()
		})
	}
}
