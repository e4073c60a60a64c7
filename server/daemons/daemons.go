// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package daemons runs the background loops of the server: each daemon
// starts with Start and runs until Shutdown closes its stop channel.
package daemons

type daemonFunc func(stop chan bool)

type Option func(*daemons)

type daemons struct {
	daemons []daemonFunc
	running []running
}

type running struct {
	stop chan bool
	done chan struct{}
}

type Daemons interface {
	Start()
	Shutdown()
}

func New(opts ...Option) Daemons {
	d := &daemons{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *daemons) Start() {
	for _, fn := range d.daemons {
		r := running{stop: make(chan bool), done: make(chan struct{})}
		d.running = append(d.running, r)
		go func() {
			defer close(r.done)
			fn(r.stop)
		}()
	}
}

// Shutdown stops the daemons one at a time in reverse order of their start.
func (d *daemons) Shutdown() {
	for i := len(d.running) - 1; i >= 0; i-- {
		close(d.running[i].stop)
		<-d.running[i].done
	}
	d.running = nil
}
