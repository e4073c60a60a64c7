// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foundriesio/dg-fota/context"
	"github.com/foundriesio/dg-fota/fota"
	"github.com/foundriesio/dg-fota/history"
	"github.com/foundriesio/dg-fota/ingest"
	"github.com/foundriesio/dg-fota/notify"
	"github.com/foundriesio/dg-fota/nrfcloud"
	"github.com/foundriesio/dg-fota/server"
	"github.com/foundriesio/dg-fota/server/api"
	"github.com/foundriesio/dg-fota/server/daemons"
	"github.com/foundriesio/dg-fota/server/gateway"
	"github.com/foundriesio/dg-fota/storage/accounts"
	"github.com/foundriesio/dg-fota/storage/executions"
	"github.com/foundriesio/dg-fota/storage/jobs"
	"github.com/foundriesio/dg-fota/storage/shadows"
	"github.com/foundriesio/dg-fota/storage/stream"
	"github.com/foundriesio/dg-fota/workflow"
)

const gcInterval = time.Hour

type ServeCmd struct {
	quit          chan os.Signal
	apiServer     *server.Server
	gatewayServer *server.Server
}

func (c *ServeCmd) Run(args CommonArgs) error {
	fs, db, err := args.openStorage()
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Unexpected error closing database", "error", err)
		}
	}()
	cfg, err := args.loadConfig(fs)
	if err != nil {
		return err
	}
	logger, err := context.InitLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	ctx := context.CtxWithLog(context.Background(), logger)

	cipher, err := args.loadCipher(fs)
	if err != nil {
		return err
	}
	accountStorage, err := accounts.NewStorage(db, cipher, cfg.NRFCloud.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize account storage: %w", err)
	}
	jobStorage, err := jobs.NewStorage(db, cfg.Flow.JobTtl.Duration)
	if err != nil {
		return fmt.Errorf("failed to initialize job storage: %w", err)
	}
	execStorage, err := executions.NewStorage(db)
	if err != nil {
		return fmt.Errorf("failed to initialize execution storage: %w", err)
	}
	changes, err := stream.NewStorage(db, cfg.Stream.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to initialize change stream: %w", err)
	}
	shadowStorage := shadows.NewStorage(fs)
	cloud := nrfcloud.NewClient(accountStorage, cfg.NRFCloud.RequestTimeout.Duration)

	engine := workflow.NewEngine(execStorage)
	orchestrator, err := fota.NewOrchestrator(engine, jobStorage, shadowStorage, cloud, cfg.Flow)
	if err != nil {
		return err
	}
	orchestrator.SubscribeCompletion(changes)

	hub := notify.NewHub()
	defer hub.Close()
	sinks := notify.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer closeSink("kafka", kafka.Close)
		sinks = append(sinks, kafka)
	}
	if cfg.Redis.Addr != "" {
		redis := notify.NewRedisSink(cfg.Redis)
		defer closeSink("redis", redis.Close)
		sinks = append(sinks, redis)
	}
	fota.NewNotifier(sinks).Subscribe(changes)

	var objectHistory history.Writer = history.Nop{}
	if cfg.Influx.Url != "" {
		objectHistory = history.NewInfluxWriter(cfg.Influx)
	}
	defer objectHistory.Close()

	opts := []daemons.Option{
		daemons.WithStream(changes, cfg.Stream.Interval.Duration),
		daemons.WithStreamGc(changes, cfg.Stream.Retention.Duration, gcInterval),
		daemons.WithJobGc(jobStorage, gcInterval),
		daemons.WithSweeper(engine, cfg.Flow.SweepInterval.Duration),
		daemons.WithRunner(fota.NewPoller(jobStorage, cloud, cfg.Poller)),
	}
	pipeline := ingest.NewPipeline(shadowStorage, objectHistory, sinks, orchestrator)
	if cfg.Mqtt.Broker != "" {
		opts = append(opts, daemons.WithRunner(ingest.NewSubscriber(cfg.Mqtt, pipeline)))
	}

	var gatewayTls *tls.Config
	if cfg.Gateway.Port != 0 {
		if gatewayTls, err = args.gatewayTlsConfig(); err != nil {
			return err
		}
	}

	if err = engine.Resume(ctx); err != nil {
		return err
	}
	d := daemons.New(opts...)
	d.Start()
	defer d.Shutdown()

	// setup channel to gracefully terminate server
	c.quit = make(chan os.Signal, 1)
	signal.Notify(c.quit, syscall.SIGTERM, syscall.SIGINT)
	serveErr := make(chan error, 1)

	e := server.NewEchoServer("rest-api", logger)
	api.RegisterHandlers(e, api.Services{
		Orchestrator: orchestrator,
		Jobs:         jobStorage,
		Shadows:      shadowStorage,
		Bundles:      cloud,
		Accounts:     accountStorage,
		Hub:          hub,
	})
	c.apiServer = server.NewServer(ctx, e, cfg.Api.Port)
	c.apiServer.Start(serveErr)
	logger.Info("Started rest-api", "port", cfg.Api.Port)

	if gatewayTls != nil {
		g := server.NewEchoServer("device-gateway", logger)
		gateway.RegisterHandlers(g, pipeline, shadowStorage)
		c.gatewayServer = server.NewTlsServer(ctx, g, cfg.Gateway.Port, gatewayTls)
		c.gatewayServer.Start(serveErr)
		logger.Info("Started device-gateway", "port", cfg.Gateway.Port)
	}

	select {
	case err = <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-c.quit:
		if err := c.apiServer.Shutdown(time.Minute); err != nil {
			logger.Error("Unexpected error stopping rest-api server", "error", err)
		}
		if c.gatewayServer != nil {
			if err := c.gatewayServer.Shutdown(time.Minute); err != nil {
				logger.Error("Unexpected error stopping device-gateway server", "error", err)
			}
		}
	}
	return nil
}

func (c CommonArgs) gatewayTlsConfig() (*tls.Config, error) {
	caPool, err := c.loadCas()
	if err != nil {
		return nil, err
	}
	kp, err := c.loadTlsKeyPair()
	if err != nil {
		return nil, fmt.Errorf("unable to load gateway key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{kp},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
		ClientCAs:    caPool,
	}, nil
}

func closeSink(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.Error("Unexpected error closing notification sink", "sink", name, "error", err)
	}
}
