// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const FileName = "config.toml"

// Duration accepts Go duration strings plus a day suffix, e.g. "30d".
type Duration struct {
	time.Duration
}

func Days(n int) Duration {
	return Duration{time.Duration(n) * 24 * time.Hour}
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Days(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	LogLevel string `toml:"log_level"`

	Api      ApiConfig      `toml:"api"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Flow     FlowConfig     `toml:"flow"`
	Poller   PollerConfig   `toml:"poller"`
	Stream   StreamConfig   `toml:"stream"`
	NRFCloud NRFCloudConfig `toml:"nrfcloud"`
	Mqtt     MqttConfig     `toml:"mqtt"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Redis    RedisConfig    `toml:"redis"`
	Influx   InfluxConfig   `toml:"influx"`
}

type ApiConfig struct {
	Port uint16 `toml:"port"`
}

// GatewayConfig enables the device facing TLS API when Port is set. Its
// certificates are read from the certs directory of the data directory.
type GatewayConfig struct {
	Port uint16 `toml:"port"`
}

type FlowConfig struct {
	// Timeout bounds a whole multi-bundle flow.
	Timeout Duration `toml:"timeout"`
	// Heartbeat windows of the two suspension points of a bundle step.
	JobCompletionTimeout Duration `toml:"job_completion_timeout"`
	UpdateAppliedTimeout Duration `toml:"update_applied_timeout"`

	CreateJobAttempts int      `toml:"create_job_attempts"`
	CreateJobBackoff  Duration `toml:"create_job_backoff"`

	JobTtl        Duration `toml:"job_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
}

type PollerConfig struct {
	Interval      Duration `toml:"interval"`
	FreshAge      Duration `toml:"fresh_age"`
	FreshInterval Duration `toml:"fresh_interval"`
	StaleInterval Duration `toml:"stale_interval"`
	NotFoundGrace Duration `toml:"not_found_grace"`
	BatchSize     int      `toml:"batch_size"`
	Workers       int      `toml:"workers"`
}

type StreamConfig struct {
	Interval  Duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	Retention Duration `toml:"retention"`
}

type NRFCloudConfig struct {
	Endpoint       string   `toml:"endpoint"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// MqttConfig enables shadow ingestion when Broker is set.
type MqttConfig struct {
	Broker   string `toml:"broker"`
	ClientId string `toml:"client_id"`
	Topic    string `toml:"topic"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// KafkaConfig enables the Kafka notification sink when Brokers is set.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// RedisConfig enables the Redis notification sink when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	Db       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// InfluxConfig enables the object history store when Url is set.
type InfluxConfig struct {
	Url    string `toml:"url"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Api:      ApiConfig{Port: 8080},
		Flow: FlowConfig{
			Timeout:              Days(30),
			JobCompletionTimeout: Days(7),
			UpdateAppliedTimeout: Days(7),
			CreateJobAttempts:    3,
			CreateJobBackoff:     Duration{2 * time.Second},
			JobTtl:               Days(30),
			SweepInterval:        Duration{time.Minute},
		},
		Poller: PollerConfig{
			Interval:      Duration{5 * time.Minute},
			FreshAge:      Duration{time.Hour},
			FreshInterval: Duration{5 * time.Minute},
			StaleInterval: Duration{time.Hour},
			NotFoundGrace: Duration{24 * time.Hour},
			BatchSize:     100,
			Workers:       4,
		},
		Stream: StreamConfig{
			Interval:  Duration{time.Second},
			BatchSize: 100,
			Retention: Days(1),
		},
		NRFCloud: NRFCloudConfig{
			Endpoint:       "https://api.nrfcloud.com",
			RequestTimeout: Duration{30 * time.Second},
		},
		Mqtt: MqttConfig{
			ClientId: "dg-fota",
			Topic:    "devices/+/shadow/update",
		},
		Kafka: KafkaConfig{Topic: "fota-events"},
		Redis: RedisConfig{Channel: "fota-events"},
	}
}

// Load reads the TOML file at path over the defaults. A missing file yields
// the defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("unable to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Flow.CreateJobAttempts < 1 {
		errs = append(errs, errors.New("flow.create_job_attempts must be at least 1"))
	}
	if c.Flow.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("flow.timeout must be positive"))
	}
	if c.Poller.Workers < 1 || c.Poller.BatchSize < 1 {
		errs = append(errs, errors.New("poller.workers and poller.batch_size must be at least 1"))
	}
	if c.Poller.FreshInterval.Duration <= 0 || c.Poller.StaleInterval.Duration <= 0 {
		errs = append(errs, errors.New("poller intervals must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required with kafka.brokers"))
	}
	if c.Influx.Url != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		errs = append(errs, errors.New("influx.org and influx.bucket are required with influx.url"))
	}
	return errors.Join(errs...)
}
