// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. BENCH_RUN_MAX_ITERATIONS.
	EnvPrefix = "BENCH"

	// FileName is the config file searched for in the working directory
	// and in ~/.aleutian/bench.
	FileName = "benchctl"
)

// NewViper returns a viper instance reading path, or searching the default
// locations when path is empty, with BENCH_* environment overrides.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aleutian", "bench"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every key of DefaultConfig with v. Keys unknown to
// viper are not resolved from the environment, so each one is listed.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("run.metrics", d.Run.Metrics)
	v.SetDefault("run.time_unit", d.Run.TimeUnit)
	v.SetDefault("run.scaling_factor", d.Run.ScalingFactor)
	v.SetDefault("run.warmup", d.Run.Warmup)
	v.SetDefault("run.min_iterations", d.Run.MinIterations)
	v.SetDefault("run.max_iterations", d.Run.MaxIterations)
	v.SetDefault("run.min_duration", d.Run.MinDuration)
	v.SetDefault("run.max_duration", d.Run.MaxDuration)

	v.SetDefault("thresholds.preset", d.Thresholds.Preset)
	v.SetDefault("thresholds.dir", d.Thresholds.Dir)

	v.SetDefault("baseline.backend", string(d.Baseline.Backend))
	v.SetDefault("baseline.path", d.Baseline.Path)
	v.SetDefault("baseline.redis_addr", d.Baseline.RedisAddr)
	v.SetDefault("baseline.redis_password", d.Baseline.RedisPassword)
	v.SetDefault("baseline.redis_db", d.Baseline.RedisDB)
	v.SetDefault("baseline.redis_prefix", d.Baseline.RedisPrefix)

	v.SetDefault("telemetry.prometheus.enabled", d.Telemetry.Prometheus.Enabled)
	v.SetDefault("telemetry.prometheus.namespace", d.Telemetry.Prometheus.Namespace)
	v.SetDefault("telemetry.prometheus.textfile", d.Telemetry.Prometheus.Textfile)
	v.SetDefault("telemetry.prometheus.addr", d.Telemetry.Prometheus.Addr)
	v.SetDefault("telemetry.influx.enabled", d.Telemetry.Influx.Enabled)
	v.SetDefault("telemetry.influx.url", d.Telemetry.Influx.URL)
	v.SetDefault("telemetry.influx.token", d.Telemetry.Influx.Token)
	v.SetDefault("telemetry.influx.org", d.Telemetry.Influx.Org)
	v.SetDefault("telemetry.influx.bucket", d.Telemetry.Influx.Bucket)
	v.SetDefault("telemetry.influx.measurement", d.Telemetry.Influx.Measurement)
	v.SetDefault("telemetry.otel.metrics", d.Telemetry.OTel.Metrics)
	v.SetDefault("telemetry.otel.trace_exporter", d.Telemetry.OTel.TraceExporter)
	v.SetDefault("telemetry.otel.metric_exporter", d.Telemetry.OTel.MetricExporter)
	v.SetDefault("telemetry.otel.otlp_endpoint", d.Telemetry.OTel.OTLPEndpoint)
	v.SetDefault("telemetry.otel.otlp_insecure", d.Telemetry.OTel.OTLPInsecure)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.json", d.Log.JSON)
}

// Load reads the config file (if any), applies environment overrides and
// validates the result.
//
// Inputs:
//   - v: A viper instance, usually from NewViper, possibly with bound flags.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Read, decode or validation errors. A missing file in the
//     search path is not an error; a missing explicit file is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("decoding config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes DefaultConfig as YAML to path, creating parent
// directories. An existing file is not overwritten unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, os.ErrExist)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}
