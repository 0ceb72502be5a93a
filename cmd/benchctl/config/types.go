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
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/runner"
	"github.com/AleutianAI/AleutianBench/services/bench/threshold"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when the configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the benchctl configuration file (benchctl.yaml).
type Config struct {
	// Run: measurement defaults for every built-in benchmark
	Run RunConfig `mapstructure:"run" yaml:"run"`

	// Thresholds: tolerances for compare and the absolute p90 tables
	Thresholds ThresholdsConfig `mapstructure:"thresholds" yaml:"thresholds"`

	// Baseline: where baselines are stored
	Baseline baseline.StoreConfig `mapstructure:"baseline" yaml:"baseline"`

	// Telemetry: optional result export
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

type RunConfig struct {
	// Metrics are metric names or groups (default, cpu, memory, system,
	// disk, references, all).
	Metrics       []string      `mapstructure:"metrics" yaml:"metrics" validate:"min=1,dive,required"`
	TimeUnit      string        `mapstructure:"time_unit" yaml:"time_unit" validate:"omitempty,oneof=auto ns us ms s"`
	ScalingFactor string        `mapstructure:"scaling_factor" yaml:"scaling_factor" validate:"omitempty,oneof=one kilo mega giga"`
	Warmup        int           `mapstructure:"warmup" yaml:"warmup" validate:"gte=0"`
	MinIterations int           `mapstructure:"min_iterations" yaml:"min_iterations" validate:"gte=0"`
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations" validate:"gte=0"`
	MinDuration   time.Duration `mapstructure:"min_duration" yaml:"min_duration" validate:"gte=0"`
	MaxDuration   time.Duration `mapstructure:"max_duration" yaml:"max_duration" validate:"gte=0"`
}

type ThresholdsConfig struct {
	// Preset is strict, default, relaxed or none.
	Preset string `mapstructure:"preset" yaml:"preset" validate:"omitempty,oneof=strict default relaxed none"`

	// Dir holds the per-target p90 tables used by check --absolute.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type TelemetryConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus" yaml:"prometheus"`
	Influx     InfluxConfig     `mapstructure:"influx" yaml:"influx"`
	OTel       OTelConfig       `mapstructure:"otel" yaml:"otel"`
}

type PrometheusConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace" validate:"required_if=Enabled true"`

	// Textfile is written after every run for node_exporter's textfile
	// collector.
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`

	// Addr serves /metrics while benchctl runs, e.g. ":9464".
	Addr string `mapstructure:"addr" yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

type InfluxConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	URL         string `mapstructure:"url" yaml:"url,omitempty" validate:"required_if=Enabled true,omitempty,url"`
	Token       string `mapstructure:"token" yaml:"token,omitempty"`
	Org         string `mapstructure:"org" yaml:"org,omitempty" validate:"required_if=Enabled true"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket,omitempty" validate:"required_if=Enabled true"`
	Measurement string `mapstructure:"measurement" yaml:"measurement,omitempty"`
}

type OTelConfig struct {
	// Metrics exports results through the global OpenTelemetry meter.
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`

	TraceExporter  string `mapstructure:"trace_exporter" yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	MetricExporter string `mapstructure:"metric_exporter" yaml:"metric_exporter" validate:"omitempty,oneof=none stdout prometheus"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint,omitempty"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `mapstructure:"dir" yaml:"dir,omitempty"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// DefaultConfig mirrors runner.DefaultConfiguration and stores baselines
// under .bench/ in the working directory.
func DefaultConfig() Config {
	return Config{
		Run: RunConfig{
			Metrics:       []string{"default"},
			TimeUnit:      "auto",
			ScalingFactor: "one",
			Warmup:        runner.DefaultWarmupIterations,
			MaxIterations: runner.DefaultMaxIterations,
			MaxDuration:   runner.DefaultMaxDuration,
		},
		Thresholds: ThresholdsConfig{
			Preset: threshold.PresetDefault,
			Dir:    ".bench/thresholds",
		},
		Baseline: baseline.StoreConfig{
			Backend: baseline.BackendFile,
			Path:    ".bench/baselines",
		},
		Telemetry: TelemetryConfig{
			Prometheus: PrometheusConfig{Namespace: "bench"},
			Influx:     InfluxConfig{Measurement: "benchmark"},
			OTel: OTelConfig{
				TraceExporter:  "none",
				MetricExporter: "none",
				OTLPEndpoint:   "localhost:4317",
				OTLPInsecure:   true,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field constraints.
//
// Outputs:
//   - error: Nil if valid, otherwise joined with ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	r := c.Run
	if r.MaxIterations > 0 && r.MinIterations > r.MaxIterations {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("run.min_iterations %d exceeds run.max_iterations %d", r.MinIterations, r.MaxIterations))
	}
	if r.MaxDuration > 0 && r.MinDuration > r.MaxDuration {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("run.min_duration %s exceeds run.max_duration %s", r.MinDuration, r.MaxDuration))
	}
	if _, err := metric.ParseList(r.Metrics); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}

// Configuration converts the run section into a runner configuration.
//
// Outputs:
//   - runner.Configuration: With thresholds from preset attached to every
//     metric when preset is not "none".
//   - error: Metric, unit or preset parse failures.
func (r RunConfig) Configuration(preset string) (runner.Configuration, error) {
	ms, err := metric.ParseList(r.Metrics)
	if err != nil {
		return runner.Configuration{}, err
	}
	unit, err := metric.ParseTimeUnit(r.TimeUnit)
	if err != nil {
		return runner.Configuration{}, err
	}
	scaling, err := metric.ParseScalingFactor(r.ScalingFactor)
	if err != nil {
		return runner.Configuration{}, err
	}
	set, err := threshold.Preset(preset)
	if err != nil {
		return runner.Configuration{}, err
	}

	opts := []runner.Option{
		runner.WithMetrics(ms...),
		runner.WithTimeUnit(unit),
		runner.WithScalingFactor(scaling),
		runner.WithIterations(r.MinIterations, r.MaxIterations),
		runner.WithDuration(r.MinDuration, r.MaxDuration),
	}
	if r.Warmup == 0 {
		opts = append(opts, runner.WithoutWarmup())
	} else {
		opts = append(opts, runner.WithWarmup(r.Warmup))
	}
	if !set.IsEmpty() {
		opts = append(opts, runner.WithThresholdsForAll(set))
	}
	return runner.DefaultConfiguration().Apply(opts...), nil
}
