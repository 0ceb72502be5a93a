// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianBench/cmd/benchctl/config"
	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/baseline"
	"github.com/AleutianAI/AleutianBench/services/bench/compare"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds telemetry flushing and server shutdown on exit.
const shutdownTimeout = 5 * time.Second

// app holds everything a command needs. It is built once per invocation
// by the root command's pre-run hook.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	printer *ux.Printer
	store   baseline.Store
	engine  *compare.Engine

	// sink is nil when no exporter is enabled.
	sink telemetry.Sink
	prom *telemetry.PrometheusSink

	server      *http.Server
	otelMetrics *prometheus.Registry
	shutdown    func(context.Context) error
}

// newApp opens the baseline store and the configured telemetry.
//
// Inputs:
//   - ctx: Bounds connection attempts.
//   - cfg: The validated configuration.
//   - printer: User-facing output.
//   - logger: Diagnostics.
//
// Outputs:
//   - *app: Caller must call close.
//   - error: Store or telemetry initialization failures.
func newApp(ctx context.Context, cfg *config.Config, printer *ux.Printer, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		printer: printer,
		engine:  compare.NewEngine(compare.WithLogger(logger)),
	}

	providerCfg := telemetry.DefaultProviderConfig()
	providerCfg.ServiceVersion = version
	providerCfg.TraceExporter = cfg.Telemetry.OTel.TraceExporter
	providerCfg.MetricExporter = cfg.Telemetry.OTel.MetricExporter
	providerCfg.OTLPEndpoint = cfg.Telemetry.OTel.OTLPEndpoint
	providerCfg.OTLPInsecure = cfg.Telemetry.OTel.OTLPInsecure
	if providerCfg.MetricExporter == telemetry.ExporterPrometheus {
		a.otelMetrics = prometheus.NewRegistry()
		providerCfg.Registry = a.otelMetrics
	}
	shutdown, err := telemetry.Init(ctx, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing opentelemetry: %w", err)
	}
	a.shutdown = shutdown

	a.store, err = baseline.Open(ctx, cfg.Baseline, logger)
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("opening %s baseline store: %w", backendName(cfg.Baseline.Backend), err)
	}

	if err := a.openSinks(); err != nil {
		_ = a.close()
		return nil, err
	}
	if err := a.serveMetrics(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func backendName(b baseline.Backend) string {
	if b == "" {
		return string(baseline.BackendFile)
	}
	return string(b)
}

// openSinks creates one sink per enabled exporter.
func (a *app) openSinks() error {
	tc := a.cfg.Telemetry
	var sinks []telemetry.Sink

	if tc.Prometheus.Enabled {
		pc := telemetry.DefaultPrometheusConfig()
		pc.Namespace = tc.Prometheus.Namespace
		prom, err := telemetry.NewPrometheusSink(pc)
		if err != nil {
			return fmt.Errorf("creating prometheus sink: %w", err)
		}
		a.prom = prom
		sinks = append(sinks, prom)
	}

	if tc.Influx.Enabled {
		influx, err := telemetry.NewInfluxSink(&telemetry.InfluxConfig{
			URL:         tc.Influx.URL,
			Token:       tc.Influx.Token,
			Org:         tc.Influx.Org,
			Bucket:      tc.Influx.Bucket,
			Measurement: tc.Influx.Measurement,
			Logger:      a.logger,
		})
		if err != nil {
			closeSinks(sinks)
			return fmt.Errorf("creating influx sink: %w", err)
		}
		sinks = append(sinks, influx)
	}

	if tc.OTel.Metrics {
		oc := telemetry.DefaultOTelConfig()
		oc.ServiceVersion = version
		otelSink, err := telemetry.NewOTelSink(oc)
		if err != nil {
			closeSinks(sinks)
			return fmt.Errorf("creating opentelemetry sink: %w", err)
		}
		sinks = append(sinks, otelSink)
	}

	switch len(sinks) {
	case 0:
	case 1:
		a.sink = sinks[0]
	default:
		composite, err := telemetry.NewCompositeSink(sinks...)
		if err != nil {
			closeSinks(sinks)
			return err
		}
		a.sink = composite
	}
	return nil
}

func closeSinks(sinks []telemetry.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// serveMetrics exposes the prometheus sink, and the OpenTelemetry
// prometheus exporter when configured, on telemetry.prometheus.addr.
func (a *app) serveMetrics() error {
	addr := a.cfg.Telemetry.Prometheus.Addr
	if addr == "" || a.prom == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	if a.otelMetrics != nil {
		mux.Handle("/metrics/otel", promhttp.HandlerFor(a.otelMetrics, promhttp.HandlerOpts{}))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return nil
}

// exportBaseline sends b to every sink and refreshes the textfile. Export
// failures are logged, never fatal.
func (a *app) exportBaseline(ctx context.Context, b *baseline.Baseline) {
	if a.sink == nil {
		return
	}
	if err := a.sink.Export(ctx, b); err != nil {
		a.logger.Warn("telemetry export failed", slog.String("baseline", b.Name), slog.String("error", err.Error()))
	}
	a.writeTextfile()
}

// exportReport sends r to every sink and refreshes the textfile.
func (a *app) exportReport(ctx context.Context, r *compare.Report) {
	if a.sink == nil {
		return
	}
	if err := a.sink.ExportReport(ctx, r); err != nil {
		a.logger.Warn("telemetry report export failed", slog.String("error", err.Error()))
	}
	a.writeTextfile()
}

func (a *app) writeTextfile() {
	path := a.cfg.Telemetry.Prometheus.Textfile
	if path == "" || a.prom == nil {
		return
	}
	if err := a.prom.WriteTextfile(path); err != nil {
		a.logger.Warn("writing prometheus textfile failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// close flushes telemetry and releases the store. Safe on a partially
// built app.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping metrics server: %w", err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing telemetry: %w", err))
		}
		if err := a.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing telemetry: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing baseline store: %w", err))
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down opentelemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// loggerConfig maps the log section and global flags onto logging.Config.
func loggerConfig(cfg config.LogConfig, color logging.ColorMode) (logging.Config, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "benchctl",
		JSON:    cfg.JSON,
		Color:   color,
	}, nil
}
