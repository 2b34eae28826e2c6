// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog, OpenTelemetry tracing and metrics for the
// task runtime.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer and meter name used by every package.
const InstrumentationName = "github.com/puppylab/miniagent"

// ShutdownFunc flushes and stops the telemetry providers.
type ShutdownFunc func(context.Context) error

// Config controls telemetry exporter behavior.
type Config struct {
	Enabled      bool
	Exporter     string // stdout | otlp
	OTLPEndpoint string
	OTLPInsecure bool
	// Interval is the metric export period. Defaults to one minute.
	Interval time.Duration
	// Writer receives the stdout exporters' output. Defaults to os.Stdout.
	Writer io.Writer
}

// Tracer returns the package tracer from the global provider. Without Init
// this is a no-op tracer.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Init installs the global tracer and meter providers. A disabled config
// leaves the no-op providers in place.
func Init(ctx context.Context, serviceName, version string, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, mp, err := initProviders(ctx, res, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func initProviders(ctx context.Context, res *resource.Resource, cfg Config) (*trace.TracerProvider, *metric.MeterProvider, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	var (
		spanExporter   trace.SpanExporter
		metricExporter metric.Exporter
		err            error
	)
	switch cfg.Exporter {
	case "", "stdout":
		traceOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		var metricOpts []stdoutmetric.Option
		if cfg.Writer != nil {
			traceOpts = append(traceOpts, stdouttrace.WithWriter(cfg.Writer))
			metricOpts = append(metricOpts, stdoutmetric.WithWriter(cfg.Writer))
		}
		spanExporter, err = stdouttrace.New(traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		metricExporter, err = stdoutmetric.New(metricOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, nil, fmt.Errorf("otlp endpoint is required")
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spanExporter, err = otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		metricExporter, err = otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unknown telemetry exporter: %s", cfg.Exporter)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(spanExporter, trace.WithBatchTimeout(time.Second)),
		trace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(interval))),
		metric.WithResource(res),
	)
	return tp, mp, nil
}
