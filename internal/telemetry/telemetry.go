// ABOUTME: OpenTelemetry setup with rotating file exporters
// ABOUTME: Installs global tracer and meter providers and returns a shutdown func

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/2389/foundry-relay/internal/config"
)

// ServiceName identifies the relay in exported telemetry.
const ServiceName = "foundry-relay"

const (
	traceFileName  = "foundry-relay-traces.log"
	metricFileName = "foundry-relay-metrics.log"
)

// ShutdownFunc flushes exporters and closes their files.
type ShutdownFunc func(ctx context.Context) error

// RotatingWriter returns a size-rotated file writer using the logging limits.
func RotatingWriter(path string, cfg config.LoggingConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// Setup installs global providers for cfg. With telemetry disabled it
// returns a no-op ShutdownFunc.
func Setup(ctx context.Context, cfg config.TelemetryConfig, rotation config.LoggingConfig, version string, logger *slog.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")

	dir := cfg.Dir
	if dir == "" {
		dir = "logs"
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating telemetry directory: %w", err)
	}

	traceFile := RotatingWriter(filepath.Join(dir, traceFileName), rotation)
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricsFile := RotatingWriter(filepath.Join(dir, metricFileName), rotation)
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = traceFile.Close()
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	logger.Info("telemetry enabled", "dir", dir, "interval", interval)

	return func(ctx context.Context) error {
		return errors.Join(
			wrap("shutting down tracer provider", tp.Shutdown(ctx)),
			wrap("shutting down meter provider", mp.Shutdown(ctx)),
			wrap("closing trace file", traceFile.Close()),
			wrap("closing metrics file", metricsFile.Close()),
		)
	}, nil
}

func wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
