// Package telemetry wires OpenTelemetry metrics for bidline.
//
// Metrics are off by default and cost nothing when off.
//
//	BIDLINE_OTEL_ENABLED=true   install an SDK meter provider
//	BIDLINE_OTEL_STDOUT=true    export metrics to stdout every 15s (implies enabled)
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationScope = "bidline"

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is active.
func Enabled() bool {
	return os.Getenv("BIDLINE_OTEL_ENABLED") == "true" || stdout()
}

func stdout() bool {
	return os.Getenv("BIDLINE_OTEL_STDOUT") == "true"
}

// Init installs the global meter provider. When telemetry is disabled this
// installs the no-op provider.
func Init(ctx context.Context) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	var opts []sdkmetric.Option
	if stdout() {
		exp, err := stdoutmetric.New()
		if err != nil {
			return err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes metrics and shuts down the provider.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
