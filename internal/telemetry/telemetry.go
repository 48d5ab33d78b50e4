// Package telemetry exports gesherd metrics and log events over OTLP HTTP.
//
// Export is opt-in. Set either endpoint to turn it on; the other one then
// falls back to its default:
//
//	GESHER_OTEL_METRICS_URL  (default: http://localhost:8428/opentelemetry/api/v1/push)
//	GESHER_OTEL_LOGS_URL     (default: http://localhost:9428/insert/opentelemetry/v1/logs)
//
// While export is off the global no-op providers stay installed, so the
// Record* helpers cost nothing and need no nil checks at call sites.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	EnvMetricsURL = "GESHER_OTEL_METRICS_URL"
	EnvLogsURL    = "GESHER_OTEL_LOGS_URL"

	DefaultMetricsURL = "http://localhost:8428/opentelemetry/api/v1/push"
	DefaultLogsURL    = "http://localhost:9428/insert/opentelemetry/v1/logs"

	// ExportInterval is the metric push period.
	ExportInterval = 30 * time.Second
)

// endpoints reports where to export, and whether export is on at all.
type endpoints struct {
	metrics string
	logs    string
}

func endpointsFromEnv() (endpoints, bool) {
	ep := endpoints{
		metrics: os.Getenv(EnvMetricsURL),
		logs:    os.Getenv(EnvLogsURL),
	}
	if ep.metrics == "" && ep.logs == "" {
		return ep, false
	}
	if ep.metrics == "" {
		ep.metrics = DefaultMetricsURL
	}
	if ep.logs == "" {
		ep.logs = DefaultLogsURL
	}
	return ep, true
}

// Provider owns the installed SDK providers.
type Provider struct {
	mu       sync.Mutex
	closers  []func(context.Context) error
	shutdown bool
}

// Shutdown flushes and stops every provider. A nil Provider, and any call
// after the first, is a no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil
	}
	p.shutdown = true

	var errs []error
	for _, closeFn := range p.closers {
		errs = append(errs, closeFn(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

var (
	initOnce   sync.Once
	installed  *Provider
	installErr error
)

// Init installs the OTLP providers on the first call and returns them on
// every later call. It returns (nil, nil) when export is off. The service
// identity of the first call is the one exported.
func Init(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	initOnce.Do(func() {
		ep, on := endpointsFromEnv()
		if !on {
			return
		}
		installed, installErr = install(ctx, ep, serviceName, serviceVersion)
	})
	return installed, installErr
}

func install(ctx context.Context, ep endpoints, serviceName, serviceVersion string) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	p := &Provider{}

	mp, err := newMeterProvider(ctx, ep.metrics, res)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)
	p.closers = append(p.closers, mp.Shutdown)
	initInstruments()

	lp, err := newLoggerProvider(ctx, ep.logs, res)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	global.SetLoggerProvider(lp)
	p.closers = append(p.closers, lp.Shutdown)

	return p, nil
}

func newMeterProvider(ctx context.Context, url string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(url))
	if err != nil {
		return nil, fmt.Errorf("metric exporter for %s: %w", url, err)
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(ExportInterval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

func newLoggerProvider(ctx context.Context, url string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(url))
	if err != nil {
		return nil, fmt.Errorf("log exporter for %s: %w", url, err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	), nil
}
