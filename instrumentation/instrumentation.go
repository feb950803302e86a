package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is the service name used when none is provided
	DefaultServiceName = "oauth-authcode"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// instrumentationPrefix is prepended to every meter and tracer scope
	instrumentationPrefix = "github.com/giantswarm/oauth-authcode/"
)

// Supported exporters
const (
	ExporterNone       = ""
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "oauth-authcode", "my-oauth-server")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active
	// When false, uses no-op providers (zero overhead)
	Enabled bool

	// LogClientIPs controls whether client IP addresses are included in traces and metrics.
	// Client IP addresses may be considered PII under GDPR and similar regulations.
	LogClientIPs bool

	// MetricsExporter selects the metrics exporter: "prometheus", "otlp" or "" (none).
	MetricsExporter string

	// TracesExporter selects the trace exporter: "otlp" or "" (none).
	TracesExporter string

	// OTLPEndpoint is the host:port of the OTLP/HTTP collector. Empty uses the exporter default.
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the OTLP collector.
	OTLPInsecure bool

	// PrometheusRegisterer receives the Prometheus collector.
	// If nil, a private registry is created and served by PrometheusHandler.
	PrometheusRegisterer prometheus.Registerer

	// MetricReader is an additional reader attached to the meter provider,
	// typically an sdkmetric.ManualReader in tests.
	MetricReader sdkmetric.Reader

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	// Providers - these are used to create meters and tracers on demand
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// Per-layer meters used by newMetrics
	httpMeter     metric.Meter
	serverMeter   metric.Meter
	storageMeter  metric.Meter
	securityMeter metric.Meter
	pluginMeter   metric.Meter

	// Metrics holder provides pre-configured metric instruments
	metrics *Metrics

	promHandler http.Handler

	// Shutdown functions (must be registered during New() only, not thread-safe after initialization)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	config.MetricsExporter = strings.ToLower(strings.TrimSpace(config.MetricsExporter))
	config.TracesExporter = strings.ToLower(strings.TrimSpace(config.TracesExporter))

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			_ = inst.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		// Use no-op providers for zero overhead
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.httpMeter = inst.Meter("http")
	inst.serverMeter = inst.Meter("server")
	inst.storageMeter = inst.Meter("storage")
	inst.securityMeter = inst.Meter("security")
	inst.pluginMeter = inst.Meter("plugins")

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders builds SDK meter and tracer providers with the configured exporters.
func (i *Instrumentation) initializeProviders() error {
	ctx := context.Background()

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(i.resource)}
	if i.config.MetricReader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(i.config.MetricReader))
	}

	switch i.config.MetricsExporter {
	case ExporterNone:
	case ExporterPrometheus:
		registerer := i.config.PrometheusRegisterer
		if registerer == nil {
			registry := prometheus.NewRegistry()
			registerer = registry
			i.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		} else if gatherer, ok := registerer.(prometheus.Gatherer); ok {
			i.promHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(exporter))
	case ExporterOTLP:
		opts := []otlpmetrichttp.Option{}
		if i.config.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(i.config.OTLPEndpoint))
		}
		if i.config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)
	i.meterProvider = meterProvider
	i.shutdownFuncs = append(i.shutdownFuncs, meterProvider.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(i.resource)}
	switch i.config.TracesExporter {
	case ExporterNone:
	case ExporterOTLP:
		opts := []otlptracehttp.Option{}
		if i.config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(i.config.OTLPEndpoint))
		}
		if i.config.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	default:
		return fmt.Errorf("unsupported traces exporter %q", i.config.TracesExporter)
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	i.tracerProvider = tracerProvider
	i.shutdownFuncs = append(i.shutdownFuncs, tracerProvider.Shutdown)

	return nil
}

// Shutdown gracefully shuts down all instrumentation providers
// This should be called when the application is terminating
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		var errs []error
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope
// Scopes are layer names like "http", "server", "storage", "security", "plugins"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a named tracer for the given scope
// Scopes are layer names like "http", "server", "storage", "security", "plugins"
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// PrometheusHandler serves the Prometheus registry backing the exporter.
// It returns nil unless MetricsExporter is "prometheus".
func (i *Instrumentation) PrometheusHandler() http.Handler {
	return i.promHandler
}

// ShouldLogClientIPs returns whether client IP addresses should be logged
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers callbacks for storage size gauges.
// Storage implementations call this from SetInstrumentation.
func (i *Instrumentation) RegisterStorageSizeCallbacks(authorizationsCount, clientsCount StorageSizeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	_, err := i.storageMeter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if authorizationsCount != nil {
				observer.ObserveInt64(i.metrics.StorageSizeAuthorizations, authorizationsCount())
			}
			if clientsCount != nil {
				observer.ObserveInt64(i.metrics.StorageSizeClients, clientsCount())
			}
			return nil
		},
		i.metrics.StorageSizeAuthorizations,
		i.metrics.StorageSizeClients,
	)

	return err
}
