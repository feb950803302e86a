package instrumentation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "disabled uses no-op providers",
			config: Config{Enabled: false},
		},
		{
			name: "enabled without exporters",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name:   "prometheus exporter",
			config: Config{Enabled: true, MetricsExporter: "Prometheus"},
		},
		{
			name:    "unknown metrics exporter",
			config:  Config{Enabled: true, MetricsExporter: "statsd"},
			wantErr: true,
		},
		{
			name:    "unknown traces exporter",
			config:  Config{Enabled: true, TracesExporter: "zipkin"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			for _, scope := range []string{"http", "server", "storage", "security", "plugins"} {
				if inst.Meter(scope) == nil {
					t.Errorf("Meter(%q) returned nil", scope)
				}
				if inst.Tracer(scope) == nil {
					t.Errorf("Tracer(%q) returned nil", scope)
				}
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
	if inst.PrometheusHandler() != nil {
		t.Error("PrometheusHandler() should be nil without the prometheus exporter")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestShouldLogClientIPs(t *testing.T) {
	inst, _ := New(Config{LogClientIPs: true})
	if !inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = false, want true")
	}
	inst, _ = New(Config{})
	if inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = true, want false")
	}
}

func TestPrometheusHandler_ServesRecordedMetrics(t *testing.T) {
	inst, err := New(Config{Enabled: true, MetricsExporter: ExporterPrometheus})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	inst.Metrics().RecordCodeIssued(context.Background(), "client-1")

	rec := httptest.NewRecorder()
	inst.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "oauth_code_issued") {
		t.Errorf("metrics output does not contain oauth_code_issued:\n%s", rec.Body.String())
	}
}

func TestPrometheusHandler_CustomRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	inst, err := New(Config{
		Enabled:              true,
		MetricsExporter:      ExporterPrometheus,
		PrometheusRegisterer: registry,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if inst.PrometheusHandler() == nil {
		t.Error("PrometheusHandler() should serve a registry that is also a Gatherer")
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 7 },
		func() int64 { return 2 },
	)
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	got := gaugeValue(t, rm, "storage.size.authorizations")
	if got != 7 {
		t.Errorf("storage.size.authorizations = %d, want 7", got)
	}
	got = gaugeValue(t, rm, "storage.size.clients")
	if got != 2 {
		t.Errorf("storage.size.clients = %d, want 2", got)
	}
}

func gaugeValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(gauge.DataPoints) == 0 {
				t.Fatalf("metric %s has unexpected data %T", name, m.Data)
			}
			return gauge.DataPoints[0].Value
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}
