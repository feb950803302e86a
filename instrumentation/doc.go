// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the
// authorization server.
//
// This package enables observability across all layers through:
//   - Metrics: Counters, histograms, and gauges for monitoring grant operations
//   - Traces: Spans for the authorization and token endpoints, plugins and storage
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:        true,
//		ServiceName:    "my-authorization-server",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	store.SetInstrumentation(inst)
//
// # Prometheus Metrics
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Expose /metrics endpoint
//	mux.Handle("/metrics", inst.PrometheusHandler())
//
// Pass prometheus.DefaultRegisterer as PrometheusRegisterer to serve the
// metrics through promhttp.Handler() together with the Go runtime collectors.
//
// # OTLP
//
// Set MetricsExporter and/or TracesExporter to "otlp" and OTLPEndpoint to the
// collector's host:port. Both use OTLP over HTTP.
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - oauth.http.request.duration{endpoint} - Request duration in milliseconds
//
// Authorization Code Grant:
//   - oauth.authorization.started{client_id} - Authorization requests received
//   - oauth.code.issued{client_id} - Authorization codes persisted
//   - oauth.code.exchanged{client_id} - Codes exchanged for access tokens
//   - oauth.grant.rejected{endpoint, error} - Requests rejected with an OAuth error
//
// Plugins:
//   - oauth.plugin.calls{plugin, outcome} - Extension point invocations (handled, declined, failed)
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type} - Rate limit violations
//   - oauth.code.reuse_detected - Authorization code reuse attempts
//   - oauth.audit.events.total{event_type} - Audit events
//
// Storage:
//   - storage.operation.total{operation, result} - Storage operations
//   - storage.operation.duration{operation} - Storage operation duration
//   - storage.size.authorizations - Authorization records held
//   - storage.size.clients - Registered clients
//
// # Privacy
//
// Authorization codes and access tokens are never recorded. Client IP addresses
// are only attached to spans when LogClientIPs is enabled.
package instrumentation
