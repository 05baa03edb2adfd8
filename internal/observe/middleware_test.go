package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates metrics and tracing for middleware tests and returns a
// mux wrapped by the middleware.
func testSetup(t *testing.T) (*http.ServeMux, http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	tp, exp := newTestTracerProvider(t)
	useGlobalTracer(t, tp)

	mux := http.NewServeMux()
	return mux, Middleware(m, slog.New(slog.DiscardHandler))(mux), reader, exp
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_TraceIDHeader(t *testing.T) {
	mux, h, _, _ := testSetup(t)

	var seen string
	mux.HandleFunc("GET /debug/voices", func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	})

	rec := serve(h, http.MethodGet, "/debug/voices", nil)
	if len(seen) != 32 {
		t.Fatalf("handler saw trace ID %q, want 32 hex characters", seen)
	}
	if got := rec.Header().Get(TraceIDHeader); got != seen {
		t.Errorf("%s = %q, want %q", TraceIDHeader, got, seen)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	mux, h, _, _ := testSetup(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen string
	mux.HandleFunc("POST /play", func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	})

	rec := serve(h, http.MethodPost, "/play", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if seen != traceID {
		t.Errorf("handler trace ID = %q, want %q", seen, traceID)
	}
	if got := rec.Header().Get(TraceIDHeader); got != traceID {
		t.Errorf("%s = %q, want %q", TraceIDHeader, got, traceID)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	mux, h, _, exp := testSetup(t)
	mux.HandleFunc("POST /play", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	serve(h, http.MethodPost, "/play", nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "POST /play" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "POST /play")
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusCreated {
		t.Errorf("span status code attribute = %d, want %d", status, http.StatusCreated)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	mux, h, reader, _ := testSetup(t)
	mux.HandleFunc("GET /healthz", func(http.ResponseWriter, *http.Request) {})

	serve(h, http.MethodGet, "/healthz", nil)
	serve(h, http.MethodGet, "/no/such/path", nil)
	serve(h, http.MethodGet, "/another/unknown", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "polyvox.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want Histogram[float64]", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		class, _ := dp.Attributes.Value("status_class")
		counts[route.AsString()+" "+class.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /healthz 2xx": 1,
		"unmatched 4xx":    2,
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("count[%q] = %d, want %d", k, counts[k], n)
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "other"},
		{999, "other"},
	}
	for _, tt := range tests {
		if got := statusClass(tt.code); got != tt.want {
			t.Errorf("statusClass(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
