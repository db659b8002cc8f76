package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_ExposesCollectors(t *testing.T) {
	r := New()
	r.Inflight.WithLabelValues("w1").Set(3)
	r.Restarts.WithLabelValues("w1", "memory soft limit exceeded").Inc()
	r.DispatchTotal.WithLabelValues("handler").Inc()

	req := httptest.NewRequest("GET", "/_fluxion/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"fluxion_worker_inflight", "fluxion_worker_restarts_total", "fluxion_dispatch_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing metric %q", want)
		}
	}
}
