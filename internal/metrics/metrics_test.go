package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	c := New()
	c.ObserveRequest("read", "", time.Millisecond)
	c.ObserveRequest("read", "not_found", time.Millisecond)
	c.ObserveRequest("read", "", time.Millisecond)

	if got := testutil.ToFloat64(c.Requests.WithLabelValues("read", "ok")); got != 2 {
		t.Errorf("expected 2 ok reads, got %v", got)
	}
	if got := testutil.ToFloat64(c.Requests.WithLabelValues("read", "not_found")); got != 1 {
		t.Errorf("expected 1 not_found read, got %v", got)
	}
}

func TestObserveCeremony(t *testing.T) {
	c := New()
	c.ObserveCeremony("biometric_any", "user_canceled", 2*time.Second)

	if got := testutil.ToFloat64(c.Ceremonies.WithLabelValues("biometric_any", "user_canceled")); got != 1 {
		t.Errorf("expected 1 ceremony, got %v", got)
	}
}

func TestNilCollectorsDiscard(t *testing.T) {
	var c *Collectors
	c.ObserveRequest("read", "", time.Millisecond)
	c.ObserveCeremony("biometric_any", "authenticated", time.Millisecond)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ObserveRequest("write", "", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(c.Registry()).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `aegis_requests_total{code="ok",verb="write"} 1`) {
		t.Errorf("expected request counter in exposition, got:\n%s", body)
	}
}
