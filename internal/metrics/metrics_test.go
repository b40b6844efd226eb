package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordSave("manual", nil, time.Second)
	m.RecordValidation()
	m.AdjustWarning("unused_citation", 1)
	m.SessionOpened()
	m.RecordExport("pdf", errors.New("boom"))
}

func TestRecordSaveOutcomes(t *testing.T) {
	m := New()
	m.RecordSave("interval", nil, 10*time.Millisecond)
	m.RecordSave("interval", errors.New("down"), 10*time.Millisecond)
	m.RecordSave("interval", errors.New("down"), 10*time.Millisecond)

	if got := value(t, m.SavesTotal.WithLabelValues("interval", "success")); got != 1 {
		t.Fatalf("success = %v", got)
	}
	if got := value(t, m.SavesTotal.WithLabelValues("interval", "failure")); got != 2 {
		t.Fatalf("failure = %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.SessionOpened()
	if got := value(t, b.SessionsOpen); got != 0 {
		t.Fatalf("registries leaked state: %v", got)
	}
}

func TestHandlerServesScribeMetrics(t *testing.T) {
	m := New()
	m.RecordValidation()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scribe_validations_total 1") {
		t.Fatalf("missing counter in output")
	}
}

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}
