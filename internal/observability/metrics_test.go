package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWith(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())
	if m == nil {
		t.Fatal("NewMetricsWith() returned nil")
	}
	if m.MessageCounter == nil || m.IngestCounter == nil || m.HTTPRequestCounter == nil {
		t.Error("metrics not initialized")
	}
}

func TestMessageCounters(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.MessageReceived("telegram", "inbound")
	m.MessageReceived("telegram", "inbound")
	m.MessageSent("telegram")

	inbound := testutil.ToFloat64(m.MessageCounter.WithLabelValues("telegram", "inbound"))
	if inbound != 2 {
		t.Errorf("inbound = %v, want 2", inbound)
	}
	outbound := testutil.ToFloat64(m.MessageCounter.WithLabelValues("telegram", "outbound"))
	if outbound != 1 {
		t.Errorf("outbound = %v, want 1", outbound)
	}
}

func TestRecordIngest(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordIngest("voice", "success", 1.5)
	m.RecordIngest("voice", "error", 0.2)
	m.RecordIngest("text", "success", 0.01)

	if got := testutil.ToFloat64(m.IngestCounter.WithLabelValues("voice", "success")); got != 1 {
		t.Errorf("voice success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.IngestCounter.WithLabelValues("voice", "error")); got != 1 {
		t.Errorf("voice error = %v, want 1", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordHTTPRequest("POST", "/ingest", "200", 0.05)
	m.RecordHTTPRequest("POST", "/ingest", "200", 0.07)

	got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/ingest", "200"))
	if got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
}

func TestRecordError(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordError("channel", "send_failed")
	got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("channel", "send_failed"))
	if got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.MessageReceived("telegram", "inbound")
	m.MessageSent("telegram")
	m.RecordIngest("text", "success", 0)
	m.RecordHTTPRequest("GET", "/", "200", 0)
	m.RecordError("api", "oops")
}
