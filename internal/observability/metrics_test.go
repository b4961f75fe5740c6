package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/api/chat", "200", time.Second)
	m.ObserveGeneration("gpt", "ok", time.Second, 1, 2)
	m.ObserveAdmission("guest", AdmissionDenied)
	m.ObserveResume(ResumeEmpty)
	done := m.StreamStarted(true)
	done()

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestStreamStartedTracksActive(t *testing.T) {
	m := NewMetrics()
	doneA := m.StreamStarted(true)
	doneB := m.StreamStarted(false)
	if got := m.streamsActive.Value(); got != 2 {
		t.Fatalf("active want=2 got=%v", got)
	}
	doneA()
	doneB()
	if got := m.streamsActive.Value(); got != 0 {
		t.Fatalf("active want=0 got=%v", got)
	}
	if got := m.streamsOpened.Value("degraded"); got != 1 {
		t.Fatalf("degraded want=1 got=%v", got)
	}
}

func TestWritePrometheus(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("POST", "/api/chat", "200", 30*time.Millisecond)
	m.ObserveGeneration("gpt-4o-mini", "ok", 2*time.Second, 12, 5)
	m.ObserveAdmission("regular", AdmissionAllowed)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE chat_api_requests_total counter",
		`chat_api_requests_total{method="POST",route="/api/chat",status="200"} 1.000000`,
		`chat_api_request_duration_seconds_bucket{method="POST",route="/api/chat",status="200",le="0.05"} 1`,
		`chat_llm_tokens_total{model="gpt-4o-mini",kind="prompt"} 12.000000`,
		`chat_llm_tokens_total{model="gpt-4o-mini",kind="completion"} 5.000000`,
		`chat_admission_decisions_total{user_class="regular",result="allowed"} 1.000000`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"route"}, []string{"a\"b\\c"})
	if got != `{route="a\"b\\c"}` {
		t.Fatalf("got=%s", got)
	}
	if got := labelString([]string{"route", "status"}, []string{"x"}); got != `{route="x",status="unknown"}` {
		t.Fatalf("got=%s", got)
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := NewHistogramVec("lat", "help", []string{"route"}, []float64{1, 0.1})
	h.Observe(0.05, "/a")
	h.Observe(0.1, "/a")
	h.Observe(3, "/a")

	var buf bytes.Buffer
	if err := h.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`lat_bucket{route="/a",le="0.1"} 2`,
		`lat_bucket{route="/a",le="1"} 2`,
		`lat_bucket{route="/a",le="+Inf"} 3`,
		`lat_count{route="/a"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestGaugeRendersBeforeFirstUse(t *testing.T) {
	var buf bytes.Buffer
	if err := NewGauge("idle", "help").WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	if !strings.Contains(buf.String(), "\nidle 0.000000\n") {
		t.Fatalf("unset gauge should render zero, got:\n%s", buf.String())
	}
}
