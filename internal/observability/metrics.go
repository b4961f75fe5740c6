package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

const (
	AdmissionAllowed  = "allowed"
	AdmissionDenied   = "denied"
	AdmissionFailOpen = "fail_open"

	ResumeLive    = "live"
	ResumeMessage = "message"
	ResumeEmpty   = "empty"
)

// Metrics holds the process counters. A nil *Metrics is valid and records
// nothing, so callers never need to branch on whether metrics are enabled.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	llmRequests *CounterVec
	llmLatency  *HistogramVec
	llmTokens   *CounterVec

	admissions    *CounterVec
	streamsOpened *CounterVec
	streamsActive *Gauge
	resumes       *CounterVec

	dbStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	scrapeEvery time.Duration
	all         []collector
}

func NewMetrics() *Metrics {
	m := &Metrics{
		apiRequests: NewCounterVec("chat_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"chat_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("chat_api_inflight_requests", "In-flight API requests."),
		llmRequests: NewCounterVec("chat_llm_requests_total", "Model generations by model/status.", []string{"model", "status"}),
		llmLatency: NewHistogramVec(
			"chat_llm_generation_duration_seconds",
			"Wall time of one generation by model/status.",
			[]string{"model", "status"},
			[]float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		),
		llmTokens:     NewCounterVec("chat_llm_tokens_total", "Tokens recorded against quotas by model/kind.", []string{"model", "kind"}),
		admissions:    NewCounterVec("chat_admission_decisions_total", "Admission decisions by user class/result.", []string{"user_class", "result"}),
		streamsOpened: NewCounterVec("chat_streams_started_total", "Generations started by delivery mode.", []string{"mode"}),
		streamsActive: NewGauge("chat_streams_active", "Generations currently producing."),
		resumes:       NewCounterVec("chat_stream_resumes_total", "Reconnect attempts by outcome.", []string{"outcome"}),
		dbStats:       NewGaugeVec("chat_db_pool_stats", "Database connection pool stats.", []string{"metric"}),
		redisUp:       NewGauge("chat_redis_up", "1 when the last Redis ping succeeded."),
		redisPing:     NewGauge("chat_redis_ping_seconds", "Latency of the last Redis ping."),
		scrapeEvery:   10 * time.Second,
	}
	m.all = []collector{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.llmRequests, m.llmLatency, m.llmTokens,
		m.admissions, m.streamsOpened, m.streamsActive, m.resumes,
		m.dbStats, m.redisUp, m.redisPing,
	}
	return m
}

// WithScrapeInterval sets how often the background collectors sample.
func (m *Metrics) WithScrapeInterval(d time.Duration) *Metrics {
	if m != nil && d > 0 {
		m.scrapeEvery = d
	}
	return m
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.all {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveGeneration records one finished generation. status is "ok",
// "error" or "timeout".
func (m *Metrics) ObserveGeneration(model, status string, dur time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	m.llmRequests.Inc(model, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model, status)
	}
	if promptTokens > 0 {
		m.llmTokens.Add(float64(promptTokens), model, "prompt")
	}
	if completionTokens > 0 {
		m.llmTokens.Add(float64(completionTokens), model, "completion")
	}
}

func (m *Metrics) ObserveAdmission(userClass, result string) {
	if m == nil {
		return
	}
	m.admissions.Inc(userClass, result)
}

// StreamStarted counts a generation and marks it active until the returned
// func is called.
func (m *Metrics) StreamStarted(resumable bool) func() {
	if m == nil {
		return func() {}
	}
	mode := "resumable"
	if !resumable {
		mode = "degraded"
	}
	m.streamsOpened.Inc(mode)
	m.streamsActive.Inc()
	return m.streamsActive.Dec
}

func (m *Metrics) ObserveResume(outcome string) {
	if m == nil {
		return
	}
	m.resumes.Inc(outcome)
}

// StartDBCollector samples the gorm connection pool until ctx is done.
func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.scrapeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
				m.dbStats.Set(float64(stats.InUse), "in_use")
				m.dbStats.Set(float64(stats.Idle), "idle")
				m.dbStats.Set(float64(stats.WaitCount), "wait_count")
				m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.dbStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// StartRedisCollector pings the stream broker until ctx is done.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, p Pinger) {
	if m == nil || p == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.scrapeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := p.Ping(pingCtx)
				cancel()
				if err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
