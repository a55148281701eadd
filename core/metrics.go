package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsTimestampFormat is the layout of the fecha_hora column.
const MetricsTimestampFormat = "2006-01-02 15:04:05"

var metricsHeader = []string{"fecha_hora", "agente", "conversation_id"}

// MetricsSink records one row per proxied message.
type MetricsSink interface {
	Record(agentID, conversationID string, at time.Time) error
}

// CSVMetricsSink appends message rows to a CSV file. Writes are serialized.
type CSVMetricsSink struct {
	path string
	mu   sync.Mutex
}

// NewCSVMetricsSink creates the file and its header row if the file does not exist yet.
func NewCSVMetricsSink(path string) (*CSVMetricsSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metrics directory: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := appendCSVRow(path, metricsHeader); err != nil {
			return nil, fmt.Errorf("write metrics header: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat metrics file: %w", err)
	}

	return &CSVMetricsSink{path: path}, nil
}

func (s *CSVMetricsSink) Record(agentID, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendCSVRow(s.path, []string{at.Format(MetricsTimestampFormat), agentID, conversationID})
}

func appendCSVRow(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Metrics holds the Prometheus collectors of the proxy. A nil *Metrics is a
// valid no-op, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal      *prometheus.CounterVec
	toolRounds      prometheus.Histogram
	toolCallsTotal  *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	messagesTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatproxy_turns_total",
				Help: "Total number of chat turns by backend type and outcome",
			},
			[]string{"backend", "outcome"},
		),
		toolRounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatproxy_llm_rounds",
				Help:    "Backend rounds per LLM turn",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
		),
		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatproxy_tool_calls_total",
				Help: "Tool calls requested by the model, by tool and result",
			},
			[]string{"tool", "result"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatproxy_backend_request_duration_seconds",
				Help:    "Backend request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "status"},
		),
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatproxy_messages_total",
				Help: "Messages proxied per agent",
			},
			[]string{"agent"},
		),
	}

	m.registry.MustRegister(
		m.turnsTotal,
		m.toolRounds,
		m.toolCallsTotal,
		m.backendDuration,
		m.messagesTotal,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(backend, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) ObserveRounds(rounds int) {
	if m == nil {
		return
	}
	m.toolRounds.Observe(float64(rounds))
}

func (m *Metrics) ObserveToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) ObserveBackend(backend, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(backend, status).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMessage(agentID string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(agentID).Inc()
}

// turnOutcome labels a finished turn for the turns counter.
func turnOutcome(err error, partial bool) string {
	switch {
	case err != nil:
		if kind := KindOf(err); kind != "" {
			return string(kind)
		}
		return "error"
	case partial:
		return "partial"
	default:
		return "ok"
	}
}
