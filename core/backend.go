package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/sirupsen/logrus"
)

// maxBackendBody caps how much of a backend reply is read into memory.
const maxBackendBody = 8 << 20

// defaultBreakerDelay is how long an open breaker short-circuits calls
// before letting a trial request through.
const defaultBreakerDelay = 15 * time.Second

// BackendClient posts JSON to chat backends and classifies failures into
// BackendUnreachable and BackendRejected errors.
type BackendClient struct {
	httpClient *http.Client
	timeout    time.Duration
	useBreaker bool
	// breakerDelay applies to breakers created after it is set.
	breakerDelay time.Duration
	metrics      *Metrics
	logger       *logrus.Entry

	mu       sync.Mutex
	breakers map[string]circuitbreaker.CircuitBreaker[*http.Response]
}

// NewBackendClient creates a client applying timeout to every call.
// When useBreaker is set each backend host gets its own circuit breaker.
func NewBackendClient(timeout time.Duration, useBreaker bool, metrics *Metrics, logger *logrus.Logger) *BackendClient {
	return &BackendClient{
		httpClient:   &http.Client{},
		timeout:      timeout,
		useBreaker:   useBreaker,
		breakerDelay: defaultBreakerDelay,
		metrics:      metrics,
		logger:       logger.WithField("component", "backend"),
		breakers:     make(map[string]circuitbreaker.CircuitBreaker[*http.Response]),
	}
}

// PostJSON marshals body, posts it to endpoint and returns the raw reply body.
// backend names the backend kind for errors, logs and metrics.
func (b *BackendClient) PostJSON(ctx context.Context, backend, endpoint string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", backend, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ConfigurationMissing, backend, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	requestLogger := b.logger.WithFields(logrus.Fields{
		"backend":  backend,
		"endpoint": redactEndpoint(endpoint),
	})
	requestLogger.WithField("bodyLength", len(payload)).Debug("Posting to backend")

	startTime := time.Now()
	resp, err := b.do(ctx, req)
	elapsed := time.Since(startTime)

	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		b.metrics.ObserveBackend(backend, "unreachable", elapsed)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			requestLogger.Warn("Circuit open, backend call short-circuited")
		} else {
			requestLogger.WithError(err).WithField("elapsed", elapsed).Error("Backend call failed")
		}
		return nil, newError(BackendUnreachable, backend, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		b.metrics.ObserveBackend(backend, "unreachable", elapsed)
		return nil, newError(BackendUnreachable, backend, fmt.Errorf("read body: %w", err))
	}

	b.metrics.ObserveBackend(backend, strconv.Itoa(resp.StatusCode), elapsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestLogger.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"elapsed": elapsed,
		}).Warn("Backend rejected request")
		return nil, &Error{
			Kind:    BackendRejected,
			Backend: backend,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("upstream replied %s", resp.Status),
		}
	}

	requestLogger.WithFields(logrus.Fields{
		"status":     resp.StatusCode,
		"elapsed":    elapsed,
		"bodyLength": len(data),
	}).Debug("Backend replied")
	return data, nil
}

func (b *BackendClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !b.useBreaker {
		return b.httpClient.Do(req)
	}
	cb := b.breakerFor(req.URL.Host)
	return failsafe.With(cb).WithContext(ctx).Get(func() (*http.Response, error) {
		return b.httpClient.Do(req)
	})
}

func (b *BackendClient) breakerFor(host string) circuitbreaker.CircuitBreaker[*http.Response] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[host]; ok {
		return cb
	}

	cb := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(b.breakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			b.logger.WithFields(logrus.Fields{
				"host":      host,
				"fromState": breakerStateName(event.OldState),
				"toState":   breakerStateName(event.NewState),
			}).Warn("Circuit breaker state change")
		}).
		Build()
	b.breakers[host] = cb
	return cb
}

func breakerStateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

// redactEndpoint drops the query string, which may carry credentials.
func redactEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
