// Package resilience guards calls to flaky external services with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"rendezvous-backend/pkg/logger"
)

// State represents the state of a circuit breaker
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

// ErrOpen is returned without calling the operation while the breaker is open
var ErrOpen = errors.New("circuit breaker open")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_requests_total",
		Help: "Total number of calls made through a circuit breaker",
	}, []string{"breaker", "operation", "status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_errors_total",
		Help: "Total number of failed calls made through a circuit breaker",
	}, []string{"breaker", "operation", "error_type"})

	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "State of the circuit breaker (0=closed, 1=half_open, 2=open)",
	}, []string{"breaker"})
)

// Config tunes a Breaker
type Config struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration
	// Timeout bounds every call made through the breaker
	Timeout time.Duration
}

// Breaker is a consecutive-failure circuit breaker. While open, calls fail fast
// with ErrOpen. After Cooldown a single probe is let through: success closes the
// circuit and failure reopens it.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	stateGauge.WithLabelValues(name).Set(0)
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// Execute runs fn unless the circuit is open
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !b.allow() {
		requestsTotal.WithLabelValues(b.name, operation, "rejected").Inc()
		return ErrOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	err := fn(callCtx)
	b.record(operation, err)
	return err
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true
	default:
		// One probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *Breaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil {
		requestsTotal.WithLabelValues(b.name, operation, "success").Inc()
		b.consecutiveFailures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
			logger.Info("Circuit breaker closed", zap.String("breaker", b.name))
		}
		return
	}

	requestsTotal.WithLabelValues(b.name, operation, "failure").Inc()
	errorsTotal.WithLabelValues(b.name, operation, classifyError(err)).Inc()
	b.consecutiveFailures++

	if b.state == StateHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		if b.state != StateOpen {
			logger.Error("Circuit breaker opened",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err))
		}
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(s State) {
	b.state = s
	switch s {
	case StateClosed:
		stateGauge.WithLabelValues(b.name).Set(0)
	case StateHalfOpen:
		stateGauge.WithLabelValues(b.name).Set(1)
	case StateOpen:
		stateGauge.WithLabelValues(b.name).Set(2)
	}
}

// classifyError buckets errors for the error_type label
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "permission denied"):
		return "permission"
	default:
		return "unknown"
	}
}
