// Package monitor tracks whether the Persistence API is reachable.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
)

// Status is the reachability of the API.
type Status string

const (
	StatusChecking Status = "checking"
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
)

var allStatuses = []string{string(StatusChecking), string(StatusOnline), string(StatusOffline)}

// HealthChecker performs one health request and returns the HTTP status code.
type HealthChecker interface {
	Health(ctx context.Context) (int, error)
}

// Options tunes a Monitor. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Monitor checks the API periodically. Checks are bounded by Timeout so a
// hung server is reported offline instead of leaving the status stuck.
type Monitor struct {
	checker HealthChecker
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	status     Status
	generation uint64
	closed     bool
	listeners  []func(Status)

	// checkMu serializes checks.
	checkMu sync.Mutex

	// life is cancelled by Close and aborts every in-flight check.
	life     context.Context
	lifeStop context.CancelFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Monitor in the checking state.
func New(checker HealthChecker, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	life, lifeStop := context.WithCancel(context.Background())
	m := &Monitor{
		checker:  checker,
		opts:     opts,
		logger:   opts.Logger.With("component", "monitor"),
		metrics:  opts.Metrics,
		status:   StatusChecking,
		life:     life,
		lifeStop: lifeStop,
	}
	m.metrics.SetAPIStatus(string(StatusChecking), allStatuses...)
	return m
}

// CurrentStatus returns the latest status.
func (m *Monitor) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnChange registers fn to be called after every status transition.
func (m *Monitor) OnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Classify maps a check outcome onto a status. Any 2xx or 4xx answer means
// the server is up; 5xx means it cannot serve requests.
func Classify(code int, err error) Status {
	if err != nil {
		return StatusOffline
	}
	switch {
	case code >= 200 && code < 300, code >= 400 && code < 500:
		return StatusOnline
	default:
		return StatusOffline
	}
}

// CheckOnce runs a single check and records its outcome. A result that
// arrives after Close is discarded.
func (m *Monitor) CheckOnce(ctx context.Context) Status {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.mu.Lock()
	if m.closed {
		s := m.status
		m.mu.Unlock()
		return s
	}
	gen := m.generation
	m.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(m.life, cancel)
	defer stop()

	start := time.Now()
	code, err := m.checker.Health(checkCtx)
	status := Classify(code, err)
	m.metrics.HealthCheckFinished(string(status), time.Since(start).Seconds())
	if err != nil {
		m.logger.Debug("Health check failed", "error", err)
	}

	m.mu.Lock()
	if m.closed || m.generation != gen {
		s := m.status
		m.mu.Unlock()
		return s
	}
	prev := m.status
	m.status = status
	var listeners []func(Status)
	if prev != status {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	if prev != status {
		m.logger.Info("API status changed", "from", prev, "to", status, "code", code)
		m.metrics.SetAPIStatus(string(status), allStatuses...)
		for _, fn := range listeners {
			fn(status)
		}
	}
	return status
}

// Start checks immediately and then every Interval until ctx is done or
// Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()

		m.CheckOnce(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.CheckOnce(runCtx)
			}
		}
	}()
}

// Close aborts any in-flight check and stops the schedule.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	m.lifeStop()
	if cancel != nil {
		cancel()
		<-done
	}
}
