package readiness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ng-dev-proxy/internal/metrics"
	"ng-dev-proxy/internal/model"
	"ng-dev-proxy/internal/registry"
	"ng-dev-proxy/internal/service"
)

// BackendFunc builds the ready handle for a target.
type BackendFunc func(model.Target) *service.Backend

// Monitor runs one watcher per pending registry entry.
type Monitor struct {
	reg        *registry.Registry
	probe      Probe
	newBackend BackendFunc
	interval   time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. The metrics parameter is optional.
func NewMonitor(reg *registry.Registry, probe Probe, newBackend BackendFunc, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		reg:        reg,
		probe:      probe,
		newBackend: newBackend,
		interval:   interval,
		logger:     logger.With("component", "readiness_monitor"),
		metrics:    m,
	}
}

// Start launches the watchers and returns immediately. They stop when ctx
// is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, e := range m.reg.Entries() {
		if m.metrics != nil {
			m.metrics.BackendReady.WithLabelValues(e.Target.Prefix).Set(0)
		}
		if e.Ready() {
			m.setReady(e)
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.watch(ctx, e)
		}()
	}
}

// Stop cancels the watchers and waits for them to return.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// watch probes the entry's port every interval until it is listening.
func (m *Monitor) watch(ctx context.Context, e *registry.Entry) {
	logger := m.logger.With("prefix", e.Target.Prefix, "target", e.Target.String())
	logger.Info("waiting for dev server")

	if m.check(ctx, e, logger) {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("readiness watch stopped")
			return
		case <-ticker.C:
			if m.check(ctx, e, logger) {
				return
			}
		}
	}
}

// check runs one probe and publishes on success. Probe errors are logged
// and retried on the next tick.
func (m *Monitor) check(ctx context.Context, e *registry.Entry, logger *slog.Logger) bool {
	ok, err := m.probe.Listening(ctx, e.Target.Port)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("port probe failed", "err", err)
		}
		return false
	}
	if !ok {
		return false
	}

	if e.Publish(m.newBackend(e.Target)) {
		logger.Info("dev server is listening")
	}
	m.setReady(e)
	return true
}

func (m *Monitor) setReady(e *registry.Entry) {
	if m.metrics != nil {
		m.metrics.BackendReady.WithLabelValues(e.Target.Prefix).Set(1)
	}
}
