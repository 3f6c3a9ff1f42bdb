// internal/scheduler/monitor.go
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/metrics"
	"go.uber.org/zap"
)

// Prober checks one instance; nil means healthy
type Prober interface {
	Probe(ctx context.Context, inst config.Instance) error
}

// HealthMonitor probes every registered instance on a fixed interval
type HealthMonitor struct {
	table    *HealthTable
	prober   Prober
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// MonitorOption configures the health monitor
type MonitorOption func(*HealthMonitor)

// WithInterval sets the probe interval
func WithInterval(d time.Duration) MonitorOption {
	return func(m *HealthMonitor) {
		m.interval = d
	}
}

// WithMonitorMetrics records probe results
func WithMonitorMetrics(c *metrics.Collector) MonitorOption {
	return func(m *HealthMonitor) {
		m.metrics = c
	}
}

// NewHealthMonitor creates a monitor writing into table
func NewHealthMonitor(table *HealthTable, prober Prober, logger *zap.Logger, opts ...MonitorOption) *HealthMonitor {
	m := &HealthMonitor{
		table:    table,
		prober:   prober,
		interval: 30 * time.Second,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run probes immediately and then on every tick until ctx is done
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one tick: probe all instances in parallel without
// holding the table lock, then apply every result as one batch.
func (m *HealthMonitor) CheckOnce(ctx context.Context) {
	instances := m.table.Instances()
	results := make([]ProbeResult, len(instances))

	var wg sync.WaitGroup
	for i, inst := range instances {
		wg.Add(1)
		go func(i int, inst config.Instance) {
			defer wg.Done()

			state := Healthy
			if err := m.prober.Probe(ctx, inst); err != nil {
				state = Unhealthy
				m.logger.Debug("health probe failed",
					zap.String("instance_id", inst.ID),
					zap.String("url", inst.URL),
					zap.Error(err))
			}
			results[i] = ProbeResult{ID: inst.ID, State: state}
			m.metrics.RecordProbe(inst.ID, state == Healthy)
		}(i, inst)
	}
	wg.Wait()

	for _, change := range m.table.Apply(results) {
		m.logger.Info("instance health changed",
			zap.String("instance_id", change.ID),
			zap.Stringer("from", change.From),
			zap.Stringer("to", change.To))
	}
}
