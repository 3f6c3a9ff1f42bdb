// internal/scheduler/scheduler.go
package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/metrics"
)

// ErrNoHealthyInstance means no instance qualifies for the operation.
// Callers decide how to degrade; the scheduler never retries.
var ErrNoHealthyInstance = errors.New("no healthy instance available")

// Scheduler picks a backend instance for each operation from the
// monitor's latest health snapshot. It never performs network I/O.
type Scheduler struct {
	table    *HealthTable
	strategy config.Strategy
	metrics  *metrics.Collector

	mu      sync.Mutex
	counter uint64
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithMetrics records selection outcomes
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.metrics = c
	}
}

// New creates a scheduler over table using strategy
func New(table *HealthTable, strategy config.Strategy, opts ...Option) *Scheduler {
	s := &Scheduler{
		table:    table,
		strategy: strategy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy returns the active strategy
func (s *Scheduler) Strategy() config.Strategy { return s.strategy }

// Select returns an instance for a write (isWrite) or read operation
func (s *Scheduler) Select(isWrite bool) (config.Instance, error) {
	inst, err := s.selectInstance(isWrite)
	s.metrics.RecordSelection(isWrite, err == nil)
	return inst, err
}

func (s *Scheduler) selectInstance(isWrite bool) (config.Instance, error) {
	direction := "read"
	if isWrite {
		direction = "write"
	}

	switch s.strategy {
	case config.StrategySingle:
		candidates := s.table.healthy(func(r config.Role) bool { return r == config.RoleMixed })
		if len(candidates) == 0 {
			return config.Instance{}, fmt.Errorf("%w: single", ErrNoHealthyInstance)
		}
		return candidates[0], nil

	case config.StrategyReadWriteSplit:
		want := config.RoleRead
		if isWrite {
			want = config.RoleWrite
		}
		candidates := s.table.healthy(func(r config.Role) bool { return r == want || r == config.RoleMixed })
		if len(candidates) == 0 {
			return config.Instance{}, fmt.Errorf("%w: %s", ErrNoHealthyInstance, direction)
		}
		return candidates[0], nil

	case config.StrategyLoadBalance:
		// mixed instances are deliberately excluded here
		want := config.RoleRead
		if isWrite {
			want = config.RoleWrite
		}
		candidates := s.table.healthy(func(r config.Role) bool { return r == want })
		if len(candidates) == 0 {
			return config.Instance{}, fmt.Errorf("%w: %s", ErrNoHealthyInstance, direction)
		}

		s.mu.Lock()
		idx := s.counter % uint64(len(candidates))
		s.counter++
		s.mu.Unlock()

		return candidates[idx], nil

	default:
		return config.Instance{}, fmt.Errorf("%w: unknown strategy %q", ErrNoHealthyInstance, s.strategy)
	}
}

// InstanceStatuses is a read-only diagnostic snapshot
func (s *Scheduler) InstanceStatuses() []InstanceStatus {
	return s.table.Snapshot()
}

// HasHealthy reports whether any instance passed its last probe
func (s *Scheduler) HasHealthy() bool {
	for _, st := range s.table.Snapshot() {
		if st.State == Healthy {
			return true
		}
	}
	return false
}
