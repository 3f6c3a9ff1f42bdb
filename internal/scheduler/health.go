// internal/scheduler/health.go
package scheduler

import (
	"sync"

	"github.com/FairForge/cryptgate/internal/config"
)

// HealthState is the last observed state of an instance
type HealthState int

const (
	// Unknown until the first probe completes
	Unknown HealthState = iota
	Healthy
	Unhealthy
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText lets the state appear as a string in JSON
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InstanceStatus is a diagnostic view of one instance
type InstanceStatus struct {
	ID    string      `json:"id"`
	URL   string      `json:"url"`
	Role  config.Role `json:"role"`
	State HealthState `json:"state"`
}

// ProbeResult is one instance's outcome for a monitor tick
type ProbeResult struct {
	ID    string
	State HealthState
}

// StateChange describes a transition applied by the table
type StateChange struct {
	ID   string
	From HealthState
	To   HealthState
}

// HealthTable owns the per-instance health states. Readers share the
// lock; the monitor takes it exclusively only to apply a finished batch.
type HealthTable struct {
	mu        sync.RWMutex
	instances []config.Instance
	states    []HealthState
	index     map[string]int
}

// NewHealthTable registers instances in registry order, all Unknown
func NewHealthTable(instances []config.Instance) *HealthTable {
	t := &HealthTable{
		instances: make([]config.Instance, len(instances)),
		states:    make([]HealthState, len(instances)),
		index:     make(map[string]int, len(instances)),
	}
	copy(t.instances, instances)
	for i, inst := range instances {
		t.index[inst.ID] = i
	}
	return t
}

// Instances returns a copy of the registered instances
func (t *HealthTable) Instances() []config.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]config.Instance, len(t.instances))
	copy(out, t.instances)
	return out
}

// Apply installs a batch of probe results atomically and returns the
// transitions it caused. Results for unknown ids are ignored.
func (t *HealthTable) Apply(results []ProbeResult) []StateChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []StateChange
	for _, r := range results {
		i, ok := t.index[r.ID]
		if !ok {
			continue
		}
		if t.states[i] != r.State {
			changes = append(changes, StateChange{ID: r.ID, From: t.states[i], To: r.State})
			t.states[i] = r.State
		}
	}
	return changes
}

// State returns the state of one instance
func (t *HealthTable) State(id string) (HealthState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.index[id]
	if !ok {
		return Unknown, false
	}
	return t.states[i], true
}

// Snapshot returns (id, url, role, state) for every instance
func (t *HealthTable) Snapshot() []InstanceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]InstanceStatus, len(t.instances))
	for i, inst := range t.instances {
		out[i] = InstanceStatus{ID: inst.ID, URL: inst.URL, Role: inst.Role, State: t.states[i]}
	}
	return out
}

// healthy returns the Healthy instances whose role passes match, in
// registry order
func (t *HealthTable) healthy(match func(config.Role) bool) []config.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []config.Instance
	for i, inst := range t.instances {
		if t.states[i] == Healthy && match(inst.Role) {
			out = append(out, inst)
		}
	}
	return out
}
