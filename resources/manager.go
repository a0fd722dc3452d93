// Package resources implements the engine-wide resource manager: a single
// table of named resource caps and current allocations, shared across every
// workflow instance running in the same engine. All mutation happens
// inside a single mutex's critical section; no user code ever runs while
// it is held.
package resources

import (
	"sync"

	"github.com/parallex-labs/flowengine/ferrors"
)

// capEntry tracks one resource's declared total. Unbounded resources
// (referenced by a task but never given an explicit cap) are represented
// by an explicit marker rather than math.Inf, so integer-resource
// arithmetic never has to special-case a float infinity.
type capEntry struct {
	value     float64
	unbounded bool
}

// Manager is the engine-wide resource table. Safe for concurrent use by
// multiple workflow coordinators.
type Manager struct {
	mu        sync.Mutex
	totals    map[string]capEntry
	allocated map[string]float64
	// attempts maps a per-attempt allocation id (workflow id + task id +
	// retry count) to what it reserved, so release is exact and a
	// retry's allocation never collides with a prior failed attempt's
	// stale record.
	attempts map[string]map[string]float64
}

// NewManager creates a Manager with the given initial caps. Resource names
// not present here default to an unbounded cap, lazily materialized with
// zero allocation the first time they are referenced.
func NewManager(totals map[string]float64) *Manager {
	m := &Manager{
		totals:    make(map[string]capEntry, len(totals)),
		allocated: make(map[string]float64, len(totals)),
		attempts:  make(map[string]map[string]float64),
	}
	for name, capValue := range totals {
		m.totals[name] = capEntry{value: capValue}
	}
	return m
}

func (m *Manager) entryLocked(name string) capEntry {
	e, ok := m.totals[name]
	if !ok {
		e = capEntry{unbounded: true}
		m.totals[name] = e
		m.allocated[name] = 0
	}
	return e
}

// CanAllocate reports whether req could be allocated right now without
// exceeding any resource's cap.
func (m *Manager) CanAllocate(req map[string]float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canAllocateLocked(req)
}

func (m *Manager) canAllocateLocked(req map[string]float64) bool {
	for name, amount := range req {
		entry := m.entryLocked(name)
		if entry.unbounded {
			continue
		}
		if m.allocated[name]+amount > entry.value {
			return false
		}
	}
	return true
}

// Allocate reserves req under attemptID if doing so would not exceed any
// cap. On failure it returns *ferrors.ResourceUnavailableError naming the
// first resource that would be exceeded.
func (m *Manager) Allocate(attemptID string, req map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, amount := range req {
		entry := m.entryLocked(name)
		if entry.unbounded {
			continue
		}
		if have := entry.value - m.allocated[name]; amount > have {
			return &ferrors.ResourceUnavailableError{Resource: name, Need: amount, Have: have}
		}
	}

	reserved := make(map[string]float64, len(req))
	for name, amount := range req {
		m.allocated[name] += amount
		reserved[name] += amount
	}
	m.attempts[attemptID] = reserved
	return nil
}

// Release subtracts attemptID's recorded allocation. It is idempotent: if
// attemptID has no recorded allocation (already released, or never
// allocated), it is a no-op.
func (m *Manager) Release(attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reserved, ok := m.attempts[attemptID]
	if !ok {
		return
	}
	for name, amount := range reserved {
		m.allocated[name] -= amount
		if m.allocated[name] < 0 {
			m.allocated[name] = 0
		}
	}
	delete(m.attempts, attemptID)
}

// Utilization returns, per resource name, allocated/total. Unbounded
// resources report 0.
func (m *Manager) Utilization() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	util := make(map[string]float64, len(m.totals))
	for name, entry := range m.totals {
		if entry.unbounded || entry.value == 0 {
			util[name] = 0
			continue
		}
		util[name] = m.allocated[name] / entry.value
	}
	return util
}

// UpdateTotals replaces the caps named in newTotals. If a new cap is
// smaller than the currently allocated amount for that resource, the
// allocated bookkeeping figure is clamped down to the new cap so
// Utilization stays within [0,1]; real running tasks holding the prior
// allocation are unaffected; their eventual Release still only subtracts
// their originally recorded amount.
func (m *Manager) UpdateTotals(newTotals map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, capValue := range newTotals {
		m.totals[name] = capEntry{value: capValue}
		if m.allocated[name] > capValue {
			m.allocated[name] = capValue
		}
	}
}

// Cap returns the current cap for name and whether it is unbounded.
func (m *Manager) Cap(name string) (value float64, unbounded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.entryLocked(name)
	return entry.value, entry.unbounded
}
