// Package state holds the shared, concurrency-safe view of upstream
// health and chain position (spec §4.1). The health monitor is the sole
// writer; selection, the WS watcher, and the status endpoint are
// readers that must never block on a probe in flight.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainbound/vixy/common"
)

// ELRuntime is the mutable part of one EL upstream's state (spec §3).
type ELRuntime struct {
	CheckOK             bool
	BlockNumber         uint64
	ConsecutiveFailures uint32
	IsHealthy           bool
	Lag                 uint64
}

// CLRuntime is the mutable part of one CL upstream's state (spec §3).
// CheckOK is not in spec §3's field list but is required by the CL
// health formula (spec §4.2/§8 property 4, "as EL plus health_ok"): it
// reflects the most recent /eth/v1/beacon/headers/head slot probe,
// independently of HealthOK which reflects /eth/v1/node/health.
type CLRuntime struct {
	CheckOK             bool
	HealthOK            bool
	Slot                uint64
	ConsecutiveFailures uint32
	IsHealthy           bool
	Lag                 uint64
}

// ELView pairs a topology entry with its current runtime snapshot. It is
// a value, not a pointer into live state, so callers can hold it across
// suspension points freely.
type ELView struct {
	Upstream *common.Upstream
	ELRuntime
}

// CLView is the CL counterpart of ELView.
type CLView struct {
	Upstream *common.Upstream
	CLRuntime
}

// Thresholds are the aggregate numeric fields of spec §3 that never
// change after construction; per spec they are read without locking.
type Thresholds struct {
	MaxELLag               uint64
	MaxCLLag               uint64
	MaxConsecutiveFailures uint32
	HealthCheckInterval    time.Duration
	HealthCheckTimeout     time.Duration
}

// State is the process-wide Shared Node State. One writer (the health
// monitor), many readers.
type State struct {
	elTopology []*common.Upstream
	clTopology []*common.Upstream

	elMu      sync.RWMutex
	elRuntime []ELRuntime

	clMu      sync.RWMutex
	clRuntime []CLRuntime

	elChainHead      atomic.Uint64
	clChainHead      atomic.Uint64
	elFailoverActive atomic.Bool

	Thresholds
}

// New builds a State from the frozen topology and global thresholds.
// Every node starts unhealthy with position 0, per spec §4.1.
func New(topology []*common.Upstream, t Thresholds) *State {
	s := &State{Thresholds: t}
	for _, u := range topology {
		switch u.Kind {
		case common.KindEL:
			s.elTopology = append(s.elTopology, u)
			s.elRuntime = append(s.elRuntime, ELRuntime{})
		case common.KindCL:
			s.clTopology = append(s.clTopology, u)
			s.clRuntime = append(s.clRuntime, CLRuntime{})
		}
	}
	return s
}

// ELTopology returns the immutable, declaration-ordered list of EL
// upstreams. Safe to share: the slice and its elements are never
// mutated after construction.
func (s *State) ELTopology() []*common.Upstream { return s.elTopology }

// CLTopology is the CL counterpart of ELTopology.
func (s *State) CLTopology() []*common.Upstream { return s.clTopology }

// ELSnapshot returns a point-in-time, declaration-ordered copy of every
// EL upstream's runtime state. Does not block on any probe in flight.
func (s *State) ELSnapshot() []ELView {
	s.elMu.RLock()
	defer s.elMu.RUnlock()

	out := make([]ELView, len(s.elTopology))
	for i, u := range s.elTopology {
		out[i] = ELView{Upstream: u, ELRuntime: s.elRuntime[i]}
	}
	return out
}

// CLSnapshot is the CL counterpart of ELSnapshot.
func (s *State) CLSnapshot() []CLView {
	s.clMu.RLock()
	defer s.clMu.RUnlock()

	out := make([]CLView, len(s.clTopology))
	for i, u := range s.clTopology {
		out[i] = CLView{Upstream: u, CLRuntime: s.clRuntime[i]}
	}
	return out
}

// ELByName returns the current runtime view of a single EL upstream.
func (s *State) ELByName(name string) (ELView, bool) {
	s.elMu.RLock()
	defer s.elMu.RUnlock()
	for i, u := range s.elTopology {
		if u.Name == name {
			return ELView{Upstream: u, ELRuntime: s.elRuntime[i]}, true
		}
	}
	return ELView{}, false
}

// CLByName returns the current runtime view of a single CL upstream.
func (s *State) CLByName(name string) (CLView, bool) {
	s.clMu.RLock()
	defer s.clMu.RUnlock()
	for i, u := range s.clTopology {
		if u.Name == name {
			return CLView{Upstream: u, CLRuntime: s.clRuntime[i]}, true
		}
	}
	return CLView{}, false
}

// ApplyELBatch atomically replaces every EL upstream's runtime state
// with the monitor's freshly computed values. newRuntime must be
// parallel to ELTopology() in length and order; the swap happens under
// a single write-lock acquisition so readers never observe a mix of old
// and new values (spec §4.1: "the state swap is all-or-nothing").
func (s *State) ApplyELBatch(newRuntime []ELRuntime) {
	s.elMu.Lock()
	copy(s.elRuntime, newRuntime)
	s.elMu.Unlock()
}

// ApplyCLBatch is the CL counterpart of ApplyELBatch.
func (s *State) ApplyCLBatch(newRuntime []CLRuntime) {
	s.clMu.Lock()
	copy(s.clRuntime, newRuntime)
	s.clMu.Unlock()
}

// ELChainHead returns the highest block number observed across EL
// upstreams as of the last completed cycle.
func (s *State) ELChainHead() uint64 { return s.elChainHead.Load() }

// SetELChainHead is called once per cycle by the monitor.
func (s *State) SetELChainHead(v uint64) { s.elChainHead.Store(v) }

// CLChainHead returns the highest slot observed across CL upstreams.
func (s *State) CLChainHead() uint64 { return s.clChainHead.Load() }

// SetCLChainHead is called once per cycle by the monitor.
func (s *State) SetCLChainHead(v uint64) { s.clChainHead.Store(v) }

// ELFailoverActive reports whether no EL primary is currently healthy.
func (s *State) ELFailoverActive() bool { return s.elFailoverActive.Load() }

// SetELFailoverActive updates the failover flag and reports whether
// this call is the false→true transition — the event spec §4.2 step 6
// counts as a failover.
func (s *State) SetELFailoverActive(active bool) (transitioned bool) {
	prev := s.elFailoverActive.Swap(active)
	return !prev && active
}
