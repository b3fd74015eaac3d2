// Package health implements the background monitor that periodically
// probes every upstream and keeps state.State current (spec §4.2).
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chainbound/vixy/common"
	"github.com/chainbound/vixy/state"
	"github.com/chainbound/vixy/telemetry"
)

// Monitor runs the fixed-period probe cycle. It is the single writer
// of state.State; everything else only reads it.
type Monitor struct {
	state  *state.State
	client *http.Client
	logger *zerolog.Logger
}

// NewMonitor builds a Monitor. The shared http.Client carries no fixed
// Timeout of its own; each probe is bounded individually by a
// context.WithTimeout derived from state.HealthCheckTimeout, so a slow
// upstream cannot stall the whole cycle past its budget.
func NewMonitor(st *state.State, logger *zerolog.Logger) *Monitor {
	lg := logger.With().Str("component", "health_monitor").Logger()
	return &Monitor{
		state:  st,
		client: &http.Client{},
		logger: &lg,
	}
}

// Run blocks, executing one probe cycle every HealthCheckInterval, until
// ctx is cancelled. Cycles never overlap: if a cycle's wall clock
// exceeds the interval, the next one starts immediately (spec §4.2
// Scheduling).
func (m *Monitor) Run(ctx context.Context) {
	interval := m.state.HealthCheckInterval
	for {
		start := time.Now()
		m.runCycle(ctx)

		if ctx.Err() != nil {
			return
		}

		wait := interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context) {
	var wg errgroup.Group
	wg.Go(func() error {
		m.runELCycle(ctx)
		return nil
	})
	wg.Go(func() error {
		m.runCLCycle(ctx)
		return nil
	})
	_ = wg.Wait()

	// Step 6: recompute the failover flag only after both kinds have
	// settled, so it never reflects a half-updated EL view.
	elNodes := m.state.ELSnapshot()
	anyHealthyPrimary := false
	for _, n := range elNodes {
		if n.Upstream.Role == common.RolePrimary && n.IsHealthy {
			anyHealthyPrimary = true
			break
		}
	}
	failoverNow := !anyHealthyPrimary
	if m.state.SetELFailoverActive(failoverNow) {
		telemetry.ELFailoversTotal.Inc()
		m.logger.Warn().Msg("EL failover activated: no healthy primary")
	} else if !failoverNow {
		m.logger.Debug().Msg("EL primaries healthy")
	}

	healthyEL, healthyCL := 0, 0
	for _, n := range elNodes {
		if n.IsHealthy {
			healthyEL++
		}
	}
	for _, n := range m.state.CLSnapshot() {
		if n.IsHealthy {
			healthyCL++
		}
	}
	telemetry.ELHealthyNodes.Set(float64(healthyEL))
	telemetry.CLHealthyNodes.Set(float64(healthyCL))
}

func (m *Monitor) runELCycle(ctx context.Context) {
	topology := m.state.ELTopology()
	prev := m.state.ELSnapshot()
	n := len(topology)
	if n == 0 {
		return
	}

	type result struct {
		blockNumber uint64
		err         error
	}
	results := make([]result, n)

	var g errgroup.Group
	for i, u := range topology {
		i, u := i, u
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, m.state.HealthCheckTimeout)
			defer cancel()
			bn, err := ProbeEL(pctx, m.client, u.HTTPURL)
			results[i] = result{blockNumber: bn, err: err}
			return nil
		})
	}
	_ = g.Wait()

	newRuntime := make([]state.ELRuntime, n)
	for i, u := range topology {
		r := prev[i].ELRuntime
		if res := results[i]; res.err == nil {
			r.CheckOK = true
			r.BlockNumber = res.blockNumber
			r.ConsecutiveFailures = 0
		} else {
			r.CheckOK = false
			if r.ConsecutiveFailures < m.state.MaxConsecutiveFailures {
				r.ConsecutiveFailures++
			}
			m.logger.Warn().Err(res.err).Str("upstream", u.Name).Msg("EL probe failed")
		}
		newRuntime[i] = r
	}

	var chainHead uint64
	for _, r := range newRuntime {
		if r.BlockNumber > chainHead {
			chainHead = r.BlockNumber
		}
	}
	m.state.SetELChainHead(chainHead)
	telemetry.ELChainHead.Set(float64(chainHead))

	for i, u := range topology {
		r := &newRuntime[i]
		var lag uint64
		if chainHead > r.BlockNumber {
			lag = chainHead - r.BlockNumber
		}
		r.Lag = lag
		r.IsHealthy = r.CheckOK && lag <= m.state.MaxELLag && r.ConsecutiveFailures < m.state.MaxConsecutiveFailures

		tier := string(u.Role)
		telemetry.ELNodeBlockNumber.WithLabelValues(u.Name, tier).Set(float64(r.BlockNumber))
		telemetry.ELNodeLagBlocks.WithLabelValues(u.Name, tier).Set(float64(lag))
		telemetry.ELNodeHealthy.WithLabelValues(u.Name, tier).Set(boolToFloat(r.IsHealthy))
	}

	m.state.ApplyELBatch(newRuntime)
}

func (m *Monitor) runCLCycle(ctx context.Context) {
	topology := m.state.CLTopology()
	prev := m.state.CLSnapshot()
	n := len(topology)
	if n == 0 {
		return
	}

	type result struct {
		healthOK    bool
		healthErr   error
		slot        uint64
		slotErr     error
	}
	results := make([]result, n)

	var g errgroup.Group
	for i, u := range topology {
		i, u := i, u
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, m.state.HealthCheckTimeout)
			defer cancel()

			var inner errgroup.Group
			var r result
			inner.Go(func() error {
				ok, err := ProbeCLHealth(pctx, m.client, u.HTTPURL)
				r.healthOK, r.healthErr = ok, err
				return nil
			})
			inner.Go(func() error {
				slot, err := ProbeCLSlot(pctx, m.client, u.HTTPURL)
				r.slot, r.slotErr = slot, err
				return nil
			})
			_ = inner.Wait()
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	newRuntime := make([]state.CLRuntime, n)
	for i, u := range topology {
		r := prev[i].CLRuntime
		res := results[i]

		r.HealthOK = res.healthErr == nil && res.healthOK
		if res.healthErr != nil {
			m.logger.Warn().Err(res.healthErr).Str("upstream", u.Name).Msg("CL health probe failed")
		}

		if res.slotErr == nil {
			r.CheckOK = true
			r.Slot = res.slot
		} else {
			r.CheckOK = false
			m.logger.Warn().Err(res.slotErr).Str("upstream", u.Name).Msg("CL slot probe failed")
		}

		if res.healthErr == nil && res.slotErr == nil {
			r.ConsecutiveFailures = 0
		} else if r.ConsecutiveFailures < m.state.MaxConsecutiveFailures {
			r.ConsecutiveFailures++
		}

		newRuntime[i] = r
	}

	var chainHead uint64
	for _, r := range newRuntime {
		if r.Slot > chainHead {
			chainHead = r.Slot
		}
	}
	m.state.SetCLChainHead(chainHead)
	telemetry.CLChainHead.Set(float64(chainHead))

	for i, u := range topology {
		r := &newRuntime[i]
		var lag uint64
		if chainHead > r.Slot {
			lag = chainHead - r.Slot
		}
		r.Lag = lag
		r.IsHealthy = r.CheckOK && r.HealthOK && lag <= m.state.MaxCLLag && r.ConsecutiveFailures < m.state.MaxConsecutiveFailures

		telemetry.CLNodeSlot.WithLabelValues(u.Name).Set(float64(r.Slot))
		telemetry.CLNodeLagSlots.WithLabelValues(u.Name).Set(float64(lag))
		telemetry.CLNodeHealthy.WithLabelValues(u.Name).Set(boolToFloat(r.IsHealthy))
	}

	m.state.ApplyCLBatch(newRuntime)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
