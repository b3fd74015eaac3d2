// Package selection implements the pure, side-effect-free upstream
// selection rules of spec §4.3. Every function here takes a snapshot
// and returns a decision; none of them read live state directly, which
// is what keeps them a "pure function over state" (spec §8 property 13)
// and trivially unit-testable without a running health monitor — the
// same shape as the prototype's proxy/selection.rs.
package selection

import (
	"github.com/chainbound/vixy/common"
	"github.com/chainbound/vixy/state"
)

// SelectELHTTP returns the first healthy primary EL upstream in
// declaration order, falling back to the first healthy backup if no
// primary is healthy. Used for EL HTTP pass-through dispatch.
func SelectELHTTP(nodes []state.ELView) (*state.ELView, bool) {
	return selectEL(nodes, func(state.ELView) bool { return true })
}

// SelectELWS applies the same rule as SelectELHTTP, but only considers
// upstreams that declare a ws_url. Used both for the initial WS dial and
// by the per-connection watcher's best-node query — callers that want
// "stay put unless strictly better" logic compare the result's name
// against their current upstream themselves; this function always just
// answers "what is best right now".
func SelectELWS(nodes []state.ELView) (*state.ELView, bool) {
	return selectEL(nodes, func(v state.ELView) bool { return v.Upstream.HasWS() })
}

func selectEL(nodes []state.ELView, eligible func(state.ELView) bool) (*state.ELView, bool) {
	var firstBackup *state.ELView

	for i := range nodes {
		n := nodes[i]
		if !eligible(n) || !n.IsHealthy {
			continue
		}
		if n.Upstream.Role == common.RolePrimary {
			return &nodes[i], true
		}
		if firstBackup == nil {
			firstBackup = &nodes[i]
		}
	}
	if firstBackup != nil {
		return firstBackup, true
	}
	return nil, false
}

// SelectCL returns the first healthy CL upstream in declaration order.
func SelectCL(nodes []state.CLView) (*state.CLView, bool) {
	for i := range nodes {
		if nodes[i].IsHealthy {
			return &nodes[i], true
		}
	}
	return nil, false
}
