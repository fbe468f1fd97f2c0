package adr

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/lorawan-simulator/core"
)

// exploraGrouper implements the EXPLoRa-AT variant: instead of
// SNR-margin stepping, every node is assigned once to an SF band so
// that the aggregate airtime of each band is approximately equal for
// a fixed reference payload. Nodes with the best link quality take
// the fastest bands.
type exploraGrouper struct {
	cfg      Config
	assigned bool
	sfByNode map[string]int
}

func newExploraGrouper(cfg Config) *exploraGrouper {
	return &exploraGrouper{cfg: cfg, sfByNode: make(map[string]int)}
}

func (g *exploraGrouper) reset() {
	g.assigned = false
	g.sfByNode = make(map[string]int)
}

// evaluateExplora defers until every known node has a full SNR
// window, then computes the one-shot group assignment and steers each
// node towards its band. Group membership never changes afterwards
// unless the controller is reset.
func (c *Controller) evaluateExplora(nodeID string, ns *NodeState, best GatewayReception, endTime float64) (Outcome, *Command, error) {
	if !c.grouper.assigned {
		if !c.allWindowsFull() {
			return OutcomeThrottled, nil, nil
		}
		c.grouper.assign(c.nodes)
	}

	target, ok := c.grouper.sfByNode[nodeID]
	if !ok {
		// Node appeared after grouping; it keeps its current settings.
		return OutcomeNoChange, nil, nil
	}
	if target == ns.SF {
		return OutcomeNoChange, nil, nil
	}
	metric := stat.Mean(ns.Window, nil)
	return c.issue(nodeID, ns, target, ns.TxPowerIndex, best.GatewayID, endTime, metric, 0)
}

func (c *Controller) allWindowsFull() bool {
	for _, ns := range c.nodes {
		if len(ns.Window) < c.cfg.WindowSize {
			return false
		}
	}
	return true
}

// assign orders nodes by mean window SNR (best first) and sizes each
// SF band proportionally to the inverse of its reference-payload
// airtime, so every band carries roughly the same aggregate airtime.
// Leftover slots from rounding go to the fastest bands.
func (g *exploraGrouper) assign(nodes map[string]*NodeState) {
	type ranked struct {
		id   string
		mean float64
	}
	order := make([]ranked, 0, len(nodes))
	for id, ns := range nodes {
		order = append(order, ranked{id: id, mean: stat.Mean(ns.Window, nil)})
	}
	sort.SliceStable(order, func(a, b int) bool {
		if order[a].mean != order[b].mean {
			return order[a].mean > order[b].mean
		}
		return order[a].id < order[b].id
	})

	nSF := core.MaxSpreadingFactor - core.MinSpreadingFactor + 1
	weights := make([]float64, nSF)
	var total float64
	for i := 0; i < nSF; i++ {
		t := core.AirtimeSeconds(core.AirtimeParams{
			PayloadBytes:    g.cfg.ReferencePayloadBytes,
			SpreadingFactor: core.MinSpreadingFactor + i,
			BandwidthHz:     g.cfg.BandwidthHz,
			PreambleSymbols: g.cfg.PreambleSymbols,
			CodingRate:      1,
			CRC:             true,
			ExplicitHeader:  true,
			LowDataRateOpt:  core.MinSpreadingFactor+i >= 11,
		})
		weights[i] = 1 / t
		total += weights[i]
	}

	n := len(order)
	counts := make([]int, nSF)
	used := 0
	for i := 0; i < nSF; i++ {
		counts[i] = int(float64(n) * weights[i] / total)
		used += counts[i]
	}
	// Distribute the rounding remainder to the fastest bands.
	for i := 0; used < n; i = (i + 1) % nSF {
		counts[i]++
		used++
	}

	g.sfByNode = make(map[string]int, n)
	idx := 0
	for band := 0; band < nSF; band++ {
		for k := 0; k < counts[band] && idx < n; k++ {
			g.sfByNode[order[idx].id] = core.MinSpreadingFactor + band
			idx++
		}
	}
	g.assigned = true
}
