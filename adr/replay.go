package adr

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/signalsfoundry/lorawan-simulator/internal/logging"
)

// TraceGatewayReading is one gateway's recorded view of an uplink.
type TraceGatewayReading struct {
	RSSIDBm float64 `json:"rssi"`
	SNRDB   float64 `json:"snr"`
}

// TraceExpectedCommand is the command a reference trace expects the
// controller to issue for an event. Nil means no command expected.
type TraceExpectedCommand struct {
	SpreadingFactor int `json:"sf"`
	TxPowerIndex    int `json:"tx_power_index"`
}

// TraceEvent is one recorded uplink in a reference trace.
type TraceEvent struct {
	EventID         string                         `json:"event_id"`
	NodeID          string                         `json:"node_id"`
	BestGateway     string                         `json:"best_gateway"`
	Gateways        map[string]TraceGatewayReading `json:"gateways"`
	EndTime         float64                        `json:"end_time"`
	ExpectedCommand *TraceExpectedCommand          `json:"expected_command,omitempty"`
}

// Mismatch records one divergence between the controller and the
// reference trace.
type Mismatch struct {
	EventID string
	Field   string
	Want    string
	Got     string
}

// Report accumulates replay results. Mismatches are collected rather
// than raised so a whole scenario can be diagnosed in one pass.
type Report struct {
	Events     int
	Mismatches []Mismatch
}

// OK reports whether the replay matched the reference trace exactly.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

func (r *Report) add(eventID, field, want, got string) {
	r.Mismatches = append(r.Mismatches, Mismatch{EventID: eventID, Field: field, Want: want, Got: got})
}

// Replayer feeds recorded uplink events into a controller and checks
// its decisions against the trace's expectations. It is used by
// validation harnesses comparing against reference simulator output.
type Replayer struct {
	ctrl *Controller
	log  logging.Logger
}

func NewReplayer(ctrl *Controller, log logging.Logger) *Replayer {
	if log == nil {
		log = logging.Noop()
	}
	return &Replayer{ctrl: ctrl, log: log}
}

// Run replays the events in order, feeding each event's gateway
// readings in descending numeric gateway-ID order, and returns the
// accumulated report.
func (rp *Replayer) Run(events []TraceEvent) *Report {
	report := &Report{}
	for _, ev := range events {
		rp.replayOne(ev, report)
	}
	rp.log.Info(context.Background(), "trace replay finished",
		logging.Int("events", report.Events),
		logging.Int("mismatches", len(report.Mismatches)),
	)
	return report
}

func (rp *Replayer) replayOne(ev TraceEvent, report *Report) {
	report.Events++

	receptions := make([]GatewayReception, 0, len(ev.Gateways))
	for id, reading := range ev.Gateways {
		receptions = append(receptions, GatewayReception{
			GatewayID: id,
			RSSIDBm:   reading.RSSIDBm,
			SNRDB:     reading.SNRDB,
		})
	}
	sort.SliceStable(receptions, func(a, b int) bool {
		return gatewayLess(receptions[b].GatewayID, receptions[a].GatewayID)
	})

	outcome, cmd, err := rp.ctrl.HandleUplink(ev.NodeID, receptions, ev.EndTime)
	if err != nil {
		report.add(ev.EventID, "error", "", err.Error())
		return
	}

	if ev.ExpectedCommand == nil {
		if outcome == OutcomeCommandIssued {
			report.add(ev.EventID, "outcome", "no command", fmt.Sprintf("sf=%d power_index=%d",
				cmd.SpreadingFactor, cmd.TxPowerIndex))
		}
		return
	}

	if outcome != OutcomeCommandIssued {
		report.add(ev.EventID, "outcome", "command_issued", outcome.String())
		return
	}
	if cmd.SpreadingFactor != ev.ExpectedCommand.SpreadingFactor {
		report.add(ev.EventID, "sf",
			strconv.Itoa(ev.ExpectedCommand.SpreadingFactor), strconv.Itoa(cmd.SpreadingFactor))
	}
	if cmd.TxPowerIndex != ev.ExpectedCommand.TxPowerIndex {
		report.add(ev.EventID, "tx_power_index",
			strconv.Itoa(ev.ExpectedCommand.TxPowerIndex), strconv.Itoa(cmd.TxPowerIndex))
	}
	if ev.BestGateway != "" {
		if dl, ok := rp.ctrl.Scheduler().PopReady(ev.NodeID, ev.EndTime+rp.ctrl.cfg.RxDelayS); ok {
			if dl.GatewayID != ev.BestGateway {
				report.add(ev.EventID, "best_gateway", ev.BestGateway, dl.GatewayID)
			}
		} else {
			report.add(ev.EventID, "downlink", "scheduled", "missing")
		}
	}
}

// gatewayLess orders gateway IDs numerically when both parse as
// integers, falling back to lexicographic order.
func gatewayLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
