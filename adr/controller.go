package adr

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/lorawan-simulator/core"
	"github.com/signalsfoundry/lorawan-simulator/internal/logging"
)

// Method selects how the controller reduces a node's SNR window to a
// single link-quality metric. The set is closed and chosen once at
// configuration time.
type Method int

const (
	// MethodAvg uses the window mean, the FLoRa network-server default.
	MethodAvg Method = iota
	// MethodMax uses the window maximum, the LoRaWAN-recommended
	// variant that tracks the best recent gateway reception.
	MethodMax
	// MethodExploraAT replaces SNR-driven stepping with a one-shot
	// EXPLoRa-AT grouping that equalizes aggregate airtime across SF
	// bands.
	MethodExploraAT
)

func (m Method) String() string {
	switch m {
	case MethodAvg:
		return "avg"
	case MethodMax:
		return "max"
	case MethodExploraAT:
		return "explora-at"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Outcome is the tri-state result of one uplink evaluation. A
// throttled evaluation is deferred, not failed; callers and tests can
// tell it apart from a genuine no-change decision.
type Outcome int

const (
	OutcomeThrottled Outcome = iota
	OutcomeNoChange
	OutcomeCommandIssued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeThrottled:
		return "throttled"
	case OutcomeNoChange:
		return "no_change"
	case OutcomeCommandIssued:
		return "command_issued"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Config parameterises the controller. It replaces the mutable
// module-level margin constants of older simulators: every knob is
// explicit and fixed at construction.
type Config struct {
	Method Method

	// WindowSize is the SNR sample window per node.
	WindowSize int
	// MinFramesBetweenCommands throttles evaluation: a decision is
	// attempted only when this many frames arrived since the last
	// command, unless the node raises ADRACKReq.
	MinFramesBetweenCommands int
	// InstallationMarginDB is subtracted from the measured margin
	// before stepping.
	InstallationMarginDB float64
	// RxDelayS is the uplink-end to RX1-window delay used to place
	// scheduled downlinks.
	RxDelayS float64

	// EXPLoRa-AT grouping parameters.
	ReferencePayloadBytes int
	BandwidthHz           float64
	PreambleSymbols       int
}

// DefaultConfig returns the FLoRa-parity controller configuration.
func DefaultConfig() Config {
	return Config{
		Method:                   MethodAvg,
		WindowSize:               20,
		MinFramesBetweenCommands: 20,
		InstallationMarginDB:     0,
		RxDelayS:                 1,
		ReferencePayloadBytes:    20,
		BandwidthHz:              125e3,
		PreambleSymbols:          8,
	}
}

// NodeState is the controller's per-node bookkeeping. SF and
// TxPowerIndex change only when a command is applied, never
// speculatively.
type NodeState struct {
	SF           int
	TxPowerIndex int

	// Window is a bounded FIFO of recent best-gateway SNR samples.
	Window                 []float64
	FramesSinceLastCommand int
	ADRAckReq              bool
}

// GatewayReception is one gateway's view of an uplink. Callers feed
// receptions for the same uplink in descending numeric gateway-ID
// order; the controller keeps the first of any RSSI-tied pair, which
// preserves the reference best-gateway selection.
type GatewayReception struct {
	GatewayID string
	RSSIDBm   float64
	SNRDB     float64
}

// Controller is the network-server-side ADR loop: it accumulates
// per-node SNR samples, steps SF and TX power from the measured
// margin, and emits scheduled downlink commands.
type Controller struct {
	cfg   Config
	log   logging.Logger
	sched *DownlinkScheduler
	nodes map[string]*NodeState

	grouper *exploraGrouper
}

// NewController validates the configuration and builds a controller
// writing commands into the given scheduler.
func NewController(cfg Config, sched *DownlinkScheduler, log logging.Logger) (*Controller, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("%w: window size must be positive, got %d", core.ErrInvalidInput, cfg.WindowSize)
	}
	if cfg.MinFramesBetweenCommands <= 0 {
		return nil, fmt.Errorf("%w: frame throttle must be positive, got %d", core.ErrInvalidInput, cfg.MinFramesBetweenCommands)
	}
	if sched == nil {
		sched = NewDownlinkScheduler()
	}
	if log == nil {
		log = logging.Noop()
	}
	c := &Controller{
		cfg:   cfg,
		log:   log,
		sched: sched,
		nodes: make(map[string]*NodeState),
	}
	if cfg.Method == MethodExploraAT {
		c.grouper = newExploraGrouper(cfg)
	}
	return c, nil
}

// Scheduler returns the downlink scheduler the controller writes to.
func (c *Controller) Scheduler() *DownlinkScheduler { return c.sched }

// RxDelayS returns the configured uplink-end to RX1-window delay.
func (c *Controller) RxDelayS() float64 { return c.cfg.RxDelayS }

// RegisterNode seeds a node's initial radio state. Unregistered nodes
// are lazily created at SF12 and maximum power on first uplink.
func (c *Controller) RegisterNode(nodeID string, sf, txPowerIndex int) error {
	if sf < core.MinSpreadingFactor || sf > core.MaxSpreadingFactor {
		return fmt.Errorf("%w: spreading factor %d", core.ErrInvalidInput, sf)
	}
	if txPowerIndex < 0 || txPowerIndex > core.MaxTxPowerIndex {
		return fmt.Errorf("%w: tx power index %d", core.ErrInvalidInput, txPowerIndex)
	}
	c.nodes[nodeID] = &NodeState{SF: sf, TxPowerIndex: txPowerIndex}
	return nil
}

// Node returns a copy of a node's state, or false if unknown.
func (c *Controller) Node(nodeID string) (NodeState, bool) {
	ns, ok := c.nodes[nodeID]
	if !ok {
		return NodeState{}, false
	}
	out := *ns
	out.Window = append([]float64(nil), ns.Window...)
	return out, true
}

// SetADRAckReq sets a node's ADRACKReq flag, bypassing the frame
// throttle on its next evaluation.
func (c *Controller) SetADRAckReq(nodeID string, v bool) {
	if ns, ok := c.nodes[nodeID]; ok {
		ns.ADRAckReq = v
	}
}

// Reset clears all node state, pending downlinks, and any EXPLoRa
// group assignment, so a fresh scenario can be replayed.
func (c *Controller) Reset() {
	c.nodes = make(map[string]*NodeState)
	c.sched.ClearAll()
	if c.grouper != nil {
		c.grouper.reset()
	}
}

// HandleUplink records one successful uplink reception and runs the
// decision loop. receptions carries every gateway that decoded the
// frame, pre-sorted in descending numeric gateway-ID order; endTime
// is the uplink's end in simulation seconds. When a command is
// issued, it has already been applied to the node state and scheduled
// as a downlink through the best gateway.
func (c *Controller) HandleUplink(nodeID string, receptions []GatewayReception, endTime float64) (Outcome, *Command, error) {
	if len(receptions) == 0 {
		return OutcomeThrottled, nil, fmt.Errorf("%w: uplink without receptions", core.ErrInvalidInput)
	}

	ns, ok := c.nodes[nodeID]
	if !ok {
		ns = &NodeState{SF: core.MaxSpreadingFactor, TxPowerIndex: 0}
		c.nodes[nodeID] = ns
	}

	best := receptions[0]
	for _, r := range receptions[1:] {
		if r.SNRDB > best.SNRDB {
			best = r
		}
	}

	ns.Window = append(ns.Window, best.SNRDB)
	if len(ns.Window) > c.cfg.WindowSize {
		ns.Window = ns.Window[len(ns.Window)-c.cfg.WindowSize:]
	}
	ns.FramesSinceLastCommand++

	if len(ns.Window) < c.cfg.WindowSize {
		return OutcomeThrottled, nil, nil
	}
	if ns.FramesSinceLastCommand < c.cfg.MinFramesBetweenCommands && !ns.ADRAckReq {
		return OutcomeThrottled, nil, nil
	}

	if c.cfg.Method == MethodExploraAT {
		return c.evaluateExplora(nodeID, ns, best, endTime)
	}
	return c.evaluate(nodeID, ns, best, endTime)
}

func (c *Controller) evaluate(nodeID string, ns *NodeState, best GatewayReception, endTime float64) (Outcome, *Command, error) {
	var metric float64
	switch c.cfg.Method {
	case MethodAvg:
		metric = stat.Mean(ns.Window, nil)
	case MethodMax:
		metric = floats.Max(ns.Window)
	default:
		return OutcomeThrottled, nil, fmt.Errorf("%w: unknown ADR method %d", core.ErrInvalidInput, int(c.cfg.Method))
	}

	required := core.RequiredSNRdB[ns.SF-core.MinSpreadingFactor]
	margin := metric - required - c.cfg.InstallationMarginDB
	step := int(RoundHalfAwayFromZero(margin / 3))

	newSF, newIdx := applySteps(ns.SF, ns.TxPowerIndex, step)
	if newSF == ns.SF && newIdx == ns.TxPowerIndex {
		return OutcomeNoChange, nil, nil
	}
	return c.issue(nodeID, ns, newSF, newIdx, best.GatewayID, endTime, metric, margin)
}

// issue applies the new state, encodes the command, and schedules it
// into the node's RX1 window through the best gateway.
func (c *Controller) issue(nodeID string, ns *NodeState, newSF, newIdx int, gatewayID string, endTime, metric, margin float64) (Outcome, *Command, error) {
	cmd := &Command{
		SpreadingFactor: newSF,
		TxPowerIndex:    newIdx,
		ChannelMask:     0xFFFF,
		NbTrans:         1,
	}
	frame, err := cmd.Encode()
	if err != nil {
		return OutcomeThrottled, nil, err
	}

	ns.SF = newSF
	ns.TxPowerIndex = newIdx
	ns.FramesSinceLastCommand = 0
	ns.ADRAckReq = false

	c.sched.Replace(ScheduledDownlink{
		NodeID:    nodeID,
		Time:      endTime + c.cfg.RxDelayS,
		Frame:     frame,
		GatewayID: gatewayID,
	})

	c.log.Debug(context.Background(), "adr command issued",
		logging.String("node", nodeID),
		logging.Int("sf", newSF),
		logging.Int("tx_power_index", newIdx),
		logging.Float64("metric_db", metric),
		logging.Float64("margin_db", margin),
		logging.String("gateway", gatewayID),
	)
	return OutcomeCommandIssued, cmd, nil
}

// applySteps walks the (sf, txPowerIndex) pair by the given step
// count. Positive steps first lower SF to the floor, then back off
// transmit power; negative steps first restore power, then raise SF.
func applySteps(sf, idx, step int) (int, int) {
	for step > 0 && sf > core.MinSpreadingFactor {
		sf--
		step--
	}
	for step > 0 && idx < core.MaxTxPowerIndex {
		idx++
		step--
	}
	for step < 0 && idx > 0 {
		idx--
		step++
	}
	for step < 0 && sf < core.MaxSpreadingFactor {
		sf++
		step++
	}
	return sf, idx
}

// RoundHalfAwayFromZero rounds halves away from zero:
// copysign(floor(abs(x)+0.5), x). The ADR step computation depends on
// this exact behavior; banker's rounding diverges from the reference
// traces on .5 margins.
func RoundHalfAwayFromZero(x float64) float64 {
	return math.Copysign(math.Floor(math.Abs(x)+0.5), x)
}
