// Command simulator runs a LoRaWAN uplink/ADR scenario: nodes
// transmit on a shared channel, gateways arbitrate collisions, and
// the network server's ADR loop steers each node's spreading factor
// and transmit power.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/lorawan-simulator/adr"
	"github.com/signalsfoundry/lorawan-simulator/core"
	"github.com/signalsfoundry/lorawan-simulator/internal/logging"
	"github.com/signalsfoundry/lorawan-simulator/internal/observability"
	"github.com/signalsfoundry/lorawan-simulator/simtime"
)

func main() {
	scenarioPath := flag.String("scenario", "configs/scenario.json", "path to the JSON scenario")
	uplinks := flag.Int("uplinks", 40, "uplink rounds to simulate per node")
	intervalS := flag.Float64("interval", 60.0, "mean seconds between a node's uplinks")
	seed := flag.Int64("seed", 1, "random seed; a fixed seed reproduces the full trace")
	policyName := flag.String("capture", "flora", "capture policy: flora or generic")
	methodName := flag.String("adr", "avg", "adr method: avg, max, or explora-at")
	payloadBytes := flag.Int("payload", 20, "uplink payload size in bytes")
	metricsAddr := flag.String("metrics-addr", "", "listen address for /metrics; empty disables the endpoint")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	if err := run(ctx, log, *scenarioPath, *uplinks, *intervalS, *seed, *policyName, *methodName, *payloadBytes, *metricsAddr); err != nil {
		log.Error(ctx, "simulation failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, log logging.Logger, scenarioPath string, uplinks int, intervalS float64, seed int64, policyName, methodName string, payloadBytes int, metricsAddr string) error {
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn(ctx, "metrics server stopped", logging.String("error", err.Error()))
			}
		}()
		defer srv.Close()
		log.Info(ctx, "metrics endpoint up", logging.String("addr", metricsAddr))
	}

	policy, err := parsePolicy(policyName)
	if err != nil {
		return err
	}
	method, err := parseMethod(methodName)
	if err != nil {
		return err
	}

	f, err := os.Open(scenarioPath)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	scenario, err := core.LoadScenario(f)
	f.Close()
	if err != nil {
		return err
	}
	log.Info(ctx, "scenario loaded",
		logging.String("path", scenarioPath),
		logging.Int("nodes", len(scenario.Nodes)),
		logging.Int("gateways", len(scenario.Gateways)),
	)

	sim, err := newSimulation(scenario, policy, method, payloadBytes, intervalS, seed, log, collector)
	if err != nil {
		return err
	}

	tracer := otel.Tracer("simulator")
	runCtx, span := tracer.Start(ctx, "simulation.run")
	span.SetAttributes(
		attribute.Int("uplinks", uplinks),
		attribute.String("capture_policy", policy.String()),
		attribute.String("adr_method", method.String()),
		attribute.Int64("seed", seed),
	)
	defer span.End()

	if err := sim.runRounds(runCtx, uplinks); err != nil {
		return err
	}
	sim.logSummary(runCtx)
	return nil
}

// simulation owns the per-run state: channel model, capture resolver,
// ADR controller, and the event engine driving them.
type simulation struct {
	scenario *core.Scenario
	model    *core.LinkBudgetModel
	resolver *core.CaptureResolver
	ctrl     *adr.Controller
	engine   *simtime.Engine
	rng      *rand.Rand
	log      logging.Logger
	metrics  *observability.SimCollector

	intervalS    float64
	payloadBytes int
	gateways     []*core.Gateway // descending numeric ID order

	uplinksSent   int
	framesDecoded int
	commandsSent  int
}

func newSimulation(scenario *core.Scenario, policy core.CapturePolicy, method adr.Method, payloadBytes int, intervalS float64, seed int64, log logging.Logger, metrics *observability.SimCollector) (*simulation, error) {
	rng := rand.New(rand.NewSource(seed))

	model, err := core.NewLinkBudgetModel(scenario.Channel, rng)
	if err != nil {
		return nil, err
	}

	resolver := core.NewCaptureResolver(core.CaptureConfigFromRadioLink(
		policy, scenario.Channel, core.ThermalNoiseFloorDBm(scenario.Channel.BandwidthHz, scenario.Channel.NoiseFigureDB),
	))

	cfg := adr.DefaultConfig()
	cfg.Method = method
	cfg.ReferencePayloadBytes = payloadBytes
	cfg.BandwidthHz = scenario.Channel.BandwidthHz
	cfg.PreambleSymbols = scenario.Channel.PreambleSymbols
	ctrl, err := adr.NewController(cfg, adr.NewDownlinkScheduler(), log)
	if err != nil {
		return nil, err
	}
	for _, n := range scenario.Nodes {
		if err := ctrl.RegisterNode(n.ID, n.SpreadingFactor, n.TxPowerIndex); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}

	gateways := append([]*core.Gateway(nil), scenario.Gateways...)
	sort.SliceStable(gateways, func(a, b int) bool {
		return gatewayGreater(gateways[a].ID, gateways[b].ID)
	})

	return &simulation{
		scenario:     scenario,
		model:        model,
		resolver:     resolver,
		ctrl:         ctrl,
		engine:       simtime.NewEngine(),
		rng:          rng,
		log:          log,
		metrics:      metrics,
		intervalS:    intervalS,
		payloadBytes: payloadBytes,
		gateways:     gateways,
	}, nil
}

// runRounds schedules one uplink round per interval and drains the
// event queue. Nodes jitter their start inside the round so frames
// overlap only occasionally, as in a live deployment.
func (s *simulation) runRounds(ctx context.Context, rounds int) error {
	var loopErr error
	for r := 0; r < rounds; r++ {
		roundStart := float64(r) * s.intervalS
		s.engine.Schedule(roundStart, func(t float64) {
			if loopErr == nil {
				loopErr = s.round(ctx, t)
			}
		})
	}
	horizon := float64(rounds)*s.intervalS + s.intervalS
	if err := s.engine.Run(ctx, horizon); err != nil {
		return err
	}
	return loopErr
}

// round transmits one frame per node, resolves capture per gateway,
// and feeds decoded frames into the ADR controller.
func (s *simulation) round(ctx context.Context, roundStart float64) error {
	ch := s.scenario.Channel

	txs := make([]*core.TransmissionEvent, len(s.scenario.Nodes))
	for i, n := range s.scenario.Nodes {
		airtime := core.AirtimeSeconds(core.AirtimeParams{
			PayloadBytes:    s.payloadBytes,
			SpreadingFactor: n.SpreadingFactor,
			BandwidthHz:     ch.BandwidthHz,
			PreambleSymbols: ch.PreambleSymbols,
			CodingRate:      1,
			CRC:             true,
			ExplicitHeader:  true,
			LowDataRateOpt:  n.SpreadingFactor >= 11,
		})
		start := roundStart + s.rng.Float64()*s.intervalS*0.5
		txs[i] = &core.TransmissionEvent{
			NodeID:          n.ID,
			StartTime:       start,
			EndTime:         start + airtime,
			SpreadingFactor: n.SpreadingFactor,
			FrequencyHz:     ch.FrequencyHz,
			BandwidthHz:     ch.BandwidthHz,
			TxPowerDBm:      core.TxPowerDBm[n.TxPowerIndex],
		}
		s.uplinksSent++
		s.metrics.ObserveUplink()
	}

	// Per-gateway capture over this round's frames. decoded maps a
	// node to the gateways that got its frame, already in gateway
	// processing order.
	decoded := make(map[string][]adr.GatewayReception)
	for _, gw := range s.gateways {
		candidates := make([]core.ReceptionCandidate, 0, len(txs))
		for i, tx := range txs {
			cand, err := s.model.Receive(tx, s.scenario.Nodes[i].DistanceTo(gw), gw.ID)
			if err != nil {
				return err
			}
			// Undetectable arrivals neither decode nor arbitrate.
			if math.IsInf(cand.SNRDB, -1) {
				continue
			}
			candidates = append(candidates, cand)
		}
		winners, err := s.resolver.Resolve(candidates)
		if err != nil {
			return err
		}
		for i, won := range winners {
			s.metrics.ObserveCapture(s.resolver.Policy().String(), won, candidates[i].SNRDB)
			if !won {
				continue
			}
			nodeID := candidates[i].Transmission.NodeID
			decoded[nodeID] = append(decoded[nodeID], adr.GatewayReception{
				GatewayID: gw.ID,
				RSSIDBm:   candidates[i].RSSIDBm,
				SNRDB:     candidates[i].SNRDB,
			})
		}
	}

	for i, n := range s.scenario.Nodes {
		receptions := decoded[n.ID]
		if len(receptions) == 0 {
			continue
		}
		s.framesDecoded++
		endTime := txs[i].EndTime
		outcome, _, err := s.ctrl.HandleUplink(n.ID, receptions, endTime)
		if err != nil {
			return err
		}
		s.metrics.ObserveADRDecision(outcome.String())
		if outcome == adr.OutcomeCommandIssued {
			s.metrics.ObserveDownlinkScheduled()
			s.scheduleDownlinkDelivery(ctx, n, endTime)
		}
	}

	hits, misses := s.model.Cache().Stats()
	s.metrics.SetCacheStats(hits, misses)
	return nil
}

// scheduleDownlinkDelivery arranges for the node to apply the pending
// command when its RX1 window opens.
func (s *simulation) scheduleDownlinkDelivery(ctx context.Context, n *core.Node, uplinkEnd float64) {
	s.engine.After(s.ctrl.RxDelayS()+uplinkEnd-s.engine.Now(), func(t float64) {
		dl, ok := s.ctrl.Scheduler().PopReady(n.ID, t)
		if !ok {
			return
		}
		cmd, err := adr.DecodeCommand(dl.Frame)
		if err != nil {
			s.log.Warn(ctx, "undecodable downlink frame",
				logging.String("node", n.ID), logging.String("error", err.Error()))
			return
		}
		n.SpreadingFactor = cmd.SpreadingFactor
		n.TxPowerIndex = cmd.TxPowerIndex
		s.commandsSent++
		s.log.Info(ctx, "node applied adr command",
			logging.String("node", n.ID),
			logging.Int("sf", cmd.SpreadingFactor),
			logging.Float64("tx_power_dbm", cmd.TxPowerDBm()),
			logging.String("gateway", dl.GatewayID),
		)
	})
}

func (s *simulation) logSummary(ctx context.Context) {
	hits, misses := s.model.Cache().Stats()
	s.log.Info(ctx, "simulation complete",
		logging.Int("uplinks_sent", s.uplinksSent),
		logging.Int("frames_decoded", s.framesDecoded),
		logging.Int("commands_applied", s.commandsSent),
		logging.Int("cache_hits", int(hits)),
		logging.Int("cache_misses", int(misses)),
	)
	for _, n := range s.scenario.Nodes {
		s.log.Info(ctx, "final node state",
			logging.String("node", n.ID),
			logging.Int("sf", n.SpreadingFactor),
			logging.Int("tx_power_index", n.TxPowerIndex),
		)
	}
}

func parsePolicy(name string) (core.CapturePolicy, error) {
	switch name {
	case "flora":
		return core.PolicyFLoRa, nil
	case "generic":
		return core.PolicyGeneric, nil
	default:
		return 0, fmt.Errorf("unknown capture policy %q", name)
	}
}

func parseMethod(name string) (adr.Method, error) {
	switch name {
	case "avg":
		return adr.MethodAvg, nil
	case "max":
		return adr.MethodMax, nil
	case "explora-at":
		return adr.MethodExploraAT, nil
	default:
		return 0, fmt.Errorf("unknown adr method %q", name)
	}
}

// gatewayGreater orders gateway IDs numerically descending when both
// parse as integers, lexicographically descending otherwise.
func gatewayGreater(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na > nb
	}
	return a > b
}
