package core

import (
	"fmt"
	"sort"
)

// CapturePolicy selects the collision arbitration algorithm. It is a
// closed set chosen once at configuration time.
type CapturePolicy int

const (
	// PolicyFLoRa reproduces the FLoRa non-orthogonal-SF capture
	// rule, including the preamble capture-window timing check.
	PolicyFLoRa CapturePolicy = iota
	// PolicyGeneric applies an SNR-margin rule: the strongest signal
	// wins only when its margin over the runner-up exceeds the
	// capture threshold. With timing information it works on exact
	// SNIR, otherwise on raw RSSI.
	PolicyGeneric
)

func (p CapturePolicy) String() string {
	switch p {
	case PolicyFLoRa:
		return "flora"
	case PolicyGeneric:
		return "generic"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// CaptureConfig parameterises a CaptureResolver.
type CaptureConfig struct {
	Policy               CapturePolicy
	CaptureThresholdDB   float64
	PreambleSymbols      int
	CaptureWindowSymbols int
	// NoiseFloorDBm feeds the generic policy's SNIR computation when
	// timing is available.
	NoiseFloorDBm float64
}

// CaptureConfigFromRadioLink derives resolver parameters from a
// channel configuration.
func CaptureConfigFromRadioLink(policy CapturePolicy, rl RadioLinkConfig, noiseFloorDBm float64) CaptureConfig {
	return CaptureConfig{
		Policy:               policy,
		CaptureThresholdDB:   rl.CaptureThresholdDB,
		PreambleSymbols:      rl.PreambleSymbols,
		CaptureWindowSymbols: rl.CaptureWindowSymbols,
		NoiseFloorDBm:        noiseFloorDBm,
	}
}

// CaptureResolver decides which of a set of overlapping receptions at
// one gateway survives. Capture is a per-gateway decision: callers
// run one Resolve per gateway over that gateway's candidates only.
type CaptureResolver struct {
	cfg CaptureConfig
}

func NewCaptureResolver(cfg CaptureConfig) *CaptureResolver {
	return &CaptureResolver{cfg: cfg}
}

// Policy returns the resolver's configured arbitration policy.
func (r *CaptureResolver) Policy() CapturePolicy { return r.cfg.Policy }

// Resolve returns one boolean per candidate, true for the captured
// signal. At most one entry is true; an empty input yields an empty
// output.
func (r *CaptureResolver) Resolve(candidates []ReceptionCandidate) ([]bool, error) {
	if len(candidates) == 0 {
		return []bool{}, nil
	}
	switch r.cfg.Policy {
	case PolicyFLoRa:
		return r.resolveFLoRa(candidates)
	case PolicyGeneric:
		return r.resolveGeneric(candidates)
	default:
		return nil, fmt.Errorf("%w: unknown capture policy %d", ErrInvalidInput, int(r.cfg.Policy))
	}
}

// resolveFLoRa sorts candidates by RSSI descending and checks the
// strongest against every weaker, time-overlapping, same-frequency
// competitor via the non-orthogonal-SF delta table. A competitor that
// is both too close in power and still on air past the capture-window
// start destroys the frame for everyone.
func (r *CaptureResolver) resolveFLoRa(candidates []ReceptionCandidate) ([]bool, error) {
	n := len(candidates)
	winners := make([]bool, n)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].RSSIDBm > candidates[order[b]].RSSIDBm
	})

	strongest := candidates[order[0]]
	tx0 := strongest.Transmission
	if tx0 == nil {
		return nil, fmt.Errorf("%w: flora capture requires transmission timing", ErrInvalidInput)
	}
	sf0 := tx0.SpreadingFactor
	if sf0 < MinSpreadingFactor || sf0 > MaxSpreadingFactor {
		return nil, fmt.Errorf("%w: spreading factor %d out of range", ErrInvalidInput, sf0)
	}
	if n == 1 {
		winners[order[0]] = true
		return winners, nil
	}

	// The strongest frame survives interference that ends before its
	// capture window opens: the receiver re-locks onto the preamble's
	// last CaptureWindowSymbols symbols.
	symTime := SymbolTime(sf0, tx0.BandwidthHz)
	csBegin := tx0.StartTime + symTime*float64(r.cfg.PreambleSymbols-r.cfg.CaptureWindowSymbols)

	for _, idx := range order[1:] {
		weak := candidates[idx]
		txi := weak.Transmission
		if txi == nil {
			return nil, fmt.Errorf("%w: flora capture requires transmission timing", ErrInvalidInput)
		}
		sfi := txi.SpreadingFactor
		if sfi < MinSpreadingFactor || sfi > MaxSpreadingFactor {
			return nil, fmt.Errorf("%w: spreading factor %d out of range", ErrInvalidInput, sfi)
		}
		if txi.FrequencyHz != tx0.FrequencyHz {
			continue
		}
		if !tx0.Overlaps(*txi) {
			continue
		}
		diff := strongest.RSSIDBm - weak.RSSIDBm
		timingCollision := txi.EndTime > csBegin
		if diff < NonOrthDeltaDB[sf0-MinSpreadingFactor][sfi-MinSpreadingFactor] && timingCollision {
			// Capture lost: nobody decodes.
			return winners, nil
		}
	}

	winners[order[0]] = true
	return winners, nil
}

// resolveGeneric applies the margin rule on raw RSSI, or on exact
// SNIR when the candidates carry timing information.
func (r *CaptureResolver) resolveGeneric(candidates []ReceptionCandidate) ([]bool, error) {
	n := len(candidates)
	winners := make([]bool, n)
	if n == 1 {
		winners[0] = true
		return winners, nil
	}

	metric := make([]float64, n)
	if hasTiming(candidates) {
		rssis := make([]float64, n)
		starts := make([]float64, n)
		ends := make([]float64, n)
		freqs := make([]float64, n)
		bws := make([]float64, n)
		for i, c := range candidates {
			rssis[i] = c.RSSIDBm
			starts[i] = c.Transmission.StartTime
			ends[i] = c.Transmission.EndTime
			freqs[i] = c.Transmission.FrequencyHz
			bws[i] = c.Transmission.BandwidthHz
		}
		snirs, err := ComputeSNRs(rssis, starts, ends, freqs, bws, r.cfg.NoiseFloorDBm)
		if err != nil {
			return nil, err
		}
		copy(metric, snirs)
	} else {
		for i, c := range candidates {
			metric[i] = c.RSSIDBm
		}
	}

	best, second := 0, -1
	for i := 1; i < n; i++ {
		switch {
		case metric[i] > metric[best]:
			second = best
			best = i
		case second == -1 || metric[i] > metric[second]:
			second = i
		}
	}
	if metric[best]-metric[second] > r.cfg.CaptureThresholdDB {
		winners[best] = true
	}
	return winners, nil
}

// hasTiming reports whether every candidate carries a usable
// transmission window.
func hasTiming(candidates []ReceptionCandidate) bool {
	for _, c := range candidates {
		if c.Transmission == nil || c.Transmission.EndTime <= c.Transmission.StartTime {
			return false
		}
	}
	return true
}
