package core

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// deterministicChannel returns a channel with every stochastic term
// disabled, so RSSI and SNR follow the closed-form link budget.
func deterministicChannel() RadioLinkConfig {
	return RadioLinkConfig{
		FrequencyHz:        868.1e6,
		BandwidthHz:        125e3,
		PathLossD0DB:       127.41,
		ReferenceDistanceM: 40,
		PathLossExponent:   2.08,
		NoiseFigureDB:      6,
		TxRampLevel:        1,
	}
}

func newTestModel(t *testing.T, cfg RadioLinkConfig, seed int64) *LinkBudgetModel {
	t.Helper()
	m, err := NewLinkBudgetModel(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewLinkBudgetModel: %v", err)
	}
	return m
}

// TestComputeDeterministicLinkBudget checks RSSI and SNR at the
// path-loss reference distance with all randomness off.
func TestComputeDeterministicLinkBudget(t *testing.T) {
	m := newTestModel(t, deterministicChannel(), 1)

	r, err := m.Compute(14, 40, 7, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	wantRSSI := 14 - 127.41
	if math.Abs(r.RSSIDBm-wantRSSI) > 1e-9 {
		t.Fatalf("RSSI = %g, want %g", r.RSSIDBm, wantRSSI)
	}
	wantSNR := wantRSSI - ThermalNoiseFloorDBm(125e3, 6)
	if math.Abs(r.SNRDB-wantSNR) > 1e-9 {
		t.Fatalf("SNR = %g, want %g", r.SNRDB, wantSNR)
	}
	if !r.Detected {
		t.Fatal("reception not detected at 40 m")
	}
}

// TestComputePathLossSlope verifies the log-distance slope: doubling
// the distance costs 10*exponent*log10(2) dB.
func TestComputePathLossSlope(t *testing.T) {
	m := newTestModel(t, deterministicChannel(), 1)

	near, err := m.Compute(14, 40, 7, nil)
	if err != nil {
		t.Fatalf("Compute(40): %v", err)
	}
	far, err := m.Compute(14, 80, 7, nil)
	if err != nil {
		t.Fatalf("Compute(80): %v", err)
	}

	wantDrop := 10 * 2.08 * math.Log10(2)
	if got := near.RSSIDBm - far.RSSIDBm; math.Abs(got-wantDrop) > 1e-9 {
		t.Fatalf("doubling distance dropped %g dB, want %g", got, wantDrop)
	}
}

// TestComputeSubMetreDistanceClamped verifies distances below one
// metre use the one-metre path loss instead of diverging.
func TestComputeSubMetreDistanceClamped(t *testing.T) {
	m := newTestModel(t, deterministicChannel(), 1)

	at1m, err := m.Compute(14, 1, 7, nil)
	if err != nil {
		t.Fatalf("Compute(1): %v", err)
	}
	below, err := m.Compute(14, 0.2, 7, nil)
	if err != nil {
		t.Fatalf("Compute(0.2): %v", err)
	}
	if below.RSSIDBm != at1m.RSSIDBm {
		t.Fatalf("sub-metre RSSI = %g, want clamp to 1 m value %g", below.RSSIDBm, at1m.RSSIDBm)
	}
}

// TestComputeProcessingGain verifies the despreading gain option adds
// 10*log10(2^sf) to the SNR.
func TestComputeProcessingGain(t *testing.T) {
	cfg := deterministicChannel()
	base, err := newTestModel(t, cfg, 1).Compute(14, 40, 9, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	cfg.ProcessingGain = true
	gained, err := newTestModel(t, cfg, 1).Compute(14, 40, 9, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	want := 10 * math.Log10(math.Exp2(9))
	if got := gained.SNRDB - base.SNRDB; math.Abs(got-want) > 1e-9 {
		t.Fatalf("processing gain = %g dB, want %g", got, want)
	}
}

// TestComputeDetectionThreshold verifies signals under the sensitivity
// floor are reported undetected while keeping their RSSI.
func TestComputeDetectionThreshold(t *testing.T) {
	cfg := deterministicChannel()
	cfg.DetectionThresholdDBm = -100
	m := newTestModel(t, cfg, 1)

	r, err := m.Compute(14, 40, 7, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// RSSI at 40 m is -113.41 dBm, below the -100 dBm threshold.
	if r.Detected {
		t.Fatal("reception below the detection threshold reported detected")
	}
	if math.IsInf(r.SNRDB, -1) {
		t.Fatal("detection threshold should not erase the SNR")
	}
}

// TestComputeMisalignmentKillsDemodulation verifies that exceeding
// both the frequency and timing alignment limits makes the signal
// undetectable.
func TestComputeMisalignmentKillsDemodulation(t *testing.T) {
	cfg := deterministicChannel()
	cfg.MaxFreqMisalignHz = 25e3
	cfg.MaxTimeMisalignS = 1e-3
	m := newTestModel(t, cfg, 1)

	r, err := m.Compute(14, 40, 7, &Offsets{FrequencyHz: 50e3, SyncS: 0.01})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !math.IsInf(r.SNRDB, -1) {
		t.Fatalf("SNR = %g, want -Inf past both alignment limits", r.SNRDB)
	}
	if r.Detected {
		t.Fatal("undetectable signal reported detected")
	}

	// One exceeded axis alone only degrades the SNR.
	r, err = m.Compute(14, 40, 7, &Offsets{FrequencyHz: 50e3})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if math.IsInf(r.SNRDB, -1) {
		t.Fatal("single-axis misalignment should degrade, not erase, the SNR")
	}
}

// TestComputeReproducibleWithSeed verifies two models built on the
// same seed produce identical stochastic traces.
func TestComputeReproducibleWithSeed(t *testing.T) {
	cfg := DefaultRadioLinkConfig()
	a := newTestModel(t, cfg, 99)
	b := newTestModel(t, cfg, 99)

	for i := 0; i < 50; i++ {
		ra, err := a.Compute(14, 200, 10, nil)
		if err != nil {
			t.Fatalf("Compute: %v", err)
		}
		rb, err := b.Compute(14, 200, 10, nil)
		if err != nil {
			t.Fatalf("Compute: %v", err)
		}
		if ra != rb {
			t.Fatalf("sample %d diverged: %+v vs %+v", i, ra, rb)
		}
	}
}

// TestPathLossMemoized verifies repeated computations at one distance
// hit the propagation cache.
func TestPathLossMemoized(t *testing.T) {
	m := newTestModel(t, deterministicChannel(), 1)

	for i := 0; i < 5; i++ {
		if _, err := m.Compute(14, 250, 7, nil); err != nil {
			t.Fatalf("Compute: %v", err)
		}
	}
	hits, misses := m.Cache().Stats()
	if misses != 1 {
		t.Fatalf("cache misses = %d, want 1", misses)
	}
	if hits != 4 {
		t.Fatalf("cache hits = %d, want 4", hits)
	}
}

// TestReceiveWrapsCandidate verifies the gateway-facing helper carries
// the transmission and gateway identity through.
func TestReceiveWrapsCandidate(t *testing.T) {
	m := newTestModel(t, deterministicChannel(), 1)
	tx := &TransmissionEvent{
		NodeID: "n1", StartTime: 0, EndTime: 1,
		SpreadingFactor: 8, FrequencyHz: 868.1e6, BandwidthHz: 125e3,
		TxPowerDBm: 14,
	}
	cand, err := m.Receive(tx, 40, "gw0")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if cand.Transmission != tx || cand.GatewayID != "gw0" {
		t.Fatalf("candidate identity = (%p, %q), want (%p, gw0)", cand.Transmission, cand.GatewayID, tx)
	}
	if math.Abs(cand.RSSIDBm-(14-127.41)) > 1e-9 {
		t.Fatalf("candidate RSSI = %g, want %g", cand.RSSIDBm, 14-127.41)
	}
}

func TestNewLinkBudgetModelValidation(t *testing.T) {
	if _, err := NewLinkBudgetModel(deterministicChannel(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil generator error = %v, want ErrInvalidInput", err)
	}

	bad := deterministicChannel()
	bad.BandwidthHz = 0
	if _, err := NewLinkBudgetModel(bad, rand.New(rand.NewSource(1))); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid config error = %v, want ErrInvalidInput", err)
	}
}

func TestComputeRejectsBadSpreadingFactor(t *testing.T) {
	m := newTestModel(t, deterministicChannel(), 1)
	for _, sf := range []int{6, 13} {
		if _, err := m.Compute(14, 40, sf, nil); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("sf=%d error = %v, want ErrInvalidInput", sf, err)
		}
	}
}
