package core

import (
	"math/rand"
	"testing"
)

// TestCorrelatedValueHoldsMeanWithoutNoise verifies the AR(1) update
// keeps a noiseless variable pinned at its mean for any correlation.
func TestCorrelatedValueHoldsMeanWithoutNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, corr := range []float64{0, 0.5, 0.9, 1} {
		v := NewCorrelatedValue(CorrelatedParams{Mean: 10, Corr: corr}, rng)
		for i := 0; i < 50; i++ {
			if got := v.Sample(); got != 10 {
				t.Fatalf("corr=%g sample %d = %g, want 10", corr, i, got)
			}
		}
	}
}

// TestCorrelatedValueReproducible verifies two walks built on
// identically seeded generators produce identical traces.
func TestCorrelatedValueReproducible(t *testing.T) {
	params := CorrelatedParams{Mean: 0, Std: 1.5, Corr: 0.9}
	a := NewCorrelatedValue(params, rand.New(rand.NewSource(42)))
	b := NewCorrelatedValue(params, rand.New(rand.NewSource(42)))
	for i := 0; i < 100; i++ {
		if va, vb := a.Sample(), b.Sample(); va != vb {
			t.Fatalf("sample %d diverged: %g vs %g", i, va, vb)
		}
	}
}

// TestCorrelatedValueCurrentAndReset verifies Current does not advance
// the walk and Reset returns it to the mean.
func TestCorrelatedValueCurrentAndReset(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := NewCorrelatedValue(CorrelatedParams{Mean: 3, Std: 2, Corr: 0.8}, rng)

	if got := v.Current(); got != 3 {
		t.Fatalf("initial Current = %g, want the mean 3", got)
	}

	s := v.Sample()
	if got := v.Current(); got != s {
		t.Fatalf("Current after Sample = %g, want %g", got, s)
	}
	if got := v.Current(); got != s {
		t.Fatalf("second Current advanced the walk: %g, want %g", got, s)
	}

	v.Reset()
	if got := v.Current(); got != 3 {
		t.Fatalf("Current after Reset = %g, want 3", got)
	}
}

// TestCorrelatedValueFollowsUpdateRule verifies one AR(1) step against
// the closed form: value' = corr*value + (1-corr)*mean + noise, with
// the noise reproduced from an identically seeded generator.
func TestCorrelatedValueFollowsUpdateRule(t *testing.T) {
	params := CorrelatedParams{Mean: 5, Std: 2, Corr: 0.8}
	v := NewCorrelatedValue(params, rand.New(rand.NewSource(11)))
	ref := rand.New(rand.NewSource(11))

	expected := params.Mean
	for i := 0; i < 25; i++ {
		expected = params.Corr*expected + (1-params.Corr)*params.Mean + ref.NormFloat64()*params.Std
		if got := v.Sample(); got != expected {
			t.Fatalf("sample %d = %g, want %g", i, got, expected)
		}
	}
}

// TestImpairmentStateReset verifies a full-state reset returns every
// variable to its mean.
func TestImpairmentStateReset(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := ImpairmentConfig{
		FrequencyOffsetHz: CorrelatedParams{Mean: 0, Std: 150, Corr: 0.9},
		SyncOffsetS:       CorrelatedParams{Mean: 0, Std: 2e-6, Corr: 0.9},
		OscLeakage:        CorrelatedParams{Mean: 0.01, Std: 0.002, Corr: 0.95},
		PhaseNoiseDB:      CorrelatedParams{Mean: 0, Std: 0.4, Corr: 0.8},
		PANonlinearityDB:  CorrelatedParams{Mean: 0, Std: 0.3, Corr: 0.7},
		TemperatureK:      CorrelatedParams{Mean: 290, Std: 1.5, Corr: 0.99},
	}
	st := NewImpairmentState(cfg, rng)
	for i := 0; i < 10; i++ {
		st.FrequencyOffset.Sample()
		st.Temperature.Sample()
		st.OscLeakage.Sample()
	}

	st.Reset()
	if got := st.FrequencyOffset.Current(); got != 0 {
		t.Fatalf("frequency offset after Reset = %g, want 0", got)
	}
	if got := st.Temperature.Current(); got != 290 {
		t.Fatalf("temperature after Reset = %g, want 290", got)
	}
	if got := st.OscLeakage.Current(); got != 0.01 {
		t.Fatalf("oscillator leakage after Reset = %g, want 0.01", got)
	}
}
