package core

import "math/rand"

// CorrelatedValue is a first-order autoregressive random-walk
// variable: each Sample moves the current value towards the mean by
// (1-corr) and adds Gaussian noise. The generator handle is injected
// at construction so that every stochastic sub-model shares the one
// seeded source and traces stay reproducible.
type CorrelatedValue struct {
	mean    float64
	std     float64
	corr    float64
	current float64
	rng     *rand.Rand
}

// NewCorrelatedValue builds a variable starting at its mean.
func NewCorrelatedValue(p CorrelatedParams, rng *rand.Rand) CorrelatedValue {
	return CorrelatedValue{
		mean:    p.Mean,
		std:     p.Std,
		corr:    p.Corr,
		current: p.Mean,
		rng:     rng,
	}
}

// Sample advances the walk one step and returns the new value:
// value = corr*value + (1-corr)*mean + N(0, std).
func (c *CorrelatedValue) Sample() float64 {
	noise := 0.0
	if c.std > 0 {
		noise = c.rng.NormFloat64() * c.std
	}
	c.current = c.corr*c.current + (1-c.corr)*c.mean + noise
	return c.current
}

// Current returns the last sampled value without advancing the walk.
func (c *CorrelatedValue) Current() float64 { return c.current }

// Reset moves the walk back to its mean.
func (c *CorrelatedValue) Reset() { c.current = c.mean }

// ImpairmentState bundles the correlated hardware impairments of one
// radio link. It is owned exclusively by its LinkBudgetModel and is
// only mutated through the model's sampling path.
type ImpairmentState struct {
	FrequencyOffset CorrelatedValue
	SyncOffset      CorrelatedValue
	OscLeakage      CorrelatedValue
	PhaseNoise      CorrelatedValue
	PANonlinearity  CorrelatedValue
	Temperature     CorrelatedValue
}

// NewImpairmentState wires every impairment variable to the shared
// generator handle.
func NewImpairmentState(cfg ImpairmentConfig, rng *rand.Rand) *ImpairmentState {
	return &ImpairmentState{
		FrequencyOffset: NewCorrelatedValue(cfg.FrequencyOffsetHz, rng),
		SyncOffset:      NewCorrelatedValue(cfg.SyncOffsetS, rng),
		OscLeakage:      NewCorrelatedValue(cfg.OscLeakage, rng),
		PhaseNoise:      NewCorrelatedValue(cfg.PhaseNoiseDB, rng),
		PANonlinearity:  NewCorrelatedValue(cfg.PANonlinearityDB, rng),
		Temperature:     NewCorrelatedValue(cfg.TemperatureK, rng),
	}
}

// Reset returns every impairment variable to its mean. Used by replay
// harnesses that re-run a scenario against the same model instance.
func (s *ImpairmentState) Reset() {
	s.FrequencyOffset.Reset()
	s.SyncOffset.Reset()
	s.OscLeakage.Reset()
	s.PhaseNoise.Reset()
	s.PANonlinearity.Reset()
	s.Temperature.Reset()
}
