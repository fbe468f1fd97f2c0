package core

import (
	"fmt"
	"math"
	"math/rand"
)

const boltzmannJPerK = 1.380649e-23

// Default quantization for the internal propagation cache: 1 m
// buckets, 4096 entries.
const (
	defaultCacheResolutionM = 1.0
	defaultCacheEntries     = 4096
)

// Offsets carries caller-supplied frequency and sync offsets. When
// provided, the model uses them instead of drawing from its
// impairment state; the drift and jitter terms still apply.
type Offsets struct {
	FrequencyHz float64
	SyncS       float64
}

// Reception is the (RSSI, SNR) outcome of one transmission arriving
// at one receiver. An undetectable signal carries SNRDB = -Inf.
type Reception struct {
	RSSIDBm  float64
	SNRDB    float64
	Detected bool
}

// LinkBudgetModel converts transmit power and distance into RSSI and
// SNR under the channel's stochastic impairment stack. One model
// instance owns its ImpairmentState; the random generator handle is
// shared with the rest of the simulation so a fixed seed reproduces
// full traces.
type LinkBudgetModel struct {
	cfg   RadioLinkConfig
	rng   *rand.Rand
	imp   *ImpairmentState
	cache *PropagationCache

	slowNoise  CorrelatedValue
	freqDrift  CorrelatedValue
	clockDrift CorrelatedValue
}

// NewLinkBudgetModel validates the configuration and builds a model
// with its own propagation cache.
func NewLinkBudgetModel(cfg RadioLinkConfig, rng *rand.Rand) (*LinkBudgetModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: link budget model requires a generator handle", ErrInvalidInput)
	}
	cache, err := NewPropagationCache(defaultCacheResolutionM, defaultCacheEntries)
	if err != nil {
		return nil, err
	}
	return &LinkBudgetModel{
		cfg:   cfg,
		rng:   rng,
		imp:   NewImpairmentState(cfg.Impairments, rng),
		cache: cache,
		slowNoise: NewCorrelatedValue(CorrelatedParams{
			Std: cfg.SlowNoiseStdDB, Corr: cfg.SlowNoiseCorr,
		}, rng),
		// Drift terms are pure random walks (corr=1) stepping by the
		// configured per-sample rate.
		freqDrift: NewCorrelatedValue(CorrelatedParams{
			Std: cfg.Impairments.FreqDriftHzPerS, Corr: 1,
		}, rng),
		clockDrift: NewCorrelatedValue(CorrelatedParams{
			Std: cfg.Impairments.ClockDriftPPM * 1e-6, Corr: 1,
		}, rng),
	}, nil
}

// Config returns the channel configuration the model was built with.
func (m *LinkBudgetModel) Config() RadioLinkConfig { return m.cfg }

// Cache exposes the propagation cache for stats and external reuse.
func (m *LinkBudgetModel) Cache() *PropagationCache { return m.cache }

// Impairments exposes the model's impairment state for replay resets.
func (m *LinkBudgetModel) Impairments() *ImpairmentState { return m.imp }

// pathLossAt is the deterministic log-distance component, memoized
// through the propagation cache.
func (m *LinkBudgetModel) pathLossAt(distance float64) float64 {
	d := math.Max(distance, 1)
	return m.cfg.PathLossD0DB +
		10*m.cfg.PathLossExponent*math.Log10(d/m.cfg.ReferenceDistanceM) +
		m.cfg.SystemLossDB
}

// PathLossDB returns the deterministic path loss for a distance, with
// no shadowing draw.
func (m *LinkBudgetModel) PathLossDB(distance float64) (float64, error) {
	return m.cache.Get(distance, m.pathLossAt)
}

// Compute turns (txPowerDBm, distance, sf) into an RSSI/SNR pair,
// advancing every stochastic impairment one step. Pass offsets to pin
// the frequency and sync offsets instead of sampling them.
func (m *LinkBudgetModel) Compute(txPowerDBm, distanceM float64, sf int, offsets *Offsets) (Reception, error) {
	if sf < MinSpreadingFactor || sf > MaxSpreadingFactor {
		return Reception{}, fmt.Errorf("%w: spreading factor %d out of range [%d,%d]",
			ErrInvalidInput, sf, MinSpreadingFactor, MaxSpreadingFactor)
	}

	pl, err := m.cache.Get(distanceM, m.pathLossAt)
	if err != nil {
		return Reception{}, err
	}
	if m.cfg.ShadowingStdDB > 0 {
		pl += m.rng.NormFloat64() * m.cfg.ShadowingStdDB
	}

	freqOff, syncOff := m.sampleOffsets(offsets)

	rssi := m.rssiDBm(txPowerDBm, pl, freqOff)
	noise := m.noiseFloorDBm()
	snr := m.snrDB(rssi, noise, sf, freqOff, syncOff)

	detected := !math.IsInf(snr, -1)
	if m.cfg.DetectionThresholdDBm != 0 && rssi < m.cfg.DetectionThresholdDBm {
		detected = false
	}
	return Reception{RSSIDBm: rssi, SNRDB: snr, Detected: detected}, nil
}

// Receive evaluates a transmission at a gateway and wraps the result
// as a capture candidate.
func (m *LinkBudgetModel) Receive(tx *TransmissionEvent, distanceM float64, gatewayID string) (ReceptionCandidate, error) {
	r, err := m.Compute(tx.TxPowerDBm, distanceM, tx.SpreadingFactor, nil)
	if err != nil {
		return ReceptionCandidate{}, err
	}
	return ReceptionCandidate{
		Transmission: tx,
		GatewayID:    gatewayID,
		RSSIDBm:      r.RSSIDBm,
		SNRDB:        r.SNRDB,
	}, nil
}

func (m *LinkBudgetModel) sampleOffsets(offsets *Offsets) (freqOff, syncOff float64) {
	if offsets != nil {
		freqOff = offsets.FrequencyHz
		syncOff = offsets.SyncS
	} else {
		freqOff = m.imp.FrequencyOffset.Sample()
		syncOff = m.imp.SyncOffset.Sample()
	}
	freqOff += m.freqDrift.Sample()
	syncOff += m.clockDrift.Sample()
	if j := m.cfg.Impairments.JitterStdHz; j > 0 {
		freqOff += m.rng.NormFloat64() * j
	}
	if j := m.cfg.Impairments.JitterStdS; j > 0 {
		syncOff += m.rng.NormFloat64() * j
	}
	return freqOff, syncOff
}

func (m *LinkBudgetModel) rssiDBm(txPowerDBm, pathLossDB, freqOff float64) float64 {
	rssi := txPowerDBm + m.cfg.TxGainDBi + m.cfg.RxGainDBi - pathLossDB - m.cfg.CableLossDB
	rssi += m.imp.PANonlinearity.Sample()

	if level := m.cfg.TxRampLevel; level > 0 && level < 1 {
		rssi += 20 * math.Log10(level)
	}
	if m.cfg.FastFadingStdDB > 0 {
		rssi += m.rng.NormFloat64() * m.cfg.FastFadingStdDB
	}
	if m.cfg.TimeVariationStdDB > 0 {
		rssi += m.rng.NormFloat64() * m.cfg.TimeVariationStdDB
	}
	if k := m.cfg.MultipathTaps; k > 0 {
		var i, q float64
		for t := 0; t < k; t++ {
			i += m.rng.NormFloat64()
			q += m.rng.NormFloat64()
		}
		amp := math.Sqrt(i*i+q*q) / math.Sqrt(float64(k))
		rssi += 20 * math.Log10(amp)
	}
	rssi -= m.filterAttenuationDB(freqOff)
	return rssi
}

// filterAttenuationDB models the frontend filter rolloff as a
// quadratic in the normalized offset from band centre, capped at the
// configured maximum attenuation.
func (m *LinkBudgetModel) filterAttenuationDB(freqOff float64) float64 {
	if m.cfg.FilterAttenuationDB <= 0 || m.cfg.FrontendFilterBWHz <= 0 {
		return 0
	}
	norm := math.Abs(freqOff) / (m.cfg.FrontendFilterBWHz / 2)
	att := m.cfg.FilterAttenuationDB * norm * norm
	return math.Min(att, m.cfg.FilterAttenuationDB)
}

func (m *LinkBudgetModel) noiseFloorDBm() float64 {
	bwEff := m.cfg.BandwidthHz
	if m.cfg.FrontendFilterBWHz > 0 && m.cfg.FrontendFilterBWHz < bwEff {
		bwEff = m.cfg.FrontendFilterBWHz
	}
	temp := m.imp.Temperature.Sample()
	if temp <= 0 {
		temp = 290
	}
	thermal := 10 * math.Log10(boltzmannJPerK*temp*bwEff*1000)
	noiseDBm := thermal + m.cfg.NoiseFigureDB + m.cfg.HumidityNoiseDB

	noiseLin := dBmToMilliwatts(noiseDBm)
	if m.cfg.InterferenceFloorDBm != 0 {
		noiseLin += dBmToMilliwatts(m.cfg.InterferenceFloorDBm)
	}
	for _, band := range m.cfg.InterferenceBands {
		noiseLin += m.bandContributionMW(band)
	}
	if p := m.cfg.ImpulsiveNoiseProb; p > 0 && m.rng.Float64() < p {
		noiseLin += dBmToMilliwatts(m.cfg.ImpulsiveNoisePowerDBm)
	}
	if m.cfg.SlowNoiseStdDB > 0 {
		noiseLin *= dBmToMilliwatts(m.slowNoise.Sample())
	}
	if leak := m.imp.OscLeakage.Sample(); leak > 0 {
		noiseLin *= 1 + leak
	}
	return milliwattsToDBm(noiseLin)
}

// bandContributionMW returns an interferer's linear power
// contribution to the channel noise floor: full power when the bands
// overlap, rejection-attenuated power when merely adjacent, nothing
// when far away.
func (m *LinkBudgetModel) bandContributionMW(band InterferenceBand) float64 {
	gap := math.Abs(band.CenterHz-m.cfg.FrequencyHz) - (band.BandwidthHz+m.cfg.BandwidthHz)/2
	switch {
	case gap <= 0:
		return dBmToMilliwatts(band.PowerDBm)
	case gap <= m.cfg.BandwidthHz:
		return dBmToMilliwatts(band.PowerDBm - m.cfg.AdjacentBandRejectionDB)
	default:
		return 0
	}
}

func (m *LinkBudgetModel) snrDB(rssi, noise float64, sf int, freqOff, syncOff float64) float64 {
	snr := rssi - noise + m.cfg.SNROffsetDB

	var fFactor, tFactor, phaseFactor float64
	if m.cfg.MaxFreqMisalignHz > 0 {
		fFactor = math.Abs(freqOff) / m.cfg.MaxFreqMisalignHz
	}
	if m.cfg.MaxTimeMisalignS > 0 {
		tFactor = math.Abs(syncOff) / m.cfg.MaxTimeMisalignS
	}
	phase := m.imp.PhaseNoise.Sample()
	if m.cfg.MaxPhaseMisalignRad > 0 {
		phaseFactor = math.Abs(phase) / m.cfg.MaxPhaseMisalignRad
	}

	// Both frequency and timing past their alignment limit means the
	// demodulator never locks: the signal is undetectable.
	if fFactor > 1 && tFactor > 1 {
		return math.Inf(-1)
	}
	snr -= 10 * math.Log10(1+1.5*(fFactor*fFactor+tFactor*tFactor+phaseFactor*phaseFactor))
	snr -= math.Abs(phase)
	snr -= m.cfg.ReceiverFaultDB

	if m.cfg.ProcessingGain {
		snr += 10 * math.Log10(math.Exp2(float64(sf)))
	}
	return snr
}
