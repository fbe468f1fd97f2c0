package core

import "fmt"

// InterferenceBand describes a persistent narrowband interferer in
// the environment, e.g. a neighbouring ISM user.
type InterferenceBand struct {
	CenterHz    float64 `json:"CenterHz"`
	BandwidthHz float64 `json:"BandwidthHz"`
	PowerDBm    float64 `json:"PowerDBm"`
}

// CorrelatedParams parameterises one correlated random-walk
// impairment variable: value' = Corr*value + (1-Corr)*Mean + N(0,Std).
type CorrelatedParams struct {
	Mean float64 `json:"Mean"`
	Std  float64 `json:"Std"`
	Corr float64 `json:"Corr"`
}

// ImpairmentConfig bundles the correlated hardware impairments of one
// radio link. Zero-valued entries disable the corresponding effect.
type ImpairmentConfig struct {
	FrequencyOffsetHz CorrelatedParams `json:"FrequencyOffsetHz"`
	SyncOffsetS       CorrelatedParams `json:"SyncOffsetS"`
	OscLeakage        CorrelatedParams `json:"OscLeakage"`
	PhaseNoiseDB      CorrelatedParams `json:"PhaseNoiseDB"`
	PANonlinearityDB  CorrelatedParams `json:"PANonlinearityDB"`
	TemperatureK      CorrelatedParams `json:"TemperatureK"`

	// Slow drift terms added on top of the correlated offsets.
	FreqDriftHzPerS float64 `json:"FreqDriftHzPerS,omitempty"`
	ClockDriftPPM   float64 `json:"ClockDriftPPM,omitempty"`

	// White jitter added to each sampled offset.
	JitterStdHz float64 `json:"JitterStdHz,omitempty"`
	JitterStdS  float64 `json:"JitterStdS,omitempty"`
}

// RadioLinkConfig is the immutable per-channel physics configuration.
// It is owned by a channel and shared read-only by every transmission
// on that channel. As with the rest of the configuration surface,
// zero values mean "effect disabled" unless noted otherwise.
type RadioLinkConfig struct {
	FrequencyHz float64 `json:"FrequencyHz"`
	BandwidthHz float64 `json:"BandwidthHz"`

	// Log-distance path loss: PathLossD0DB measured at
	// ReferenceDistanceM, slope PathLossExponent.
	PathLossD0DB       float64 `json:"PathLossD0DB"`
	ReferenceDistanceM float64 `json:"ReferenceDistanceM"`
	PathLossExponent   float64 `json:"PathLossExponent"`
	SystemLossDB       float64 `json:"SystemLossDB,omitempty"`
	ShadowingStdDB     float64 `json:"ShadowingStdDB,omitempty"`

	// Antenna and frontend.
	TxGainDBi           float64 `json:"TxGainDBi,omitempty"`
	RxGainDBi           float64 `json:"RxGainDBi,omitempty"`
	CableLossDB         float64 `json:"CableLossDB,omitempty"`
	NoiseFigureDB       float64 `json:"NoiseFigureDB,omitempty"`
	FrontendFilterBWHz  float64 `json:"FrontendFilterBWHz,omitempty"`
	FilterAttenuationDB float64 `json:"FilterAttenuationDB,omitempty"`

	// Fading.
	FastFadingStdDB    float64 `json:"FastFadingStdDB,omitempty"`
	TimeVariationStdDB float64 `json:"TimeVariationStdDB,omitempty"`
	MultipathTaps      int     `json:"MultipathTaps,omitempty"`

	// TxRampLevel is the PA ramp completion level in (0,1]; while
	// ramping, the transmit power is attenuated by 20*log10(level).
	// Zero is treated as 1 (ramp complete).
	TxRampLevel float64 `json:"TxRampLevel,omitempty"`

	// Noise environment.
	HumidityNoiseDB         float64            `json:"HumidityNoiseDB,omitempty"`
	InterferenceFloorDBm    float64            `json:"InterferenceFloorDBm,omitempty"`
	InterferenceBands       []InterferenceBand `json:"InterferenceBands,omitempty"`
	AdjacentBandRejectionDB float64            `json:"AdjacentBandRejectionDB,omitempty"`
	ImpulsiveNoiseProb      float64            `json:"ImpulsiveNoiseProb,omitempty"`
	ImpulsiveNoisePowerDBm  float64            `json:"ImpulsiveNoisePowerDBm,omitempty"`
	SlowNoiseStdDB          float64            `json:"SlowNoiseStdDB,omitempty"`
	SlowNoiseCorr           float64            `json:"SlowNoiseCorr,omitempty"`

	// Detection and capture.
	CaptureThresholdDB    float64 `json:"CaptureThresholdDB,omitempty"`
	DetectionThresholdDBm float64 `json:"DetectionThresholdDBm,omitempty"`
	PreambleSymbols       int     `json:"PreambleSymbols,omitempty"`
	CaptureWindowSymbols  int     `json:"CaptureWindowSymbols,omitempty"`

	// SNR shaping.
	SNROffsetDB         float64 `json:"SNROffsetDB,omitempty"`
	ProcessingGain      bool    `json:"ProcessingGain,omitempty"`
	ReceiverFaultDB     float64 `json:"ReceiverFaultDB,omitempty"`
	MaxFreqMisalignHz   float64 `json:"MaxFreqMisalignHz,omitempty"`
	MaxTimeMisalignS    float64 `json:"MaxTimeMisalignS,omitempty"`
	MaxPhaseMisalignRad float64 `json:"MaxPhaseMisalignRad,omitempty"`

	Impairments ImpairmentConfig `json:"Impairments,omitempty"`
}

// DefaultRadioLinkConfig returns an EU868 125 kHz channel with the
// FLoRa suburban log-normal shadowing calibration (127.41 dB at 40 m,
// exponent 2.08, sigma 3.57).
func DefaultRadioLinkConfig() RadioLinkConfig {
	return RadioLinkConfig{
		FrequencyHz:        868.1e6,
		BandwidthHz:        125e3,
		PathLossD0DB:       127.41,
		ReferenceDistanceM: 40,
		PathLossExponent:   2.08,
		ShadowingStdDB:     3.57,
		CableLossDB:        0.5,
		NoiseFigureDB:      6,
		FrontendFilterBWHz: 250e3,
		TxRampLevel:        1,

		CaptureThresholdDB:    6,
		DetectionThresholdDBm: -137,
		PreambleSymbols:       8,
		CaptureWindowSymbols:  6,

		MaxFreqMisalignHz:   25e3,
		MaxTimeMisalignS:    1e-3,
		MaxPhaseMisalignRad: 1.5,

		Impairments: ImpairmentConfig{
			FrequencyOffsetHz: CorrelatedParams{Mean: 0, Std: 150, Corr: 0.9},
			SyncOffsetS:       CorrelatedParams{Mean: 0, Std: 2e-6, Corr: 0.9},
			OscLeakage:        CorrelatedParams{Mean: 0.01, Std: 0.002, Corr: 0.95},
			PhaseNoiseDB:      CorrelatedParams{Mean: 0, Std: 0.4, Corr: 0.8},
			PANonlinearityDB:  CorrelatedParams{Mean: 0, Std: 0.3, Corr: 0.7},
			TemperatureK:      CorrelatedParams{Mean: 290, Std: 1.5, Corr: 0.99},
		},
	}
}

// Validate rejects configurations the link-budget model cannot
// evaluate. All failures wrap ErrInvalidInput.
func (c RadioLinkConfig) Validate() error {
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %g", ErrInvalidInput, c.FrequencyHz)
	}
	if c.BandwidthHz <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive, got %g", ErrInvalidInput, c.BandwidthHz)
	}
	if c.ReferenceDistanceM <= 0 {
		return fmt.Errorf("%w: reference distance must be positive, got %g", ErrInvalidInput, c.ReferenceDistanceM)
	}
	if c.PathLossExponent <= 0 {
		return fmt.Errorf("%w: path-loss exponent must be positive, got %g", ErrInvalidInput, c.PathLossExponent)
	}
	if c.MultipathTaps < 0 {
		return fmt.Errorf("%w: multipath taps must be non-negative, got %d", ErrInvalidInput, c.MultipathTaps)
	}
	if c.TxRampLevel < 0 || c.TxRampLevel > 1 {
		return fmt.Errorf("%w: tx ramp level must be in (0,1], got %g", ErrInvalidInput, c.TxRampLevel)
	}
	if c.ImpulsiveNoiseProb < 0 || c.ImpulsiveNoiseProb > 1 {
		return fmt.Errorf("%w: impulsive noise probability must be in [0,1], got %g", ErrInvalidInput, c.ImpulsiveNoiseProb)
	}
	return nil
}

// TransmissionEvent is an immutable record of one node transmission.
type TransmissionEvent struct {
	NodeID          string
	StartTime       float64 // seconds of simulation time
	EndTime         float64
	SpreadingFactor int
	FrequencyHz     float64
	BandwidthHz     float64
	TxPowerDBm      float64
}

// Overlaps reports whether the two transmissions overlap in time.
// Touching endpoints do not count as overlap.
func (t TransmissionEvent) Overlaps(other TransmissionEvent) bool {
	return t.StartTime < other.EndTime && other.StartTime < t.EndTime
}

// ReceptionCandidate is one (transmission, gateway) arrival produced
// by the link-budget model and arbitrated by the capture resolver.
type ReceptionCandidate struct {
	Transmission *TransmissionEvent
	GatewayID    string
	RSSIDBm      float64
	SNRDB        float64
}
