package core

import "math"

// Spreading factor bounds for LoRa modulation. SF7 trades range for
// data rate; SF12 is the slowest and most robust.
const (
	MinSpreadingFactor = 7
	MaxSpreadingFactor = 12
)

// RequiredSNRdB is the demodulation-floor SNR per spreading factor,
// indexed by sf-7. These are the Semtech SX127x reference values and
// drive every ADR margin computation; they must not be changed.
var RequiredSNRdB = [6]float64{-7.5, -10, -12.5, -15, -17.5, -20}

// NonOrthDeltaDB is the non-orthogonal-SF capture table, indexed by
// [sf0-7][sf1-7] where sf0 is the signal of interest and sf1 the
// interferer. The signal survives when its RSSI exceeds the
// interferer's by at least this delta. The diagonal (same SF) is
// +1 dB; off-diagonal entries are negative because different
// spreading factors are only partially orthogonal.
var NonOrthDeltaDB = [6][6]float64{
	{1, -8, -9, -9, -9, -9},
	{-11, 1, -11, -12, -13, -13},
	{-15, -13, 1, -13, -14, -15},
	{-19, -18, -17, 1, -17, -18},
	{-22, -22, -21, -20, 1, -20},
	{-25, -25, -25, -24, -23, 1},
}

// TxPowerDBm maps a LoRaWAN TX-power index (0..6) onto the EU868
// conducted output power in dBm. Index 0 is the strongest setting.
var TxPowerDBm = [7]float64{14, 12, 10, 8, 6, 4, 2}

// MaxTxPowerIndex is the largest valid index into TxPowerDBm.
const MaxTxPowerIndex = len(TxPowerDBm) - 1

// SpreadingFactorForDataRate converts an EU868 LoRa data-rate index
// (DR0..DR5, all 125 kHz) to its spreading factor. It returns 0 for
// indices outside the LoRa range.
func SpreadingFactorForDataRate(dr int) int {
	if dr < 0 || dr > 5 {
		return 0
	}
	return MaxSpreadingFactor - dr
}

// DataRateForSpreadingFactor is the inverse of
// SpreadingFactorForDataRate. It returns -1 for an invalid SF.
func DataRateForSpreadingFactor(sf int) int {
	if sf < MinSpreadingFactor || sf > MaxSpreadingFactor {
		return -1
	}
	return MaxSpreadingFactor - sf
}

// SymbolTime returns the duration of one LoRa symbol in seconds:
// 2^sf chips at one chip per Hz of bandwidth.
func SymbolTime(sf int, bandwidthHz float64) float64 {
	return math.Exp2(float64(sf)) / bandwidthHz
}

// AirtimeParams carries the frame parameters needed to compute LoRa
// time-on-air. CodingRate is the denominator offset of the 4/(4+CR)
// scheme, so CR4_5 is 1.
type AirtimeParams struct {
	PayloadBytes    int
	SpreadingFactor int
	BandwidthHz     float64
	PreambleSymbols int
	CodingRate      int
	CRC             bool
	ExplicitHeader  bool
	LowDataRateOpt  bool
}

// AirtimeSeconds computes the LoRa frame time-on-air from the SX1276
// datasheet formula: preamble of n+4.25 symbols followed by the coded
// payload symbols.
func AirtimeSeconds(p AirtimeParams) float64 {
	if p.BandwidthHz <= 0 || p.SpreadingFactor <= 0 {
		return 0
	}
	tSym := SymbolTime(p.SpreadingFactor, p.BandwidthHz)

	crc := 0.0
	if p.CRC {
		crc = 1
	}
	ih := 1.0
	if p.ExplicitHeader {
		ih = 0
	}
	de := 0.0
	if p.LowDataRateOpt {
		de = 1
	}

	sf := float64(p.SpreadingFactor)
	num := 8*float64(p.PayloadBytes) - 4*sf + 28 + 16*crc - 20*ih
	den := 4 * (sf - 2*de)
	nPayload := 8.0
	if num > 0 && den > 0 {
		nPayload += math.Ceil(num/den) * float64(p.CodingRate+4)
	}

	tPreamble := (float64(p.PreambleSymbols) + 4.25) * tSym
	return tPreamble + nPayload*tSym
}

// ThermalNoiseFloorDBm returns the receiver noise floor at ambient
// temperature (290 K) for the given bandwidth and noise figure, with
// no interference contributions.
func ThermalNoiseFloorDBm(bandwidthHz, noiseFigureDB float64) float64 {
	return 10*math.Log10(boltzmannJPerK*290*bandwidthHz*1000) + noiseFigureDB
}

// dBmToMilliwatts converts a power level in dBm to linear milliwatts.
func dBmToMilliwatts(dBm float64) float64 {
	return math.Pow(10, dBm/10)
}

// milliwattsToDBm converts linear milliwatts to dBm. Zero or negative
// input maps to -Inf, the undetectable-signal sentinel.
func milliwattsToDBm(mw float64) float64 {
	if mw <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mw)
}
