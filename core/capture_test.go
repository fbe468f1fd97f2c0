package core

import (
	"errors"
	"testing"
)

func floraResolver() *CaptureResolver {
	return NewCaptureResolver(CaptureConfig{
		Policy:               PolicyFLoRa,
		PreambleSymbols:      8,
		CaptureWindowSymbols: 6,
	})
}

func genericResolver(noiseFloorDBm float64) *CaptureResolver {
	return NewCaptureResolver(CaptureConfig{
		Policy:             PolicyGeneric,
		CaptureThresholdDB: 6,
		NoiseFloorDBm:      noiseFloorDBm,
	})
}

func overlappingPair(sfA, sfB int, rssiA, rssiB float64) []ReceptionCandidate {
	txA := &TransmissionEvent{
		NodeID: "a", StartTime: 0, EndTime: 1,
		SpreadingFactor: sfA, FrequencyHz: 868.1e6, BandwidthHz: 125e3,
	}
	txB := &TransmissionEvent{
		NodeID: "b", StartTime: 0, EndTime: 1,
		SpreadingFactor: sfB, FrequencyHz: 868.1e6, BandwidthHz: 125e3,
	}
	return []ReceptionCandidate{
		{Transmission: txA, GatewayID: "0", RSSIDBm: rssiA, SNRDB: 0},
		{Transmission: txB, GatewayID: "0", RSSIDBm: rssiB, SNRDB: 0},
	}
}

// TestFLoRaSameSFStrongerWins verifies the same-SF power capture rule:
// a 5 dB advantage clears the 1 dB same-SF threshold.
func TestFLoRaSameSFStrongerWins(t *testing.T) {
	winners, err := floraResolver().Resolve(overlappingPair(7, 7, -50, -55))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !winners[0] || winners[1] {
		t.Fatalf("winners = %v, want [true false]", winners)
	}
}

// TestFLoRaSameSFTooCloseDestroysBoth verifies that a same-SF
// competitor within the capture threshold destroys the frame for
// everyone when it is still on air past the capture window.
func TestFLoRaSameSFTooCloseDestroysBoth(t *testing.T) {
	winners, err := floraResolver().Resolve(overlappingPair(7, 7, -50, -50.5))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if winners[0] || winners[1] {
		t.Fatalf("winners = %v, want [false false]", winners)
	}
}

// TestFLoRaInterferenceEndingBeforeCaptureWindow verifies the timing
// escape: an equal-power competitor whose frame ends before the
// strongest signal's capture window opens does not destroy it.
func TestFLoRaInterferenceEndingBeforeCaptureWindow(t *testing.T) {
	// SF7 at 125 kHz: symbol time 1.024 ms, capture window opens at
	// start + 2 symbols = start + 2.048 ms.
	strong := &TransmissionEvent{
		NodeID: "a", StartTime: 0.1, EndTime: 1.1,
		SpreadingFactor: 7, FrequencyHz: 868.1e6, BandwidthHz: 125e3,
	}
	weak := &TransmissionEvent{
		NodeID: "b", StartTime: 0.0, EndTime: 0.101,
		SpreadingFactor: 7, FrequencyHz: 868.1e6, BandwidthHz: 125e3,
	}
	winners, err := floraResolver().Resolve([]ReceptionCandidate{
		{Transmission: strong, GatewayID: "0", RSSIDBm: -50},
		{Transmission: weak, GatewayID: "0", RSSIDBm: -50.5},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !winners[0] || winners[1] {
		t.Fatalf("winners = %v, want [true false]", winners)
	}
}

// TestFLoRaCrossSFSurvives verifies that a cross-SF competitor with
// its strongly negative delta threshold does not destroy the frame.
func TestFLoRaCrossSFSurvives(t *testing.T) {
	winners, err := floraResolver().Resolve(overlappingPair(12, 7, -50, -52))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !winners[0] || winners[1] {
		t.Fatalf("winners = %v, want [true false]", winners)
	}
}

// TestFLoRaDifferentFrequencyIgnored verifies that off-channel frames
// never interfere.
func TestFLoRaDifferentFrequencyIgnored(t *testing.T) {
	candidates := overlappingPair(7, 7, -50, -50.5)
	candidates[1].Transmission.FrequencyHz = 868.3e6
	winners, err := floraResolver().Resolve(candidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !winners[0] || winners[1] {
		t.Fatalf("winners = %v, want [true false]", winners)
	}
}

// TestFLoRaNonOverlappingIgnored verifies that a competitor fully
// outside the strongest frame's window is skipped.
func TestFLoRaNonOverlappingIgnored(t *testing.T) {
	candidates := overlappingPair(7, 7, -50, -50.5)
	candidates[1].Transmission.StartTime = 2
	candidates[1].Transmission.EndTime = 3
	winners, err := floraResolver().Resolve(candidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !winners[0] || winners[1] {
		t.Fatalf("winners = %v, want [true false]", winners)
	}
}

func TestFLoRaRequiresTiming(t *testing.T) {
	_, err := floraResolver().Resolve([]ReceptionCandidate{
		{GatewayID: "0", RSSIDBm: -50},
		{GatewayID: "0", RSSIDBm: -60},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing timing error = %v, want ErrInvalidInput", err)
	}
}

// TestGenericRSSIMarginRule verifies the timing-free variant: capture
// happens only when the RSSI margin over the runner-up exceeds the
// threshold.
func TestGenericRSSIMarginRule(t *testing.T) {
	r := genericResolver(-117)

	winners, err := r.Resolve([]ReceptionCandidate{
		{GatewayID: "0", RSSIDBm: -50},
		{GatewayID: "0", RSSIDBm: -57},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !winners[0] || winners[1] {
		t.Fatalf("7 dB margin: winners = %v, want [true false]", winners)
	}

	winners, err = r.Resolve([]ReceptionCandidate{
		{GatewayID: "0", RSSIDBm: -50},
		{GatewayID: "0", RSSIDBm: -55},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if winners[0] || winners[1] {
		t.Fatalf("5 dB margin: winners = %v, want [false false]", winners)
	}
}

// TestGenericSNIRWithTiming verifies that full timing information
// switches the generic policy onto exact SNIR.
func TestGenericSNIRWithTiming(t *testing.T) {
	winners, err := genericResolver(-117).Resolve(overlappingPair(7, 7, -50, -60))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// SNIR margin is about 20 dB, well past the 6 dB threshold.
	if !winners[0] || winners[1] {
		t.Fatalf("winners = %v, want [true false]", winners)
	}
}

func TestResolveDegenerateInputs(t *testing.T) {
	for _, r := range []*CaptureResolver{floraResolver(), genericResolver(-117)} {
		winners, err := r.Resolve(nil)
		if err != nil {
			t.Fatalf("%s empty Resolve: %v", r.Policy(), err)
		}
		if len(winners) != 0 {
			t.Fatalf("%s empty Resolve winners = %v, want []", r.Policy(), winners)
		}

		single := overlappingPair(7, 7, -50, -60)[:1]
		winners, err = r.Resolve(single)
		if err != nil {
			t.Fatalf("%s single Resolve: %v", r.Policy(), err)
		}
		if !winners[0] {
			t.Fatalf("%s lone candidate should always capture", r.Policy())
		}
	}
}
