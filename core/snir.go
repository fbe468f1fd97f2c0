package core

import (
	"fmt"
	"math"
	"sort"
)

// powerEvent is one step of the piecewise-constant interference
// timeline: deltaMW is added to the level at time t.
type powerEvent struct {
	t       float64
	deltaMW float64
}

// ComputeSNRs computes the exact SNIR of each signal under partial
// time overlap. For every signal it builds a piecewise-constant power
// timeline from the ambient noise floor and all same-band overlapping
// transmissions, integrates level x duration over the signal's active
// window, and divides the signal's own power by the time-averaged
// interference-plus-noise power.
//
// Only identical-band or disjoint-band signal pairs are supported;
// overlapping but non-identical bands return ErrUnsupportedOverlap.
func ComputeSNRs(rssiDBm, startTimes, endTimes, freqsHz, bwsHz []float64, noiseFloorDBm float64) ([]float64, error) {
	n := len(rssiDBm)
	if len(startTimes) != n || len(endTimes) != n || len(freqsHz) != n || len(bwsHz) != n {
		return nil, fmt.Errorf("%w: mismatched list lengths (%d rssi, %d start, %d end, %d freq, %d bw)",
			ErrInvalidInput, n, len(startTimes), len(endTimes), len(freqsHz), len(bwsHz))
	}
	if n == 0 {
		return nil, nil
	}
	for i := 0; i < n; i++ {
		if endTimes[i] <= startTimes[i] {
			return nil, fmt.Errorf("%w: signal %d has non-positive duration [%g,%g]",
				ErrInvalidInput, i, startTimes[i], endTimes[i])
		}
	}

	noiseMW := dBmToMilliwatts(noiseFloorDBm)
	snrs := make([]float64, n)

	for i := 0; i < n; i++ {
		start, end := startTimes[i], endTimes[i]
		duration := end - start

		// The ambient noise is the baseline event spanning the
		// signal's own duration.
		events := []powerEvent{
			{t: start, deltaMW: noiseMW},
			{t: end, deltaMW: -noiseMW},
		}

		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			identical := freqsHz[i] == freqsHz[j] && bwsHz[i] == bwsHz[j]
			if !identical {
				if bandsOverlap(freqsHz[i], bwsHz[i], freqsHz[j], bwsHz[j]) {
					return nil, fmt.Errorf("%w: signals %d and %d occupy overlapping non-identical bands",
						ErrUnsupportedOverlap, i, j)
				}
				continue
			}
			oStart := math.Max(start, startTimes[j])
			oEnd := math.Min(end, endTimes[j])
			if oStart >= oEnd {
				continue
			}
			p := dBmToMilliwatts(rssiDBm[j])
			events = append(events, powerEvent{t: oStart, deltaMW: p})
			events = append(events, powerEvent{t: oEnd, deltaMW: -p})
		}

		sort.SliceStable(events, func(a, b int) bool { return events[a].t < events[b].t })

		// Integrate level x duration across the active window.
		var energy, level float64
		prev := start
		for _, ev := range events {
			energy += level * (ev.t - prev)
			level += ev.deltaMW
			prev = ev.t
		}
		energy += level * (end - prev)

		avgMW := energy / duration
		snrs[i] = 10 * math.Log10(dBmToMilliwatts(rssiDBm[i])/avgMW)
	}
	return snrs, nil
}

// bandsOverlap reports whether two channels share any spectrum.
func bandsOverlap(f1, bw1, f2, bw2 float64) bool {
	return math.Abs(f1-f2) < (bw1+bw2)/2
}
