// Package frame implements the video frame pipeline: picking representative
// sample instants inside a time range, fingerprinting rendered frames, and
// the capture orchestrator that drives a video source through seek/render
// cycles while discarding near-duplicate frames.
package frame

import "math"

// Sampling tuning: target ~15 samples per range, never closer than 1s apart,
// never farther than 30s apart.
const (
	targetSamples = 15
	minInterval   = 1.0
	maxInterval   = 30.0
)

// SampleInstants returns the ordered instants (seconds) at which frames
// should be captured for the range [start, end]. The end instant is always
// included; exact duplicates are removed.
func SampleInstants(start, end float64) []float64 {
	var instants []float64

	duration := end - start
	if duration < 1 {
		instants = append(instants, round1(start))
	} else {
		interval := duration / targetSamples
		if interval < minInterval {
			interval = minInterval
		}
		if interval > maxInterval {
			interval = maxInterval
		}
		for t := start; t < end-0.1; t += interval {
			instants = append(instants, round1(t))
		}
	}
	instants = append(instants, round1(end))

	// Drop exact duplicates, preserving ascending order.
	out := instants[:0]
	for i, v := range instants {
		if i > 0 && v == out[len(out)-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
