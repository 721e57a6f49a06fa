// Package audio provides PCM helpers shared by the analysis pipeline and the
// provider implementations: little-endian 16-bit decoding, RMS energy
// measurement, and the zero-mean/unit-variance normalization expected by the
// authenticity classifier.
//
// All functions are pure and safe for concurrent use.
package audio

import (
	"encoding/binary"
	"math"
)

// SampleRate is the sample rate every call audio stream is delivered at, in Hz.
const SampleRate = 16000

// BytesPerSample is the width of one PCM sample on the wire.
const BytesPerSample = 2

// DecodePCM16 converts little-endian 16-bit PCM bytes into int16 samples.
// A trailing odd byte is ignored.
func DecodePCM16(b []byte) []int16 {
	n := len(b) / BytesPerSample
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return samples
}

// EncodePCM16 converts int16 samples into little-endian 16-bit PCM bytes.
func EncodePCM16(samples []int16) []byte {
	b := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*BytesPerSample:], uint16(s))
	}
	return b
}

// RMS returns the root-mean-square energy of samples in raw int16 units.
// An empty slice has zero energy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// normEpsilon keeps the unit-variance divisor positive on constant windows.
const normEpsilon = 1e-5

// Normalize converts samples to float32 in [-1, 1] and applies
// zero-mean/unit-variance normalization. The standard deviation uses the
// sample (n-1) divisor with a small epsilon added so a constant window maps
// to all zeros instead of dividing by zero.
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	if len(samples) == 0 {
		return out
	}

	var mean float64
	for i, s := range samples {
		f := float64(s) / 32767.0
		out[i] = float32(f)
		mean += f
	}
	mean /= float64(len(samples))

	var variance float64
	for _, f := range out {
		d := float64(f) - mean
		variance += d * d
	}
	if len(samples) > 1 {
		variance /= float64(len(samples) - 1)
	}
	std := math.Sqrt(variance) + normEpsilon

	for i, f := range out {
		out[i] = float32((float64(f) - mean) / std)
	}
	return out
}
