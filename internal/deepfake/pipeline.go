// Package deepfake implements the remote-audio analysis path: the tumbling
// window assembler that turns the raw remote PCM stream into fixed-size
// analysis windows, and the classification pipeline that gates, normalizes,
// and scores each window.
package deepfake

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/callsentry/callsentry/internal/observe"
	"github.com/callsentry/callsentry/pkg/audio"
	"github.com/callsentry/callsentry/pkg/provider/authenticity"
)

const (
	// WindowSamples is the analysis window size: two seconds at 16 kHz.
	WindowSamples = 2 * audio.SampleRate

	// chunkSamples is the silence-gate sub-chunk size: 20 ms at 16 kHz.
	chunkSamples = 320

	// silentChunkRMS is the per-chunk energy below which a chunk counts as
	// silent, in raw int16 units.
	silentChunkRMS = 5.0

	// quietWindowRMS is the mean chunk energy below which a mostly-silent
	// window is skipped outright.
	quietWindowRMS = 15.0

	// silentChunkRatio is the fraction of silent chunks that must be
	// exceeded before the window qualifies for skipping.
	silentChunkRatio = 2.0 / 3.0
)

// Verdict is the decided output of one classified window.
type Verdict struct {
	// Authentic reports whether the window was judged genuine human speech.
	Authentic bool

	// Confidence is the softmax probability of the winning label, in (0, 1].
	Confidence float64
}

// Pipeline runs the per-window classification stages: silence gate,
// normalization, model inference, softmax decision. It holds no call state
// and is reused across calls.
type Pipeline struct {
	provider authenticity.Provider
	metrics  *observe.Metrics
}

// NewPipeline builds a Pipeline on the given classifier backend. metrics may
// be nil in tests.
func NewPipeline(provider authenticity.Provider, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{provider: provider, metrics: metrics}
}

// Classify scores one analysis window.
//
// A window gated as silence returns (nil, nil): no event, distinct from an
// authentic verdict, so the caller leaves prior state untouched. A provider
// failure returns (nil, err) and is likewise treated as no event by callers.
func (p *Pipeline) Classify(ctx context.Context, window []int16) (*Verdict, error) {
	if isSilent(window) {
		p.recordWindow(ctx, "skipped_silence")
		return nil, nil
	}

	start := time.Now()
	scores, err := p.provider.Classify(ctx, audio.Normalize(window))
	if p.metrics != nil {
		p.metrics.DeepfakeDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		p.recordWindow(ctx, "failed")
		return nil, fmt.Errorf("classify window: %w", err)
	}
	p.recordWindow(ctx, "classified")

	// A dead tie counts as synthetic.
	probAuthentic, probSynthetic := softmax2(scores.Authentic, scores.Synthetic)
	if probAuthentic > probSynthetic {
		return &Verdict{Authentic: true, Confidence: probAuthentic}, nil
	}
	return &Verdict{Authentic: false, Confidence: probSynthetic}, nil
}

func (p *Pipeline) recordWindow(ctx context.Context, status string) {
	if p.metrics != nil {
		p.metrics.RecordWindow(ctx, status)
	}
}

// isSilent applies the two-threshold silence gate: the window is skipped only
// when more than silentChunkRatio of its 20 ms chunks are below the per-chunk
// threshold and the mean chunk energy is below the coarser window threshold.
func isSilent(window []int16) bool {
	if len(window) == 0 {
		return true
	}

	var (
		chunks      int
		silent      int
		totalEnergy float64
	)
	for off := 0; off < len(window); off += chunkSamples {
		end := off + chunkSamples
		if end > len(window) {
			end = len(window)
		}
		rms := audio.RMS(window[off:end])
		chunks++
		totalEnergy += rms
		if rms < silentChunkRMS {
			silent++
		}
	}

	ratio := float64(silent) / float64(chunks)
	mean := totalEnergy / float64(chunks)
	return ratio > silentChunkRatio && mean < quietWindowRMS
}

// softmax2 converts two raw class scores into probabilities. The max is
// subtracted before exponentiation for numerical stability.
func softmax2(a, b float64) (float64, float64) {
	m := math.Max(a, b)
	ea := math.Exp(a - m)
	eb := math.Exp(b - m)
	sum := ea + eb
	return ea / sum, eb / sum
}
