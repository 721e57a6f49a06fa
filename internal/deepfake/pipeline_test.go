package deepfake

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/callsentry/callsentry/pkg/provider/authenticity"
	authmock "github.com/callsentry/callsentry/pkg/provider/authenticity/mock"
)

// speechWindow returns a window of constant non-silent samples.
func speechWindow(n int, amplitude int16) []int16 {
	w := make([]int16, n)
	for i := range w {
		w[i] = amplitude
	}
	return w
}

func TestClassify_SilentWindowSkipped(t *testing.T) {
	t.Parallel()

	provider := &authmock.Provider{}
	p := NewPipeline(provider, nil)

	verdict, err := p.Classify(context.Background(), make([]int16, WindowSamples))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict != nil {
		t.Fatalf("verdict = %+v, want nil for silent window", verdict)
	}
	if provider.CallCount() != 0 {
		t.Errorf("classifier invoked %d times on silent window, want 0", provider.CallCount())
	}
}

func TestClassify_LoudWindowNotSkipped(t *testing.T) {
	t.Parallel()

	provider := &authmock.Provider{
		Results: []authenticity.Scores{{Authentic: 2.0, Synthetic: -1.0}},
	}
	p := NewPipeline(provider, nil)

	verdict, err := p.Classify(context.Background(), speechWindow(WindowSamples, 1000))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict == nil {
		t.Fatal("expected a verdict")
	}
	if !verdict.Authentic {
		t.Error("verdict = synthetic, want authentic")
	}
	if verdict.Confidence <= 0.5 || verdict.Confidence > 1 {
		t.Errorf("confidence = %v, want in (0.5, 1]", verdict.Confidence)
	}
}

func TestClassify_SyntheticWinsOnHigherScore(t *testing.T) {
	t.Parallel()

	provider := &authmock.Provider{
		Results: []authenticity.Scores{{Authentic: -0.5, Synthetic: 1.5}},
	}
	p := NewPipeline(provider, nil)

	verdict, err := p.Classify(context.Background(), speechWindow(WindowSamples, 2000))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict == nil {
		t.Fatal("expected a verdict")
	}
	if verdict.Authentic {
		t.Error("verdict = authentic, want synthetic")
	}
	wantConf := 1 / (1 + math.Exp(-2.0))
	if math.Abs(verdict.Confidence-wantConf) > 1e-9 {
		t.Errorf("confidence = %v, want %v", verdict.Confidence, wantConf)
	}
}

func TestClassify_TieResolvesToSynthetic(t *testing.T) {
	t.Parallel()

	provider := &authmock.Provider{
		Results: []authenticity.Scores{{Authentic: 0.5, Synthetic: 0.5}},
	}
	p := NewPipeline(provider, nil)

	verdict, err := p.Classify(context.Background(), speechWindow(WindowSamples, 2000))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict == nil {
		t.Fatal("expected a verdict")
	}
	if verdict.Authentic {
		t.Error("verdict = authentic, want synthetic on equal probabilities")
	}
	if math.Abs(verdict.Confidence-0.5) > 1e-9 {
		t.Errorf("confidence = %v, want 0.5", verdict.Confidence)
	}
}

func TestClassify_ProviderFailure(t *testing.T) {
	t.Parallel()

	provider := &authmock.Provider{ClassifyErr: errors.New("model not loaded")}
	p := NewPipeline(provider, nil)

	verdict, err := p.Classify(context.Background(), speechWindow(WindowSamples, 1000))
	if err == nil {
		t.Fatal("expected error")
	}
	if verdict != nil {
		t.Errorf("verdict = %+v on failure, want nil", verdict)
	}
}

func TestClassify_NormalizedInput(t *testing.T) {
	t.Parallel()

	provider := &authmock.Provider{
		Results: []authenticity.Scores{{Authentic: 1, Synthetic: 0}},
	}
	p := NewPipeline(provider, nil)

	// Alternate loud samples so the gate passes and normalization has spread.
	window := make([]int16, WindowSamples)
	for i := range window {
		if i%2 == 0 {
			window[i] = 4000
		} else {
			window[i] = -4000
		}
	}
	if _, err := p.Classify(context.Background(), window); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	got := provider.ClassifyCalls[0].Window
	if len(got) != WindowSamples {
		t.Fatalf("classifier received %d samples, want %d", len(got), WindowSamples)
	}
	var mean float64
	for _, f := range got {
		mean += float64(f)
	}
	mean /= float64(len(got))
	if math.Abs(mean) > 1e-4 {
		t.Errorf("classifier input mean = %v, want ~0 after normalization", mean)
	}
}

func TestIsSilent(t *testing.T) {
	t.Parallel()

	t.Run("all zero", func(t *testing.T) {
		t.Parallel()
		if !isSilent(make([]int16, WindowSamples)) {
			t.Error("all-zero window should be silent")
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		if !isSilent(nil) {
			t.Error("empty window should be silent")
		}
	})

	t.Run("speech", func(t *testing.T) {
		t.Parallel()
		if isSilent(speechWindow(WindowSamples, 1000)) {
			t.Error("loud window should not be silent")
		}
	})

	t.Run("mostly silent but loud burst", func(t *testing.T) {
		t.Parallel()
		// Over two thirds of the chunks are silent, but the burst keeps the
		// mean chunk energy well above the window threshold, so the second
		// gate condition fails and the window is still classified.
		w := make([]int16, WindowSamples)
		chunks := WindowSamples / chunkSamples
		for c := 0; c < chunks/4; c++ {
			for i := 0; i < chunkSamples; i++ {
				w[c*chunkSamples+i] = 2000
			}
		}
		if isSilent(w) {
			t.Error("window with a loud burst should not be skipped")
		}
	})

	t.Run("quiet murmur below both thresholds", func(t *testing.T) {
		t.Parallel()
		// Nearly all chunks silent, a couple carry faint energy: mean stays
		// below the window threshold, so the window is skipped.
		w := make([]int16, WindowSamples)
		for i := 0; i < chunkSamples; i++ {
			w[i] = 100
		}
		if !isSilent(w) {
			t.Error("near-silent window should be skipped")
		}
	})
}

func TestSoftmax2(t *testing.T) {
	t.Parallel()

	a, b := softmax2(0, 0)
	if math.Abs(a-0.5) > 1e-12 || math.Abs(b-0.5) > 1e-12 {
		t.Errorf("softmax2(0,0) = %v, %v, want 0.5, 0.5", a, b)
	}

	a, b = softmax2(1000, -1000)
	if math.IsNaN(a) || math.IsNaN(b) {
		t.Fatal("softmax2 overflowed to NaN on extreme scores")
	}
	if a < 0.999 {
		t.Errorf("softmax2(1000,-1000) first prob = %v, want ~1", a)
	}
	if math.Abs(a+b-1) > 1e-12 {
		t.Errorf("probabilities sum to %v, want 1", a+b)
	}
}
