package tiss

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type predictorFunc func(ctx context.Context, g Guide, operator string, existing []GlosaPrediction) ([]GlosaPrediction, error)

func (f predictorFunc) Predict(ctx context.Context, g Guide, operator string, existing []GlosaPrediction) ([]GlosaPrediction, error) {
	return f(ctx, g, operator, existing)
}

func TestAugmentor_AppendsSanitizedPredictions(t *testing.T) {
	var seen []GlosaPrediction
	var seenOperator string
	p := predictorFunc(func(_ context.Context, _ Guide, operator string, existing []GlosaPrediction) ([]GlosaPrediction, error) {
		seenOperator = operator
		seen = existing
		return []GlosaPrediction{
			{IssueType: "DUPLICATE_BILLING", Description: "same procedure billed twice this week", GlosaCode: "1899", Probability: 1.7, AutoFixable: true},
			{IssueType: "LOW_SIGNAL", Probability: -0.2},
			{IssueType: "NAN", Probability: math.NaN()},
			{IssueType: "  ", Probability: 0.9},
		}, nil
	})
	aug := NewAugmentor(p, AugmentorConfig{Timeout: time.Second}, zerolog.Nop(), nil)
	a := newTestAnalyzer(WithAugmentor(aug))

	g := with(validGuide(), FieldServiceDate, "2026-04-01")
	risk := a.AnalyzeRisk(context.Background(), g, "unimed")

	assert.Equal(t, "unimed", seenOperator)
	assert.ElementsMatch(t, []string{"FUTURE_SERVICE_DATE", CodeFutureDate}, issueTypes(seen))

	require.Len(t, risk.PredictedIssues, 5)
	extra := risk.PredictedIssues[2:]
	assert.Equal(t, []string{"DUPLICATE_BILLING", "LOW_SIGNAL", "NAN"}, issueTypes(extra))
	for _, p := range extra {
		assert.Equal(t, SourceAugmentor, p.Source)
		assert.False(t, p.AutoFixable)
		assert.GreaterOrEqual(t, p.Probability, 0.0)
		assert.LessOrEqual(t, p.Probability, 1.0)
	}
	assert.Equal(t, 1.0, risk.Probability)
	assert.Equal(t, RiskCritical, risk.RiskLevel)
	assert.False(t, risk.CanAutoFix)
}

func TestAugmentor_FailuresDegradeToRules(t *testing.T) {
	tests := []struct {
		name   string
		p      Predictor
		reason string
	}{
		{
			name: "error",
			p: predictorFunc(func(context.Context, Guide, string, []GlosaPrediction) ([]GlosaPrediction, error) {
				return nil, errors.New("503 service unavailable")
			}),
			reason: "error",
		},
		{
			name: "timeout",
			p: predictorFunc(func(ctx context.Context, _ Guide, _ string, _ []GlosaPrediction) ([]GlosaPrediction, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
			reason: "timeout",
		},
		{
			name: "panic",
			p: predictorFunc(func(context.Context, Guide, string, []GlosaPrediction) ([]GlosaPrediction, error) {
				panic("nil client")
			}),
			reason: "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			aug := NewAugmentor(tt.p, AugmentorConfig{Timeout: 50 * time.Millisecond}, zerolog.Nop(), rec)
			a := newTestAnalyzer(WithAugmentor(aug), WithRecorder(rec))

			g := with(validGuide(), FieldServiceDate, "2026-04-01")
			var risk GlosaRisk
			assert.NotPanics(t, func() {
				risk = a.AnalyzeRisk(context.Background(), g, "unimed")
			})
			assert.ElementsMatch(t, []string{"FUTURE_SERVICE_DATE", CodeFutureDate}, issueTypes(risk.PredictedIssues))
			assert.Equal(t, RiskCritical, risk.RiskLevel)
			assert.Equal(t, []string{tt.reason}, rec.failureReasons())
		})
	}
}

func TestAugmentor_CanceledContext(t *testing.T) {
	rec := &fakeRecorder{}
	p := predictorFunc(func(ctx context.Context, _ Guide, _ string, _ []GlosaPrediction) ([]GlosaPrediction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	aug := NewAugmentor(p, AugmentorConfig{}, zerolog.Nop(), rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, aug.Augment(ctx, validGuide(), "unimed", nil))
	require.Len(t, rec.failureReasons(), 1)
}

func TestAugmentor_NilPredictor(t *testing.T) {
	aug := NewAugmentor(nil, AugmentorConfig{}, zerolog.Nop(), nil)
	assert.False(t, aug.Enabled())
	assert.Empty(t, aug.Augment(context.Background(), validGuide(), "unimed", nil))

	var none *Augmentor
	assert.False(t, none.Enabled())
	assert.Nil(t, none.Augment(context.Background(), validGuide(), "unimed", nil))
}

func TestAugmentor_ExistingIssuesAreACopy(t *testing.T) {
	p := predictorFunc(func(_ context.Context, _ Guide, _ string, existing []GlosaPrediction) ([]GlosaPrediction, error) {
		for i := range existing {
			existing[i].Probability = 0
		}
		return nil, nil
	})
	aug := NewAugmentor(p, AugmentorConfig{}, zerolog.Nop(), nil)
	existing := []GlosaPrediction{{IssueType: "A", Probability: 0.75}}
	aug.Augment(context.Background(), validGuide(), "unimed", existing)
	assert.Equal(t, 0.75, existing[0].Probability)
}

func TestAugmentor_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	var calls atomic.Int32
	p := predictorFunc(func(context.Context, Guide, string, []GlosaPrediction) ([]GlosaPrediction, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})
	aug := NewAugmentor(p, AugmentorConfig{Timeout: 5 * time.Second, MaxConcurrent: 2}, zerolog.Nop(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			aug.Augment(context.Background(), validGuide(), "unimed", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), calls.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAugmentor_RateLimit(t *testing.T) {
	var calls atomic.Int32
	p := predictorFunc(func(context.Context, Guide, string, []GlosaPrediction) ([]GlosaPrediction, error) {
		calls.Add(1)
		return nil, nil
	})
	aug := NewAugmentor(p, AugmentorConfig{Timeout: 5 * time.Second, RequestsPerSecond: 20, Burst: 1}, zerolog.Nop(), nil)

	start := time.Now()
	for i := 0; i < 4; i++ {
		aug.Augment(context.Background(), validGuide(), "unimed", nil)
	}
	assert.Equal(t, int32(4), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestAugmentor_SlotHeldUntilPredictReturns(t *testing.T) {
	var inFlight, peak atomic.Int32
	p := predictorFunc(func(context.Context, Guide, string, []GlosaPrediction) ([]GlosaPrediction, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		// Ignores ctx, like a client without deadline support.
		time.Sleep(60 * time.Millisecond)
		return nil, nil
	})
	rec := &fakeRecorder{}
	aug := NewAugmentor(p, AugmentorConfig{Timeout: 10 * time.Millisecond, MaxConcurrent: 1}, zerolog.Nop(), rec)

	for i := 0; i < 3; i++ {
		assert.Empty(t, aug.Augment(context.Background(), validGuide(), "unimed", nil))
	}
	assert.Eventually(t, func() bool { return inFlight.Load() == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, []string{"timeout", "timeout", "timeout"}, rec.failureReasons())
}
