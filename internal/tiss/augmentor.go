package tiss

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Predictor proposes rejection reasons the rules do not cover. existing holds
// the issues found so far so the predictor can avoid repeating them.
type Predictor interface {
	Predict(ctx context.Context, g Guide, operator string, existing []GlosaPrediction) ([]GlosaPrediction, error)
}

// DefaultPredictionTimeout bounds a single Predict call.
const DefaultPredictionTimeout = 15 * time.Second

// AugmentorConfig bounds the load put on the prediction service.
type AugmentorConfig struct {
	Timeout time.Duration
	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxConcurrent caps in-flight Predict calls; zero means 4.
	MaxConcurrent int
}

// Augmentor runs a Predictor as a best-effort stage: every failure is logged
// and turned into zero predictions.
type Augmentor struct {
	predictor Predictor
	timeout   time.Duration
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	logger    zerolog.Logger
	recorder  Recorder
}

// NewAugmentor wraps p. A nil predictor yields an augmentor that never adds
// predictions. rec may be nil.
func NewAugmentor(p Predictor, cfg AugmentorConfig, logger zerolog.Logger, rec Recorder) *Augmentor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPredictionTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	a := &Augmentor{
		predictor: p,
		timeout:   cfg.Timeout,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:    logger.With().Str("component", "augmentor").Logger(),
		recorder:  rec,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if p == nil {
		a.logger.Warn().Msg("no prediction capability configured, risk scoring uses rules and schema only")
	}
	return a
}

// Enabled reports whether a predictor is wired.
func (a *Augmentor) Enabled() bool {
	return a != nil && a.predictor != nil
}

type predictOutcome struct {
	predictions []GlosaPrediction
	err         error
}

// Augment calls the predictor under the configured concurrency cap and rate
// limit. Waiting for a slot or a token is bounded by ctx only; the timeout
// covers the Predict call itself. It is safe to call on a nil Augmentor.
func (a *Augmentor) Augment(ctx context.Context, g Guide, operator string, existing []GlosaPrediction) []GlosaPrediction {
	if !a.Enabled() {
		return nil
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.fail(ctx, "concurrency", operator, err)
		return nil
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			a.sem.Release(1)
			a.fail(ctx, "rate_limit", operator, err)
			return nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snapshot := append([]GlosaPrediction(nil), existing...)
	done := make(chan predictOutcome, 1)
	// The slot is held until Predict returns, even if Augment gave up on it.
	go func() {
		defer a.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- predictOutcome{err: fmt.Errorf("predictor panic: %v", r)}
			}
		}()
		preds, err := a.predictor.Predict(callCtx, g.Clone(), operator, snapshot)
		done <- predictOutcome{predictions: preds, err: err}
	}()

	select {
	case <-callCtx.Done():
		a.fail(callCtx, "timeout", operator, callCtx.Err())
		return nil
	case out := <-done:
		if out.err != nil {
			reason := "error"
			if callCtx.Err() != nil {
				reason = "timeout"
			}
			a.fail(callCtx, reason, operator, out.err)
			return nil
		}
		return sanitizePredictions(out.predictions)
	}
}

func (a *Augmentor) fail(ctx context.Context, reason, operator string, err error) {
	if reason == "timeout" && errors.Is(ctx.Err(), context.Canceled) {
		reason = "canceled"
	}
	a.logger.Warn().Err(err).
		Str("reason", reason).
		Str("operator", operator).
		Msg("risk augmentation skipped")
	if a.recorder != nil {
		a.recorder.ObserveAugmentorFailure(reason)
	}
}

// sanitizePredictions forces externally supplied predictions into range.
// They are never auto-fixable.
func sanitizePredictions(in []GlosaPrediction) []GlosaPrediction {
	out := make([]GlosaPrediction, 0, len(in))
	for _, p := range in {
		if strings.TrimSpace(p.IssueType) == "" {
			continue
		}
		p.Probability = clampProbability(p.Probability)
		p.AutoFixable = false
		p.Source = SourceAugmentor
		out = append(out, p)
	}
	return out
}

func clampProbability(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
