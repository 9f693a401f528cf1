package tiss

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ValidateBatch validates each guide with its own declared type using the
// wall clock.
func ValidateBatch(guides []Guide) ValidationResult {
	return defaultValidator.ValidateBatch(guides)
}

// ValidateBatch validates every guide and merges the findings in guide
// order, each field prefixed with the 1-based guide position.
func (v *Validator) ValidateBatch(guides []Guide) ValidationResult {
	results := make([]ValidationResult, len(guides))
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, g := range guides {
		eg.Go(func() error {
			results[i] = v.Validate(g, g.Type())
			return nil
		})
	}
	_ = eg.Wait()

	var findings []ValidationFinding
	for i, res := range results {
		for _, f := range res.Errors {
			findings = append(findings, relabel(i, f))
		}
		for _, f := range res.Warnings {
			findings = append(findings, relabel(i, f))
		}
	}
	return newResult(findings)
}

func relabel(i int, f ValidationFinding) ValidationFinding {
	f.Field = fmt.Sprintf("Guide #%d - %s", i+1, f.Field)
	return f
}

// Summary renders a validation result as one line.
func Summary(r ValidationResult) string {
	if len(r.Errors) == 0 && len(r.Warnings) == 0 {
		return "valid, ready to submit"
	}
	return fmt.Sprintf("%d critical error(s), %d warning(s)", len(r.Errors), len(r.Warnings))
}

// AnalyzeBatch scores every guide against the same operator. Rule and schema
// work runs fully parallel; augmentor calls are bounded by the augmentor's
// own concurrency cap and rate limit. Results are positional.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, guides []Guide, operator string) []GlosaRisk {
	out := make([]GlosaRisk, len(guides))
	var eg errgroup.Group
	for i, g := range guides {
		eg.Go(func() error {
			out[i] = a.AnalyzeRisk(ctx, g, operator)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}
