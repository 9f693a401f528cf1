package tiss

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// RiskLevel is the banded form of a rejection probability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Lower bounds of each risk band.
const (
	criticalBand = 0.90
	highBand     = 0.70
	mediumBand   = 0.40
)

// RiskLevelFor bands a probability.
func RiskLevelFor(p float64) RiskLevel {
	switch {
	case p >= criticalBand:
		return RiskCritical
	case p >= highBand:
		return RiskHigh
	case p >= mediumBand:
		return RiskMedium
	default:
		return RiskLow
	}
}

// PredictionSource records which stage produced a prediction.
type PredictionSource string

const (
	SourceRule      PredictionSource = "rule"
	SourceSchema    PredictionSource = "schema"
	SourceAugmentor PredictionSource = "augmentor"
)

// GlosaPrediction is one predicted rejection reason.
type GlosaPrediction struct {
	IssueType    string           `json:"issue_type"`
	Description  string           `json:"description"`
	GlosaCode    string           `json:"glosa_code"`
	Probability  float64          `json:"probability"`
	AutoFixable  bool             `json:"auto_fixable"`
	SuggestedFix string           `json:"suggested_fix,omitempty"`
	Source       PredictionSource `json:"source"`
}

// GlosaRisk is the verdict for one guide.
type GlosaRisk struct {
	Probability     float64           `json:"probability"`
	RiskLevel       RiskLevel         `json:"risk_level"`
	PredictedIssues []GlosaPrediction `json:"predicted_issues"`
	CanAutoFix      bool              `json:"can_auto_fix"`
	EstimatedLoss   float64           `json:"estimated_loss"`
}

// autoFixableCodes are schema error codes whose field AutoFix normalizes.
// Only errors are looked up here; INVALID_CID_FORMAT is a warning and never
// becomes a prediction.
var autoFixableCodes = map[string]bool{
	CodeInvalidCardNumber: true,
}

// schemaGlosaCodes maps schema error codes to the glosa reason an operator
// would most likely cite.
var schemaGlosaCodes = map[string]string{
	CodeMissingRequiredField: "1099",
	CodeInvalidFormat:        "1304",
	CodeInvalidCardNumber:    glosaCardNumber,
	CodeInvalidDate:          glosaServiceDate,
	CodeFutureDate:           glosaServiceDate,
	CodeInvalidDateRange:     glosaServiceDate,
	CodeInvalidValue:         glosaFeeTable,
}

// Recorder observes analyses. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveAnalysis(operator string, risk GlosaRisk, elapsed time.Duration)
	ObserveAugmentorFailure(reason string)
}

// Analyzer merges rule, schema and augmentor output into a GlosaRisk.
type Analyzer struct {
	registry  *Registry
	validator *Validator
	augmentor *Augmentor
	recorder  Recorder
	logger    zerolog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithAugmentor enables external prediction.
func WithAugmentor(aug *Augmentor) AnalyzerOption {
	return func(a *Analyzer) { a.augmentor = aug }
}

// WithRecorder reports every analysis to rec.
func WithRecorder(rec Recorder) AnalyzerOption {
	return func(a *Analyzer) { a.recorder = rec }
}

// WithLogger sets the logger used for per-guide debug output.
func WithLogger(logger zerolog.Logger) AnalyzerOption {
	return func(a *Analyzer) { a.logger = logger }
}

// NewAnalyzer creates an Analyzer. A nil registry or validator is replaced
// with the built-in one on the wall clock.
func NewAnalyzer(registry *Registry, validator *Validator, opts ...AnalyzerOption) *Analyzer {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	if validator == nil {
		validator = defaultValidator
	}
	a := &Analyzer{
		registry:  registry,
		validator: validator,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var defaultAnalyzer = NewAnalyzer(nil, nil)

// AnalyzeRisk scores a guide with the built-in rules and no augmentor.
func AnalyzeRisk(ctx context.Context, g Guide, operator string) GlosaRisk {
	return defaultAnalyzer.AnalyzeRisk(ctx, g, operator)
}

// Registry returns the rule registry the analyzer evaluates.
func (a *Analyzer) Registry() *Registry { return a.registry }

// AnalyzeRisk produces the risk verdict for one guide. It never fails: an
// unavailable augmentor only means fewer predictions.
func (a *Analyzer) AnalyzeRisk(ctx context.Context, g Guide, operator string) GlosaRisk {
	start := time.Now()
	issues := a.localPredictions(g, operator)
	issues = append(issues, a.augmentor.Augment(ctx, g, operator, issues)...)
	risk := scoreRisk(g, issues)
	a.observe(operator, risk, start)
	return risk
}

func (a *Analyzer) observe(operator string, risk GlosaRisk, start time.Time) {
	if a.recorder != nil {
		// Unknown operators share the generic label.
		label := GenericOperator
		if a.registry.Known(operator) {
			label = OperatorKey(operator)
		}
		a.recorder.ObserveAnalysis(label, risk, time.Since(start))
	}
	a.logger.Debug().
		Str("operator", operator).
		Float64("probability", risk.Probability).
		Str("risk_level", string(risk.RiskLevel)).
		Int("issues", len(risk.PredictedIssues)).
		Msg("guide analyzed")
}

// localPredictions covers the rule and schema stages, which need no I/O.
func (a *Analyzer) localPredictions(g Guide, operator string) []GlosaPrediction {
	var issues []GlosaPrediction
	for _, rule := range a.registry.Evaluate(g, operator) {
		issues = append(issues, GlosaPrediction{
			IssueType:    rule.Code,
			Description:  rule.Description,
			GlosaCode:    rule.GlosaCode,
			Probability:  rule.Severity.Probability(),
			SuggestedFix: rule.SuggestedFix,
			Source:       SourceRule,
		})
	}

	// Warnings are left out of the probability set.
	result := a.validator.Validate(g, g.Type())
	for _, f := range result.Errors {
		p := GlosaPrediction{
			IssueType:   f.Code,
			Description: fmt.Sprintf("%s: %s", f.Field, f.Message),
			GlosaCode:   schemaGlosaCodes[f.Code],
			Probability: ProbabilitySchemaError,
			AutoFixable: autoFixableCodes[f.Code],
			Source:      SourceSchema,
		}
		if p.AutoFixable {
			p.SuggestedFix = "apply auto-fix before submitting"
		} else if f.Code == CodeMissingRequiredField {
			p.SuggestedFix = "inform " + f.Field
		}
		issues = append(issues, p)
	}
	return issues
}

func scoreRisk(g Guide, issues []GlosaPrediction) GlosaRisk {
	risk := GlosaRisk{PredictedIssues: issues}
	if risk.PredictedIssues == nil {
		risk.PredictedIssues = []GlosaPrediction{}
	}
	for _, p := range issues {
		if p.Probability > risk.Probability {
			risk.Probability = p.Probability
		}
		if p.AutoFixable {
			risk.CanAutoFix = true
		}
	}
	risk.RiskLevel = RiskLevelFor(risk.Probability)
	if value, ok := g.Number(FieldTotalValue); ok && value > 0 {
		risk.EstimatedLoss = math.Round(value*risk.Probability*100) / 100
	}
	return risk
}
