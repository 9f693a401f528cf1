package glosa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicflow/tiss/internal/platform/db"
	"github.com/clinicflow/tiss/internal/platform/metrics"
	"github.com/clinicflow/tiss/internal/tiss"
)

var (
	ErrNotFound            = errors.New("analysis not found")
	ErrPersistenceDisabled = errors.New("analysis storage is not configured")
	ErrUnknownOperator     = errors.New("unknown operator")
	ErrEmptyBatch          = errors.New("at least one guide is required")
	ErrBatchTooLarge       = errors.New("batch exceeds maximum size")
	ErrInvalidFilter       = errors.New("invalid filter")
)

// MaxBatchSize bounds the guides accepted by one batch call.
const MaxBatchSize = 500

// Service validates, scores and fixes guides, and keeps a history of
// analyses when a repository is configured.
type Service struct {
	analyzer  *tiss.Analyzer
	validator *tiss.Validator
	analyses  AnalysisRepository
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates a Service. A nil repository disables persistence;
// Analyze still returns verdicts and the history endpoints report
// ErrPersistenceDisabled.
func NewService(analyzer *tiss.Analyzer, validator *tiss.Validator, analyses AnalysisRepository, logger zerolog.Logger) *Service {
	if validator == nil {
		validator = tiss.NewValidator(nil)
	}
	if analyzer == nil {
		analyzer = tiss.NewAnalyzer(nil, validator)
	}
	return &Service{
		analyzer:  analyzer,
		validator: validator,
		analyses:  analyses,
		now:       time.Now,
		logger:    logger.With().Str("component", "glosa_service").Logger(),
	}
}

// Persistent reports whether analyses are stored.
func (s *Service) Persistent() bool { return s.analyses != nil }

// Validate checks one guide. An empty guideType uses the guide's declared
// type; an unrecognized one is checked against the baseline fields only.
func (s *Service) Validate(_ context.Context, g tiss.Guide, guideType string) tiss.ValidationResult {
	res := s.validator.Validate(g, resolveGuideType(g, guideType))
	metrics.RecordValidation(res.Valid)
	return res
}

// ValidateBatch checks every guide, each against its own declared type.
func (s *Service) ValidateBatch(_ context.Context, guides []tiss.Guide) (tiss.ValidationResult, error) {
	if err := checkBatch(guides); err != nil {
		return tiss.ValidationResult{}, err
	}
	res := s.validator.ValidateBatch(guides)
	metrics.RecordValidation(res.Valid)
	return res, nil
}

// Analyze validates and scores one guide for an operator and stores the
// verdict.
func (s *Service) Analyze(ctx context.Context, g tiss.Guide, operator string) (*AnalysisRecord, error) {
	risk := s.analyzer.AnalyzeRisk(ctx, g, operator)
	rec := s.newRecord(ctx, g, operator, risk)
	if err := s.persist(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AnalyzeBatch scores every guide for the same operator. Records are
// returned in input order.
func (s *Service) AnalyzeBatch(ctx context.Context, guides []tiss.Guide, operator string) ([]*AnalysisRecord, error) {
	if err := checkBatch(guides); err != nil {
		return nil, err
	}
	risks := s.analyzer.AnalyzeBatch(ctx, guides, operator)

	records := make([]*AnalysisRecord, len(guides))
	for i, g := range guides {
		records[i] = s.newRecord(ctx, g, operator, risks[i])
	}
	if s.analyses == nil {
		return records, nil
	}
	if err := s.analyses.CreateBatch(ctx, records); err != nil {
		s.logger.Error().Err(err).Int("guides", len(records)).Msg("failed to store batch analysis")
		return nil, fmt.Errorf("store batch analysis: %w", err)
	}
	return records, nil
}

// AutoFixResult is a corrected guide with what changed and how it now
// validates.
type AutoFixResult struct {
	Guide      tiss.Guide            `json:"guide"`
	Changes    []string              `json:"changes"`
	Validation tiss.ValidationResult `json:"validation"`
}

// AutoFix applies the mechanical corrections and revalidates the result.
func (s *Service) AutoFix(_ context.Context, g tiss.Guide) AutoFixResult {
	fixed, changes := tiss.AutoFix(g)
	metrics.RecordAutoFix(len(changes))
	return AutoFixResult{
		Guide:      fixed,
		Changes:    changes,
		Validation: s.validator.Validate(fixed, fixed.Type()),
	}
}

func (s *Service) GetAnalysis(ctx context.Context, id uuid.UUID) (*AnalysisRecord, error) {
	if s.analyses == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.analyses.GetByID(ctx, id)
}

func (s *Service) ListAnalyses(ctx context.Context, filter AnalysisFilter, limit, offset int) ([]*AnalysisRecord, int, error) {
	if s.analyses == nil {
		return nil, 0, ErrPersistenceDisabled
	}
	if filter.Operator != "" {
		filter.Operator = tiss.OperatorKey(filter.Operator)
	}
	if filter.RiskLevel != "" && !validRiskLevels[tiss.RiskLevel(filter.RiskLevel)] {
		return nil, 0, fmt.Errorf("%w: risk_level %q", ErrInvalidFilter, filter.RiskLevel)
	}
	return s.analyses.List(ctx, filter, limit, offset)
}

var validRiskLevels = map[tiss.RiskLevel]bool{
	tiss.RiskLow: true, tiss.RiskMedium: true, tiss.RiskHigh: true, tiss.RiskCritical: true,
}

func (s *Service) Operators() []tiss.Operator {
	return s.analyzer.Registry().Operators()
}

// OperatorRules lists the rules applied to an operator. Only operators with
// their own rule set are accepted.
func (s *Service) OperatorRules(name string) ([]tiss.OperatorRule, error) {
	reg := s.analyzer.Registry()
	if !reg.Known(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, name)
	}
	return reg.RulesFor(name), nil
}

func (s *Service) newRecord(ctx context.Context, g tiss.Guide, operator string, risk tiss.GlosaRisk) *AnalysisRecord {
	validation := s.validator.Validate(g, g.Type())
	metrics.RecordValidation(validation.Valid)

	rec := NewAnalysisRecord(db.TenantFromContext(ctx), g, operatorLabel(operator), validation, risk)
	rec.ID = uuid.New()
	rec.CreatedAt = s.now().UTC()
	return rec
}

func (s *Service) persist(ctx context.Context, rec *AnalysisRecord) error {
	if s.analyses == nil {
		return nil
	}
	if err := s.analyses.Create(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("analysis_id", rec.ID.String()).Msg("failed to store analysis")
		return fmt.Errorf("store analysis: %w", err)
	}
	return nil
}

func operatorLabel(operator string) string {
	if key := tiss.OperatorKey(operator); key != "" {
		return key
	}
	return tiss.GenericOperator
}

func resolveGuideType(g tiss.Guide, guideType string) tiss.GuideType {
	if strings.TrimSpace(guideType) == "" {
		return g.Type()
	}
	if gt, ok := tiss.ParseGuideType(guideType); ok {
		return gt
	}
	return tiss.GuideType(strings.ToUpper(strings.TrimSpace(guideType)))
}

func checkBatch(guides []tiss.Guide) error {
	if len(guides) == 0 {
		return ErrEmptyBatch
	}
	if len(guides) > MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(guides), MaxBatchSize)
	}
	return nil
}
