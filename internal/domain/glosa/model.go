package glosa

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/tiss/internal/tiss"
)

// AnalysisRecord is a persisted validation and risk verdict for one guide.
type AnalysisRecord struct {
	ID              uuid.UUID                `json:"id"`
	TenantID        string                   `json:"tenant_id"`
	GuideNumber     string                   `json:"guide_number"`
	GuideType       string                   `json:"guide_type"`
	Operator        string                   `json:"operator"`
	Valid           bool                     `json:"valid"`
	Errors          []tiss.ValidationFinding `json:"errors"`
	Warnings        []tiss.ValidationFinding `json:"warnings"`
	Probability     float64                  `json:"probability"`
	RiskLevel       string                   `json:"risk_level"`
	CanAutoFix      bool                     `json:"can_auto_fix"`
	EstimatedLoss   float64                  `json:"estimated_loss"`
	PredictedIssues []tiss.GlosaPrediction   `json:"predicted_issues"`
	CreatedAt       time.Time                `json:"created_at"`
}

// NewAnalysisRecord builds the record for one analyzed guide.
func NewAnalysisRecord(tenantID string, g tiss.Guide, operator string, v tiss.ValidationResult, risk tiss.GlosaRisk) *AnalysisRecord {
	number, _ := g.String(tiss.FieldGuideNumber)
	return &AnalysisRecord{
		TenantID:        tenantID,
		GuideNumber:     truncate(number, maxGuideNumber),
		GuideType:       truncate(string(g.Type()), maxGuideType),
		Operator:        truncate(operator, maxOperator),
		Valid:           v.Valid,
		Errors:          v.Errors,
		Warnings:        v.Warnings,
		Probability:     risk.Probability,
		RiskLevel:       string(risk.RiskLevel),
		CanAutoFix:      risk.CanAutoFix,
		EstimatedLoss:   risk.EstimatedLoss,
		PredictedIssues: risk.PredictedIssues,
	}
}

// Column widths. Longer guide numbers already fail validation.
const (
	maxGuideNumber = 20
	maxGuideType   = 40
	maxOperator    = 100
)

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// Validation returns the validation part of the record.
func (r *AnalysisRecord) Validation() tiss.ValidationResult {
	return tiss.ValidationResult{Valid: r.Valid, Errors: r.Errors, Warnings: r.Warnings}
}

// Risk returns the risk part of the record.
func (r *AnalysisRecord) Risk() tiss.GlosaRisk {
	return tiss.GlosaRisk{
		Probability:     r.Probability,
		RiskLevel:       tiss.RiskLevel(r.RiskLevel),
		PredictedIssues: r.PredictedIssues,
		CanAutoFix:      r.CanAutoFix,
		EstimatedLoss:   r.EstimatedLoss,
	}
}

// AnalysisFilter narrows ListAnalyses. Zero fields do not filter.
type AnalysisFilter struct {
	Operator    string
	RiskLevel   string
	GuideNumber string
	Valid       *bool
	Since       *time.Time
}
