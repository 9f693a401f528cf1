package tiss

// Severity classifies a validation finding.
type Severity string

const (
	// SeverityError blocks the guide from being valid.
	SeverityError Severity = "error"
	// SeverityWarning is informational and never affects validity.
	SeverityWarning Severity = "warning"
)

// Finding codes.
const (
	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeInvalidFormat        = "INVALID_FORMAT"
	CodeInvalidCardNumber    = "INVALID_CARD_NUMBER"
	CodeInvalidCIDFormat     = "INVALID_CID_FORMAT"
	CodeInvalidProcedureCode = "INVALID_PROCEDURE_CODE"
	CodeInvalidDate          = "INVALID_DATE"
	CodeFutureDate           = "FUTURE_DATE"
	CodeOldDate              = "OLD_DATE"
	CodeInvalidDateRange     = "INVALID_DATE_RANGE"
	CodeInvalidValue         = "INVALID_VALUE"
	CodeHighValue            = "HIGH_VALUE"
	CodeInvalidCRMFormat     = "INVALID_CRM_FORMAT"
)

// ValidationFinding is a single problem found on a guide field.
type ValidationFinding struct {
	Field    string   `json:"field"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult is the outcome of validating one guide or a batch.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationFinding `json:"errors"`
	Warnings []ValidationFinding `json:"warnings"`
}

func newResult(findings []ValidationFinding) ValidationResult {
	res := ValidationResult{
		Errors:   []ValidationFinding{},
		Warnings: []ValidationFinding{},
	}
	for _, f := range findings {
		if f.Severity == SeverityError {
			res.Errors = append(res.Errors, f)
		} else {
			res.Warnings = append(res.Warnings, f)
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// HasCode reports whether any error or warning carries the code.
func (r ValidationResult) HasCode(code string) bool {
	for _, f := range r.Errors {
		if f.Code == code {
			return true
		}
	}
	for _, f := range r.Warnings {
		if f.Code == code {
			return true
		}
	}
	return false
}
