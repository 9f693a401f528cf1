package tiss

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxGuideNumberLength = 20
	minCardDigits        = 16
	maxCardDigits        = 20
	procedureCodeDigits  = 8

	// HighValueThreshold flags totals that are more often typos than real charges.
	HighValueThreshold = 10000.00
)

var (
	cidPattern = regexp.MustCompile(`^[A-Z][0-9]{2}(\.[0-9]{1,2})?$`)
	crmPattern = regexp.MustCompile(`^[0-9]{4,7}[A-Z]{2}$`)
	crmNoise   = strings.NewReplacer(" ", "", "-", "", "/", "", ".", "")
)

var baselineRequired = []string{
	FieldGuideNumber,
	FieldCardNumber,
	FieldBeneficiaryName,
	FieldProfessionalCRM,
	FieldProcedureCode,
	FieldServiceDate,
	FieldTotalValue,
}

// requiredFields lists, per guide type, the fields that must be present.
var requiredFields = map[GuideType][]string{
	GuideTypeConsultation: baselineRequired,
	GuideTypeSPSADT:       append(append([]string{}, baselineRequired...), FieldCIDCode),
	GuideTypeAuthorizationRequest: {
		FieldGuideNumber,
		FieldCardNumber,
		FieldBeneficiaryName,
		FieldProfessionalCRM,
		FieldProcedureCode,
		FieldCIDCode,
		FieldClinicalIndication,
	},
	GuideTypeHospitalization: {
		FieldGuideNumber,
		FieldCardNumber,
		FieldBeneficiaryName,
		FieldProfessionalCRM,
		FieldProcedureCode,
		FieldCIDCode,
		FieldAdmissionDate,
		FieldAuthorizationNumber,
		FieldTotalValue,
	},
}

// RequiredFields returns the required field set for a guide type. Unknown
// types get the consultation baseline.
func RequiredFields(gt GuideType) []string {
	if fields, ok := requiredFields[gt]; ok {
		return fields
	}
	return baselineRequired
}

// Validator checks guides against the TISS schema rules. The zero value is
// not usable; construct with NewValidator.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a Validator. A nil clock means time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

var defaultValidator = NewValidator(nil)

// ValidateGuide validates a guide against the rules for guideType using the
// wall clock.
func ValidateGuide(g Guide, guideType GuideType) ValidationResult {
	return defaultValidator.Validate(g, guideType)
}

// Validate runs the required-field check followed by every format check.
// It never panics, whatever the guide holds.
func (v *Validator) Validate(g Guide, guideType GuideType) ValidationResult {
	var findings []ValidationFinding

	for _, field := range RequiredFields(guideType) {
		if !g.Has(field) {
			findings = append(findings, ValidationFinding{
				Field:    field,
				Code:     CodeMissingRequiredField,
				Message:  fmt.Sprintf("required field %s is missing for guide type %s", field, guideType),
				Severity: SeverityError,
			})
		}
	}

	findings = append(findings, v.checkGuideNumber(g)...)
	findings = append(findings, v.checkCardNumber(g)...)
	findings = append(findings, v.checkCID(g)...)
	findings = append(findings, v.checkProcedureCode(g)...)
	findings = append(findings, v.checkServiceDate(g)...)
	findings = append(findings, v.checkValue(g)...)
	findings = append(findings, v.checkCRM(g)...)
	if guideType == GuideTypeHospitalization {
		findings = append(findings, v.checkStayRange(g)...)
	}

	return newResult(findings)
}

func (v *Validator) checkGuideNumber(g Guide) []ValidationFinding {
	s, ok := g.String(FieldGuideNumber)
	if !ok || len([]rune(s)) <= maxGuideNumberLength {
		return nil
	}
	return []ValidationFinding{{
		Field:    FieldGuideNumber,
		Code:     CodeInvalidFormat,
		Message:  fmt.Sprintf("guide number exceeds %d characters", maxGuideNumberLength),
		Severity: SeverityError,
	}}
}

func (v *Validator) checkCardNumber(g Guide) []ValidationFinding {
	if !g.Has(FieldCardNumber) {
		return nil
	}
	s, _ := g.String(FieldCardNumber)
	n := len(digitsOnly(s))
	if n >= minCardDigits && n <= maxCardDigits {
		return nil
	}
	return []ValidationFinding{{
		Field:    FieldCardNumber,
		Code:     CodeInvalidCardNumber,
		Message:  fmt.Sprintf("card number must have between %d and %d digits, got %d", minCardDigits, maxCardDigits, n),
		Severity: SeverityError,
	}}
}

func (v *Validator) checkCID(g Guide) []ValidationFinding {
	if !g.Has(FieldCIDCode) {
		return nil
	}
	s, _ := g.String(FieldCIDCode)
	if cidPattern.MatchString(s) {
		return nil
	}
	return []ValidationFinding{{
		Field:    FieldCIDCode,
		Code:     CodeInvalidCIDFormat,
		Message:  fmt.Sprintf("CID-10 code %q should look like J06.9", s),
		Severity: SeverityWarning,
	}}
}

func (v *Validator) checkProcedureCode(g Guide) []ValidationFinding {
	if !g.Has(FieldProcedureCode) {
		return nil
	}
	s, _ := g.String(FieldProcedureCode)
	if len(digitsOnly(s)) == procedureCodeDigits {
		return nil
	}
	return []ValidationFinding{{
		Field:    FieldProcedureCode,
		Code:     CodeInvalidProcedureCode,
		Message:  fmt.Sprintf("TUSS procedure code %q must have %d digits", s, procedureCodeDigits),
		Severity: SeverityWarning,
	}}
}

func (v *Validator) checkServiceDate(g Guide) []ValidationFinding {
	if !g.Has(FieldServiceDate) {
		return nil
	}
	date, ok, err := g.Date(FieldServiceDate)
	if !ok || err != nil {
		return []ValidationFinding{{
			Field:    FieldServiceDate,
			Code:     CodeInvalidDate,
			Message:  "service date is not a valid date",
			Severity: SeverityError,
		}}
	}

	now := v.now()
	today := civilDay(now, now.Location())
	day := civilDay(date, now.Location())
	switch {
	case day.After(today):
		return []ValidationFinding{{
			Field:    FieldServiceDate,
			Code:     CodeFutureDate,
			Message:  "service date is in the future",
			Severity: SeverityError,
		}}
	case day.Before(today.AddDate(-1, 0, 0)):
		return []ValidationFinding{{
			Field:    FieldServiceDate,
			Code:     CodeOldDate,
			Message:  "service date is more than one year old",
			Severity: SeverityWarning,
		}}
	}
	return nil
}

func (v *Validator) checkValue(g Guide) []ValidationFinding {
	if !g.Has(FieldTotalValue) {
		return nil
	}
	value, ok := g.Number(FieldTotalValue)
	if !ok || value <= 0 {
		return []ValidationFinding{{
			Field:    FieldTotalValue,
			Code:     CodeInvalidValue,
			Message:  "total value must be a positive number",
			Severity: SeverityError,
		}}
	}
	if value > HighValueThreshold {
		return []ValidationFinding{{
			Field:    FieldTotalValue,
			Code:     CodeHighValue,
			Message:  fmt.Sprintf("total value %.2f is above %.2f, check for typing mistakes", value, HighValueThreshold),
			Severity: SeverityWarning,
		}}
	}
	return nil
}

func (v *Validator) checkCRM(g Guide) []ValidationFinding {
	if !g.Has(FieldProfessionalCRM) {
		return nil
	}
	s, _ := g.String(FieldProfessionalCRM)
	if ValidCRM(s) {
		return nil
	}
	return []ValidationFinding{{
		Field:    FieldProfessionalCRM,
		Code:     CodeInvalidCRMFormat,
		Message:  fmt.Sprintf("CRM %q should be 4 to 7 digits followed by the state (e.g. 123456SP)", s),
		Severity: SeverityWarning,
	}}
}

func (v *Validator) checkStayRange(g Guide) []ValidationFinding {
	admission, okA, errA := g.Date(FieldAdmissionDate)
	discharge, okD, errD := g.Date(FieldDischargeDate)
	if !okA || !okD || errA != nil || errD != nil {
		return nil
	}
	if !discharge.Before(admission) {
		return nil
	}
	return []ValidationFinding{{
		Field:    FieldDischargeDate,
		Code:     CodeInvalidDateRange,
		Message:  "discharge date precedes admission date",
		Severity: SeverityError,
	}}
}

// ValidCRM reports whether a professional license number is well formed.
// Separators and lower case state letters are tolerated.
func ValidCRM(s string) bool {
	return crmPattern.MatchString(strings.ToUpper(crmNoise.Replace(s)))
}

// civilDay keeps the calendar day as written in t's own offset and places it
// in loc, so "2026-10-19" stays the 19th whatever the server zone is.
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
