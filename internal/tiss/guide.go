package tiss

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Guide is one TISS claim record as submitted by the clinic. Its shape varies
// by guide type, so it is kept as a decoded JSON object.
type Guide map[string]any

// Recognized guide fields.
const (
	FieldGuideType           = "guide_type"
	FieldGuideNumber         = "guide_number"
	FieldCardNumber          = "card_number"
	FieldBeneficiaryName     = "beneficiary_name"
	FieldProviderCode        = "provider_code"
	FieldProfessionalName    = "professional_name"
	FieldProfessionalCRM     = "professional_crm"
	FieldProcedureCode       = "procedure_code"
	FieldCIDCode             = "cid_code"
	FieldTotalValue          = "total_value"
	FieldQuantity            = "quantity"
	FieldServiceDate         = "service_date"
	FieldAuthorizationNumber = "authorization_number"
	FieldClinicalIndication  = "clinical_indication"
	FieldAdmissionDate       = "admission_date"
	FieldDischargeDate       = "discharge_date"
)

// GuideType identifies the TISS guide layout.
type GuideType string

const (
	GuideTypeConsultation         GuideType = "CONSULTA"
	GuideTypeSPSADT               GuideType = "SP_SADT"
	GuideTypeAuthorizationRequest GuideType = "SOLICITACAO"
	GuideTypeHospitalization      GuideType = "INTERNACAO"

	// DefaultGuideType is used when a guide does not declare its type.
	DefaultGuideType = GuideTypeConsultation
)

var guideTypeAliases = map[string]GuideType{
	"CONSULTA":                    GuideTypeConsultation,
	"CONSULTATION":                GuideTypeConsultation,
	"SP_SADT":                     GuideTypeSPSADT,
	"SP-SADT":                     GuideTypeSPSADT,
	"SADT":                        GuideTypeSPSADT,
	"ANCILLARY-SERVICE":           GuideTypeSPSADT,
	"ANCILLARY_SERVICE":           GuideTypeSPSADT,
	"SOLICITACAO":                 GuideTypeAuthorizationRequest,
	"SOLICITACAO_INTERNACAO":      GuideTypeAuthorizationRequest,
	"PRIOR-AUTHORIZATION-REQUEST": GuideTypeAuthorizationRequest,
	"PRIOR_AUTHORIZATION_REQUEST": GuideTypeAuthorizationRequest,
	"INTERNACAO":                  GuideTypeHospitalization,
	"RESUMO_INTERNACAO":           GuideTypeHospitalization,
	"HOSPITALIZATION":             GuideTypeHospitalization,
}

// ParseGuideType resolves a declared guide type. The second return value is
// false when the name is not a known type.
func ParseGuideType(s string) (GuideType, bool) {
	gt, ok := guideTypeAliases[strings.ToUpper(strings.TrimSpace(s))]
	return gt, ok
}

// Type returns the guide's declared type, falling back to DefaultGuideType.
func (g Guide) Type() GuideType {
	s, ok := g.String(FieldGuideType)
	if !ok {
		return DefaultGuideType
	}
	if gt, known := ParseGuideType(s); known {
		return gt
	}
	return GuideType(strings.ToUpper(s))
}

// Has reports whether the field is present and non-empty.
func (g Guide) Has(field string) bool {
	v, ok := g[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// String returns the field rendered as a trimmed string. Numbers are
// formatted without exponent so numeric card or guide numbers survive.
func (g Guide) String(field string) (string, bool) {
	v, ok := g[field]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			s = strconv.FormatFloat(t, 'f', 0, 64)
		} else {
			s = strconv.FormatFloat(t, 'f', -1, 64)
		}
	case float32, int, int32, int64, uint, uint32, uint64:
		s = fmt.Sprint(t)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Number reads a monetary or quantity field. Strings are accepted in both
// "1500.00" and Brazilian "1.500,00" notation.
func (g Guide) Number(field string) (float64, bool) {
	v, ok := g[field]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseDecimal(t)
	}
	return 0, false
}

func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02/01/2006",
}

// Date parses a date field. ok is false when the field is absent; err is set
// when it is present but not a recognizable date.
func (g Guide) Date(field string) (t time.Time, ok bool, err error) {
	s, present := g.String(field)
	if !present {
		return time.Time{}, false, nil
	}
	for _, layout := range dateLayouts {
		if parsed, perr := time.Parse(layout, s); perr == nil {
			return parsed, true, nil
		}
	}
	return time.Time{}, true, fmt.Errorf("unrecognized date %q", s)
}

// Clone returns a shallow copy of the guide.
func (g Guide) Clone() Guide {
	out := make(Guide, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
