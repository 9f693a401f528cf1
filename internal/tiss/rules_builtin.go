package tiss

import (
	"fmt"
	"strings"
	"time"
)

// TUSS procedure codes referenced by the built-in tables.
const (
	tussConsultation     = "10101012"
	tussBloodCount       = "40304361"
	tussAbdominalUS      = "40901122"
	tussSkullCT          = "41001010"
	tussBrainMRI         = "41101014"
	tussOrthopedicRepair = "30715016"
)

// Glosa reason codes cited by the built-in rules.
const (
	glosaServiceDate   = "1323"
	glosaCRM           = "1213"
	glosaCIDMismatch   = "1716"
	glosaAuthorization = "1417"
	glosaFeeTable      = "1705"
	glosaCardNumber    = "1001"
	glosaDeadline      = "1308"
	glosaQuantity      = "1806"
	glosaDiagnosis     = "1702"
)

type feeCeiling struct {
	Procedure string
	Max       float64
}

type quantityLimit struct {
	Procedure string
	Max       float64
}

type categoryMismatch struct {
	CIDPrefix       string
	ProcedurePrefix string
	Label           string
}

// operatorProfile is the data behind one payer's rule set. Zero fields mean
// the payer has no rule of that kind.
type operatorProfile struct {
	Name           string
	CardDigits     int
	FeeTable       []feeCeiling
	PreAuthorized  []string
	SubmissionDays int
	QuantityLimits []quantityLimit
	CIDRequiredFor []GuideType
}

var builtinOperators = []operatorProfile{
	{
		Name:       "Unimed",
		CardDigits: 17,
		FeeTable: []feeCeiling{
			{Procedure: tussConsultation, Max: 180.00},
			{Procedure: tussBloodCount, Max: 45.00},
			{Procedure: tussBrainMRI, Max: 1400.00},
		},
		PreAuthorized: []string{tussSkullCT, tussBrainMRI, tussOrthopedicRepair},
	},
	{
		Name: "Amil",
		FeeTable: []feeCeiling{
			{Procedure: tussConsultation, Max: 150.00},
			{Procedure: tussAbdominalUS, Max: 260.00},
		},
		PreAuthorized: []string{tussBrainMRI, tussOrthopedicRepair},
		QuantityLimits: []quantityLimit{
			{Procedure: tussConsultation, Max: 1},
			{Procedure: tussBloodCount, Max: 2},
		},
	},
	{
		Name: "Bradesco Saúde",
		FeeTable: []feeCeiling{
			{Procedure: tussConsultation, Max: 200.00},
			{Procedure: tussSkullCT, Max: 900.00},
		},
		PreAuthorized:  []string{tussSkullCT, tussBrainMRI, tussAbdominalUS, tussOrthopedicRepair},
		SubmissionDays: 90,
	},
	{
		Name: "SulAmérica",
		FeeTable: []feeCeiling{
			{Procedure: tussConsultation, Max: 190.00},
		},
		PreAuthorized:  []string{tussBrainMRI, tussOrthopedicRepair},
		CIDRequiredFor: []GuideType{GuideTypeConsultation, GuideTypeSPSADT},
	},
	{
		Name: "Hapvida",
		FeeTable: []feeCeiling{
			{Procedure: tussConsultation, Max: 110.00},
			{Procedure: tussBloodCount, Max: 30.00},
			{Procedure: tussAbdominalUS, Max: 180.00},
		},
		PreAuthorized:  []string{tussAbdominalUS, tussSkullCT, tussBrainMRI, tussOrthopedicRepair},
		SubmissionDays: 60,
	},
}

var categoryMismatches = []categoryMismatch{
	{CIDPrefix: "J", ProcedurePrefix: "307", Label: "respiratory diagnosis with musculoskeletal procedure"},
	{CIDPrefix: "O", ProcedurePrefix: "307", Label: "pregnancy diagnosis with musculoskeletal procedure"},
}

func (p operatorProfile) rules(now func() time.Time) []OperatorRule {
	var rules []OperatorRule
	if p.CardDigits > 0 {
		rules = append(rules, cardDigitsRule(p.CardDigits))
	}
	for _, fc := range p.FeeTable {
		rules = append(rules, feeCeilingRule(fc))
	}
	if len(p.PreAuthorized) > 0 {
		rules = append(rules, preAuthorizationRule(p.PreAuthorized))
	}
	if p.SubmissionDays > 0 {
		rules = append(rules, submissionDeadlineRule(now, p.SubmissionDays))
	}
	for _, ql := range p.QuantityLimits {
		rules = append(rules, quantityLimitRule(ql))
	}
	if len(p.CIDRequiredFor) > 0 {
		rules = append(rules, diagnosisRequiredRule(p.CIDRequiredFor))
	}
	return rules
}

// genericRules apply to every operator.
func genericRules(now func() time.Time) []OperatorRule {
	rules := []OperatorRule{
		futureServiceDateRule(now),
		invalidCRMRule(),
	}
	for _, m := range categoryMismatches {
		rules = append(rules, cidProcedureMismatchRule(m))
	}
	return rules
}

func futureServiceDateRule(now func() time.Time) OperatorRule {
	return OperatorRule{
		Code:         "FUTURE_SERVICE_DATE",
		Description:  "service date is after the submission date",
		Severity:     RuleSeverityCritical,
		GlosaCode:    glosaServiceDate,
		SuggestedFix: "use the date the service was actually performed",
		Predicate: func(g Guide) bool {
			date, ok, err := g.Date(FieldServiceDate)
			if !ok || err != nil {
				return false
			}
			t := now()
			return civilDay(date, t.Location()).After(civilDay(t, t.Location()))
		},
	}
}

func invalidCRMRule() OperatorRule {
	return OperatorRule{
		Code:         "INVALID_CRM",
		Description:  "executing professional's CRM is malformed",
		Severity:     RuleSeverityMedium,
		GlosaCode:    glosaCRM,
		SuggestedFix: "inform the CRM as digits followed by the state, e.g. 123456SP",
		Predicate: func(g Guide) bool {
			s, ok := g.String(FieldProfessionalCRM)
			return ok && !ValidCRM(s)
		},
	}
}

func cidProcedureMismatchRule(m categoryMismatch) OperatorRule {
	return OperatorRule{
		Code:         "CID_PROCEDURE_MISMATCH",
		Description:  m.Label,
		Severity:     RuleSeverityHigh,
		GlosaCode:    glosaCIDMismatch,
		SuggestedFix: "review the diagnosis code against the procedure performed",
		Predicate: func(g Guide) bool {
			cid, ok := g.String(FieldCIDCode)
			if !ok {
				return false
			}
			proc, ok := g.String(FieldProcedureCode)
			if !ok {
				return false
			}
			return strings.HasPrefix(strings.ToUpper(cid), m.CIDPrefix) &&
				strings.HasPrefix(digitsOnly(proc), m.ProcedurePrefix)
		},
	}
}

func cardDigitsRule(digits int) OperatorRule {
	return OperatorRule{
		Code:         "CARD_NUMBER_LENGTH",
		Description:  fmt.Sprintf("operator card numbers have %d digits", digits),
		Severity:     RuleSeverityHigh,
		GlosaCode:    glosaCardNumber,
		SuggestedFix: "copy the card number exactly as printed on the beneficiary card",
		Predicate: func(g Guide) bool {
			s, ok := g.String(FieldCardNumber)
			return ok && len(digitsOnly(s)) != digits
		},
	}
}

func feeCeilingRule(fc feeCeiling) OperatorRule {
	return OperatorRule{
		Code:         "FEE_TABLE_EXCEEDED",
		Description:  fmt.Sprintf("procedure %s billed above the fee table ceiling of %.2f per unit", fc.Procedure, fc.Max),
		Severity:     RuleSeverityHigh,
		GlosaCode:    glosaFeeTable,
		SuggestedFix: fmt.Sprintf("bill procedure %s at or below %.2f per unit", fc.Procedure, fc.Max),
		Predicate: func(g Guide) bool {
			if !procedureIs(g, fc.Procedure) {
				return false
			}
			value, ok := g.Number(FieldTotalValue)
			if !ok {
				return false
			}
			return value > fc.Max*quantity(g)
		},
	}
}

func preAuthorizationRule(procedures []string) OperatorRule {
	set := make(map[string]struct{}, len(procedures))
	for _, p := range procedures {
		set[p] = struct{}{}
	}
	return OperatorRule{
		Code:         "MISSING_AUTHORIZATION",
		Description:  "procedure requires prior authorization and no authorization number was informed",
		Severity:     RuleSeverityCritical,
		GlosaCode:    glosaAuthorization,
		SuggestedFix: "request authorization from the operator and inform its number",
		Predicate: func(g Guide) bool {
			proc, ok := g.String(FieldProcedureCode)
			if !ok {
				return false
			}
			if _, listed := set[digitsOnly(proc)]; !listed {
				return false
			}
			return !g.Has(FieldAuthorizationNumber)
		},
	}
}

func submissionDeadlineRule(now func() time.Time, days int) OperatorRule {
	return OperatorRule{
		Code:        "SUBMISSION_DEADLINE",
		Description: fmt.Sprintf("guide submitted more than %d days after the service", days),
		Severity:    RuleSeverityHigh,
		GlosaCode:   glosaDeadline,
		Predicate: func(g Guide) bool {
			date, ok, err := g.Date(FieldServiceDate)
			if !ok || err != nil {
				return false
			}
			t := now()
			today := civilDay(t, t.Location())
			return civilDay(date, t.Location()).Before(today.AddDate(0, 0, -days))
		},
	}
}

func quantityLimitRule(ql quantityLimit) OperatorRule {
	return OperatorRule{
		Code:         "QUANTITY_LIMIT",
		Description:  fmt.Sprintf("procedure %s billed more than %g time(s) on one guide", ql.Procedure, ql.Max),
		Severity:     RuleSeverityMedium,
		GlosaCode:    glosaQuantity,
		SuggestedFix: "split the services across guides or justify the quantity",
		Predicate: func(g Guide) bool {
			return procedureIs(g, ql.Procedure) && quantity(g) > ql.Max
		},
	}
}

func diagnosisRequiredRule(types []GuideType) OperatorRule {
	return OperatorRule{
		Code:         "MISSING_DIAGNOSIS",
		Description:  "operator requires a CID-10 diagnosis on this guide type",
		Severity:     RuleSeverityHigh,
		GlosaCode:    glosaDiagnosis,
		SuggestedFix: "inform the CID-10 code of the main diagnosis",
		Predicate: func(g Guide) bool {
			gt := g.Type()
			for _, t := range types {
				if t == gt {
					return !g.Has(FieldCIDCode)
				}
			}
			return false
		},
	}
}

func procedureIs(g Guide, code string) bool {
	s, ok := g.String(FieldProcedureCode)
	return ok && digitsOnly(s) == code
}

// quantity defaults to 1 when absent or not a positive number.
func quantity(g Guide) float64 {
	q, ok := g.Number(FieldQuantity)
	if !ok || q <= 0 {
		return 1
	}
	return q
}
