package tiss

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RuleSeverity is the tier of an operator rule. Each tier maps to a fixed
// rejection probability.
type RuleSeverity string

const (
	RuleSeverityCritical RuleSeverity = "critical"
	RuleSeverityHigh     RuleSeverity = "high"
	RuleSeverityMedium   RuleSeverity = "medium"
)

// Calibrated rejection probabilities. Changing them needs new payer data.
const (
	ProbabilityCritical    = 0.95
	ProbabilityHigh        = 0.75
	ProbabilityMedium      = 0.50
	ProbabilitySchemaError = 0.85
)

// Probability returns the rejection probability of the tier.
func (s RuleSeverity) Probability() float64 {
	switch s {
	case RuleSeverityCritical:
		return ProbabilityCritical
	case RuleSeverityHigh:
		return ProbabilityHigh
	default:
		return ProbabilityMedium
	}
}

// ParseRuleSeverity reads a tier name. Unknown names are rejected.
func ParseRuleSeverity(s string) (RuleSeverity, bool) {
	switch RuleSeverity(strings.ToLower(strings.TrimSpace(s))) {
	case RuleSeverityCritical:
		return RuleSeverityCritical, true
	case RuleSeverityHigh:
		return RuleSeverityHigh, true
	case RuleSeverityMedium:
		return RuleSeverityMedium, true
	}
	return "", false
}

// OperatorRule predicts one payer-specific rejection reason. A rule fires
// when its predicate returns true.
type OperatorRule struct {
	Code         string           `json:"code"`
	Description  string           `json:"description"`
	Severity     RuleSeverity     `json:"severity"`
	GlosaCode    string           `json:"glosa_code"`
	SuggestedFix string           `json:"suggested_fix,omitempty"`
	Predicate    func(Guide) bool `json:"-"`
}

// Fires evaluates the rule. A nil or panicking predicate does not fire.
func (r OperatorRule) Fires(g Guide) (fired bool) {
	if r.Predicate == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			fired = false
		}
	}()
	return r.Predicate(g)
}

// GenericOperator is the registry key for rules every operator shares. It is
// also what unknown operators are evaluated against.
const GenericOperator = "generic"

// Registry maps operator keys to their rule sets. It is built once and is
// read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	rules map[string][]OperatorRule
	names map[string]string
}

// RegistryOption customizes a registry at construction time.
type RegistryOption func(*registryBuilder)

type registryBuilder struct {
	now      func() time.Time
	builtins bool
	extra    []operatorRules
}

type operatorRules struct {
	name  string
	rules []OperatorRule
}

// WithOperatorRules adds rules for an operator. Operators not known yet are
// created with the generic rules plus the given ones.
func WithOperatorRules(operator string, rules ...OperatorRule) RegistryOption {
	return func(b *registryBuilder) {
		b.extra = append(b.extra, operatorRules{name: operator, rules: rules})
	}
}

// WithoutBuiltins starts from an empty table instead of the built-in payers.
func WithoutBuiltins() RegistryOption {
	return func(b *registryBuilder) { b.builtins = false }
}

// NewRegistry builds the rule registry. now is the reference clock for date
// rules; nil means time.Now.
func NewRegistry(now func() time.Time, opts ...RegistryOption) *Registry {
	if now == nil {
		now = time.Now
	}
	b := &registryBuilder{now: now, builtins: true}
	for _, opt := range opts {
		opt(b)
	}

	r := &Registry{
		rules: make(map[string][]OperatorRule),
		names: make(map[string]string),
	}
	generic := genericRules(now)
	r.rules[GenericOperator] = generic
	r.names[GenericOperator] = GenericOperator

	if b.builtins {
		for _, p := range builtinOperators {
			key := OperatorKey(p.Name)
			r.rules[key] = append(append([]OperatorRule{}, generic...), p.rules(now)...)
			r.names[key] = p.Name
		}
	}
	for _, e := range b.extra {
		key := OperatorKey(e.name)
		if key == "" {
			continue
		}
		if _, ok := r.rules[key]; !ok {
			r.rules[key] = append([]OperatorRule{}, generic...)
			r.names[key] = strings.TrimSpace(e.name)
		}
		r.rules[key] = append(r.rules[key], e.rules...)
	}
	return r
}

// RulesFor returns the rule set for an operator. Unknown operators get the
// generic set.
func (r *Registry) RulesFor(operator string) []OperatorRule {
	rules, ok := r.rules[OperatorKey(operator)]
	if !ok {
		rules = r.rules[GenericOperator]
	}
	out := make([]OperatorRule, len(rules))
	copy(out, rules)
	return out
}

// Known reports whether the operator has its own rule set.
func (r *Registry) Known(operator string) bool {
	_, ok := r.rules[OperatorKey(operator)]
	return ok
}

// Evaluate returns the rules that fire on the guide for the operator.
func (r *Registry) Evaluate(g Guide, operator string) []OperatorRule {
	var fired []OperatorRule
	for _, rule := range r.RulesFor(operator) {
		if rule.Fires(g) {
			fired = append(fired, rule)
		}
	}
	return fired
}

// Operator describes one registered payer.
type Operator struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	RuleCount int    `json:"rule_count"`
}

// Operators lists registered operators sorted by key.
func (r *Registry) Operators() []Operator {
	out := make([]Operator, 0, len(r.rules))
	for key, rules := range r.rules {
		out = append(out, Operator{Key: key, Name: r.names[key], RuleCount: len(rules)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// OperatorKey normalizes an operator name: accents removed, lower case,
// runs of anything other than letters and digits collapsed to "-".
// "SulAmérica Saúde" and "sulamerica saude" share the key "sulamerica-saude".
func OperatorKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
