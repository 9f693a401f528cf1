package tiss

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"gopkg.in/yaml.v3"
)

// RuleFile is the on-disk form of extra operator rules:
//
//	operators:
//	  - name: Porto Seguro
//	    rules:
//	      - code: FEE_TABLE_EXCEEDED
//	        severity: high
//	        glosa_code: "1705"
//	        description: consultation above fee table
//	        when: digits(guide.procedure_code) == "10101012" && guide.total_value > 160
//
// The when expression is CEL over the guide map. has(guide.field) guards
// optional fields; an expression that errors at runtime does not fire.
type RuleFile struct {
	Operators []RuleFileOperator `yaml:"operators"`
}

type RuleFileOperator struct {
	Name  string         `yaml:"name"`
	Rules []RuleFileRule `yaml:"rules"`
}

type RuleFileRule struct {
	Code         string `yaml:"code"`
	Description  string `yaml:"description"`
	Severity     string `yaml:"severity"`
	GlosaCode    string `yaml:"glosa_code"`
	SuggestedFix string `yaml:"suggested_fix"`
	When         string `yaml:"when"`
}

// LoadRuleFile reads and compiles a YAML rule file.
func LoadRuleFile(path string) ([]RegistryOption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	opts, err := CompileRuleFile(data)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return opts, nil
}

// CompileRuleFile parses YAML rules and compiles every expression. Any
// invalid rule fails the whole file.
func CompileRuleFile(data []byte) ([]RegistryOption, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	env, err := newRuleEnv()
	if err != nil {
		return nil, err
	}

	opts := make([]RegistryOption, 0, len(file.Operators))
	for i, op := range file.Operators {
		if OperatorKey(op.Name) == "" {
			return nil, fmt.Errorf("operator %d: name is required", i+1)
		}
		rules := make([]OperatorRule, 0, len(op.Rules))
		for _, r := range op.Rules {
			rule, err := compileRule(env, r)
			if err != nil {
				return nil, fmt.Errorf("operator %s: %w", op.Name, err)
			}
			rules = append(rules, rule)
		}
		opts = append(opts, WithOperatorRules(op.Name, rules...))
	}
	return opts, nil
}

func newRuleEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("guide", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		cel.Function("digits",
			cel.Overload("digits_string", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					s, ok := v.(types.String)
					if !ok {
						return types.NewErr("digits: expected string, got %s", v.Type())
					}
					return types.String(digitsOnly(string(s)))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return env, nil
}

func compileRule(env *cel.Env, r RuleFileRule) (OperatorRule, error) {
	code := strings.TrimSpace(r.Code)
	if code == "" {
		return OperatorRule{}, fmt.Errorf("rule code is required")
	}
	severity, ok := ParseRuleSeverity(r.Severity)
	if !ok {
		return OperatorRule{}, fmt.Errorf("rule %s: unknown severity %q", code, r.Severity)
	}
	if strings.TrimSpace(r.When) == "" {
		return OperatorRule{}, fmt.Errorf("rule %s: when expression is required", code)
	}

	ast, issues := env.Compile(r.When)
	if issues != nil && issues.Err() != nil {
		return OperatorRule{}, fmt.Errorf("rule %s: compile: %w", code, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return OperatorRule{}, fmt.Errorf("rule %s: expression must return bool, got %s", code, ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return OperatorRule{}, fmt.Errorf("rule %s: program: %w", code, err)
	}

	return OperatorRule{
		Code:         code,
		Description:  r.Description,
		Severity:     severity,
		GlosaCode:    r.GlosaCode,
		SuggestedFix: r.SuggestedFix,
		Predicate: func(g Guide) bool {
			out, _, err := prg.Eval(map[string]any{"guide": map[string]any(g)})
			if err != nil {
				return false
			}
			fired, ok := out.Value().(bool)
			return ok && fired
		},
	}, nil
}
