package prediction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clinicflow/tiss/internal/tiss"
)

const responseSchemaURL = "https://tiss.schemas.local/prediction/response.schema.json"

const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["issue_type", "probability"],
    "properties": {
      "issue_type": {"type": "string", "minLength": 1},
      "description": {"type": "string"},
      "glosa_code": {"type": ["string", "number", "null"]},
      "probability": {"type": "number", "minimum": 0, "maximum": 100}
    }
  }
}`

var compiledResponseSchema = mustCompileResponseSchema()

func mustCompileResponseSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, strings.NewReader(responseSchema)); err != nil {
		panic(fmt.Sprintf("prediction: load response schema: %v", err))
	}
	s, err := c.Compile(responseSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("prediction: compile response schema: %v", err))
	}
	return s
}

// ErrEmptyResponse is returned when the model answered with nothing.
var ErrEmptyResponse = errors.New("empty prediction response")

type rawPrediction struct {
	IssueType   string  `json:"issue_type"`
	Description string  `json:"description"`
	GlosaCode   any     `json:"glosa_code"`
	Probability float64 `json:"probability"`
}

// ParseResponse turns the model's text into predictions. Probabilities are
// converted from 0-100 to 0-1. Entries repeating an issue type already in
// existing, or earlier in the response, are dropped.
func ParseResponse(text string, existing []tiss.GlosaPrediction) ([]tiss.GlosaPrediction, error) {
	body := stripFences(text)
	if body == "" {
		return nil, ErrEmptyResponse
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := compiledResponseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("response does not match schema: %w", err)
	}

	var raws []rawPrediction
	if err := json.Unmarshal([]byte(body), &raws); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}

	seen := make(map[string]bool, len(existing)+len(raws))
	for _, p := range existing {
		seen[normalizeIssue(p.IssueType)] = true
	}
	out := make([]tiss.GlosaPrediction, 0, len(raws))
	for _, r := range raws {
		key := normalizeIssue(r.IssueType)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tiss.GlosaPrediction{
			IssueType:   strings.TrimSpace(r.IssueType),
			Description: strings.TrimSpace(r.Description),
			GlosaCode:   glosaCodeString(r.GlosaCode),
			Probability: r.Probability / 100,
			Source:      tiss.SourceAugmentor,
		})
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func normalizeIssue(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func glosaCodeString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
