package prediction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinicflow/tiss/internal/tiss"
)

type fakeGenerator struct {
	text   string
	err    error
	system string
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	f.system = system
	f.prompt = prompt
	return f.text, f.err
}

func sampleGuide() tiss.Guide {
	return tiss.Guide{
		"procedure_code": "10101012",
		"cid_code":       "J06.9",
		"total_value":    150.0,
		"card_number":    "00641234567890123",
	}
}

func TestBuildPrompt(t *testing.T) {
	existing := []tiss.GlosaPrediction{{IssueType: "FEE_TABLE_EXCEEDED", GlosaCode: "1705", Probability: 0.75, Description: "above ceiling"}}
	prompt, err := BuildPrompt(sampleGuide(), " Unimed ", existing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Operator: Unimed", `"procedure_code": "10101012"`, "FEE_TABLE_EXCEEDED (glosa 1705, 75%)", "do not repeat"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	// Keys are sorted.
	if strings.Index(prompt, "card_number") > strings.Index(prompt, "total_value") {
		t.Error("expected guide keys in sorted order")
	}

	again, _ := BuildPrompt(sampleGuide(), " Unimed ", existing)
	if again != prompt {
		t.Error("expected identical prompts for identical input")
	}
}

func TestParseResponse(t *testing.T) {
	text := "```json\n" + `[
		{"issue_type": "DUPLICATE_BILLING", "description": "billed twice", "glosa_code": "1899", "probability": 80},
		{"issue_type": "fee_table_exceeded", "description": "dup of existing", "glosa_code": 1705, "probability": 90},
		{"issue_type": "DUPLICATE_BILLING", "description": "dup in response", "probability": 10},
		{"issue_type": "MISSING_REPORT", "glosa_code": 1801, "probability": 35.5}
	]` + "\n```"
	existing := []tiss.GlosaPrediction{{IssueType: "FEE_TABLE_EXCEEDED"}}

	got, err := ParseResponse(text, existing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 predictions, got %d: %+v", len(got), got)
	}
	if got[0].IssueType != "DUPLICATE_BILLING" || got[0].Probability != 0.8 || got[0].GlosaCode != "1899" {
		t.Errorf("unexpected first prediction: %+v", got[0])
	}
	if got[1].IssueType != "MISSING_REPORT" || got[1].Probability != 0.355 || got[1].GlosaCode != "1801" {
		t.Errorf("unexpected second prediction: %+v", got[1])
	}
	for _, p := range got {
		if p.Source != tiss.SourceAugmentor || p.AutoFixable {
			t.Errorf("unexpected source/auto-fix on %+v", p)
		}
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":             "   ",
		"empty fence":       "```json\n```",
		"not json":          "The guide looks fine to me.",
		"object":            `{"issue_type": "X", "probability": 50}`,
		"probability range": `[{"issue_type": "X", "probability": 150}]`,
		"missing type":      `[{"probability": 50}]`,
		"string prob":       `[{"issue_type": "X", "probability": "high"}]`,
		"trailing garbage":  `[] and more`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseResponse(text, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseResponse_EmptyArray(t *testing.T) {
	got, err := ParseResponse("[]", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no predictions, got %d", len(got))
	}
}

func TestGeminiPredictor_Predict(t *testing.T) {
	gen := &fakeGenerator{text: `[{"issue_type": "DUPLICATE_BILLING", "glosa_code": "1899", "probability": 60}]`}
	p := newPredictor(gen, zerolog.Nop())

	got, err := p.Predict(context.Background(), sampleGuide(), "amil", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Probability != 0.6 {
		t.Errorf("unexpected predictions: %+v", got)
	}
	if gen.system != systemInstruction {
		t.Error("expected system instruction to be sent")
	}
	if !strings.Contains(gen.prompt, "Operator: amil") {
		t.Errorf("unexpected prompt: %s", gen.prompt)
	}
}

func TestGeminiPredictor_MalformedIsNotAnError(t *testing.T) {
	p := newPredictor(&fakeGenerator{text: "sorry, I cannot help"}, zerolog.Nop())
	got, err := p.Predict(context.Background(), sampleGuide(), "amil", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil predictions, got %+v", got)
	}
}

func TestGeminiPredictor_TransportErrorPropagates(t *testing.T) {
	p := newPredictor(&fakeGenerator{err: errors.New("quota exceeded")}, zerolog.Nop())
	if _, err := p.Predict(context.Background(), sampleGuide(), "amil", nil); err == nil {
		t.Error("expected error")
	}
}

func TestNewGeminiPredictor_RequiresKey(t *testing.T) {
	if _, err := NewGeminiPredictor(context.Background(), "", "", zerolog.Nop()); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestGeminiPredictor_WithAugmentor(t *testing.T) {
	p := newPredictor(&fakeGenerator{text: "not json"}, zerolog.Nop())
	aug := tiss.NewAugmentor(p, tiss.AugmentorConfig{}, zerolog.Nop(), nil)
	a := tiss.NewAnalyzer(nil, nil, tiss.WithAugmentor(aug))
	risk := a.AnalyzeRisk(context.Background(), sampleGuide(), "amil")
	for _, issue := range risk.PredictedIssues {
		if issue.Source == tiss.SourceAugmentor {
			t.Errorf("unexpected augmentor prediction %+v", issue)
		}
	}
}
