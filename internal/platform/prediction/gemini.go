// Package prediction adapts an external language model to the engine's
// Predictor contract.
package prediction

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/clinicflow/tiss/internal/tiss"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// generator is the one model call the predictor needs.
type generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.1),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// GeminiPredictor implements tiss.Predictor on Google's Gemini API.
type GeminiPredictor struct {
	gen    generator
	logger zerolog.Logger
}

// NewGeminiPredictor creates a predictor. An empty API key is an error;
// callers run without augmentation in that case.
func NewGeminiPredictor(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*GeminiPredictor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newPredictor(&genaiGenerator{client: client, model: model}, logger), nil
}

func newPredictor(gen generator, logger zerolog.Logger) *GeminiPredictor {
	return &GeminiPredictor{
		gen:    gen,
		logger: logger.With().Str("component", "gemini_predictor").Logger(),
	}
}

// Predict asks the model for rejection risks the rules did not cover. A
// response that cannot be parsed yields no predictions and no error.
func (p *GeminiPredictor) Predict(ctx context.Context, g tiss.Guide, operator string, existing []tiss.GlosaPrediction) ([]tiss.GlosaPrediction, error) {
	prompt, err := BuildPrompt(g, operator, existing)
	if err != nil {
		return nil, err
	}
	text, err := p.gen.Generate(ctx, systemInstruction, prompt)
	if err != nil {
		return nil, err
	}
	preds, err := ParseResponse(text, existing)
	if err != nil {
		p.logger.Warn().Err(err).Str("operator", operator).Msg("discarding unusable prediction response")
		return nil, nil
	}
	return preds, nil
}

var _ tiss.Predictor = (*GeminiPredictor)(nil)
