package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/facturabot/facturabot/internal/extraction"
)

// Gemini calls the Google Gemini API with vision input.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini provider.
func NewGemini(apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	return &Gemini{client: client, model: model}, nil
}

// Extract sends all page images in order followed by the instruction text.
func (g *Gemini) Extract(ctx context.Context, req *extraction.Request) (string, error) {
	parts := make([]genai.Part, 0, len(req.Pages)+1)
	for _, page := range req.Pages {
		// genai.ImageData expects the format suffix, not the full MIME type.
		parts = append(parts, genai.ImageData("jpeg", page.Data))
	}
	prompt := req.Instruction
	if req.Hint != "" {
		prompt += "\n\nUser hints:\n" + req.Hint
	}
	parts = append(parts, genai.Text(prompt))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return out.String(), nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error { return g.client.Close() }
