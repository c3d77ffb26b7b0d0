// Package model holds the remote vision-model providers. Each provider
// implements extraction.Model: it transmits one assembled request and returns
// the raw response text, leaving parsing and validation to the pipeline.
package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/facturabot/facturabot/internal/extraction"
)

// AzureConfig configures the Azure OpenAI provider.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string // defaults to 2024-08-01-preview
	Deployment string // defaults to gpt-4o
}

// Azure calls an Azure OpenAI chat-completions deployment with vision input.
type Azure struct {
	cfg    AzureConfig
	client *http.Client
}

// NewAzure creates an Azure OpenAI provider. Request deadlines come from the
// caller's context, so the HTTP client carries no timeout of its own.
func NewAzure(cfg AzureConfig) (*Azure, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure api key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-08-01-preview"
	}
	if cfg.Deployment == "" {
		cfg.Deployment = "gpt-4o"
	}
	return &Azure{cfg: cfg, client: &http.Client{}}, nil
}

type azureContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *azureImageURL `json:"image_url,omitempty"`
}

type azureImageURL struct {
	URL string `json:"url"`
}

type azureMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type azureChatRequest struct {
	Messages       []azureMessage `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
}

type azureChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the instruction, hint and page images as one chat-completions
// call with JSON-object response format.
func (a *Azure) Extract(ctx context.Context, req *extraction.Request) (string, error) {
	blocks := make([]azureContentBlock, 0, len(req.Pages)+1)
	if req.Hint != "" {
		blocks = append(blocks, azureContentBlock{Type: "text", Text: req.Hint})
	}
	for _, page := range req.Pages {
		blocks = append(blocks, azureContentBlock{
			Type:     "image_url",
			ImageURL: &azureImageURL{URL: dataURL(page.Data, page.MIMEType)},
		})
	}

	body := azureChatRequest{
		Temperature:    0,
		ResponseFormat: map[string]any{"type": "json_object"},
		Messages: []azureMessage{
			{Role: "system", Content: req.Instruction},
			{Role: "user", Content: blocks},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(a.cfg.Endpoint, "/"), a.cfg.Deployment, a.cfg.APIVersion)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling azure openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("azure openai error (status %d): %s", resp.StatusCode, string(msg))
	}

	var chat azureChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("no choices in azure openai response")
	}

	return chat.Choices[0].Message.Content, nil
}

// Close closes the Azure client (no-op for HTTP client).
func (a *Azure) Close() error { return nil }

func dataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
