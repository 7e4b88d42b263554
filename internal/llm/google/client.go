// Package google adapts the Gemini API (google.golang.org/genai) to
// llm.Provider.
package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"singularity-rmk/internal/llm"
)

// Client wraps the genai SDK for single-turn, non-streaming calls.
type Client struct {
	client *genai.Client
	model  string
}

// New builds a Client. apiKey/model follow config.LLMConfig.
func New(ctx context.Context, apiKey, model string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	if model == "" {
		model = c.model
	}
	var contents []*genai.Content
	var systemInstruction *genai.Content
	for _, m := range msgs {
		part := genai.NewPartFromText(m.Content)
		switch m.Role {
		case "system":
			systemInstruction = genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != nil {
		cfg.SystemInstruction = systemInstruction
	}
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("google chat: %w", err)
	}
	return resp.Text(), nil
}
