// Package gemini adapts the Google GenAI SDK to the model capabilities the
// pipeline consumes: JSON categorization, page transcription and token counting.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash-lite"

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// Config holds the client settings.
type Config struct {
	APIKey      string
	Model       string
	VisionModel string
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string
}

// Client wraps a genai.Client. It is safe for concurrent use.
type Client struct {
	client      *genai.Client
	model       string
	visionModel string
}

// NewClient creates a Gemini API client. An empty APIKey lets the SDK read
// GOOGLE_API_KEY / GEMINI_API_KEY itself.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}
	vision := cfg.VisionModel
	if vision == "" {
		vision = model
	}
	return &Client{client: client, model: model, visionModel: vision}, nil
}

// Model returns the categorization model name.
func (c *Client) Model() string { return c.model }

// GenerateJSON sends userPrompt under systemPrompt and asks for a JSON
// response. The raw text is returned; callers still strip code fences since
// the model does not always honor the MIME type.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	temperature := float32(0)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
	}
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: userPrompt}},
		},
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("GenerateJSON: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GenerateJSON: %w", ErrEmptyResponse)
	}
	return text, nil
}

// Transcribe sends one or more PNG page images with an instruction and
// returns the plain-text transcription.
func (c *Client) Transcribe(ctx context.Context, images [][]byte, instruction string) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, &genai.Part{Text: instruction})
	for _, img := range images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "image/png",
				Data:     img,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := c.client.Models.GenerateContent(ctx, c.visionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Transcribe: generate content: %w", err)
	}
	return resp.Text(), nil
}

// CountTokens reports how many input tokens data would cost. PDFs and images
// are sent inline; anything else is counted as text.
func (c *Client) CountTokens(ctx context.Context, data []byte, mimeType string) (int32, error) {
	var part *genai.Part
	switch mimeType {
	case "application/pdf", "image/png", "image/jpeg":
		part = &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}
	default:
		part = &genai.Part{Text: string(data)}
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{part}}}

	resp, err := c.client.Models.CountTokens(ctx, c.model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("CountTokens: count tokens: %w", err)
	}
	return resp.TotalTokens, nil
}
