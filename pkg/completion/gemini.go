package completion

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/harun/pagerelay/internal/config"
	"github.com/harun/pagerelay/pkg/session"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash-lite"

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client. cfg.BaseURL overrides the API
// endpoint.
func NewGeminiClient(cfg config.CompletionConfig) (*GeminiClient, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Provider() string {
	return ProviderGemini
}

func (c *GeminiClient) Model() string {
	return c.model
}

// Complete makes a single generateContent call.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(min(req.maxTokens(), math.MaxInt32)),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, geminiContents(req.History), config)
	if err != nil {
		return "", remoteErr(ProviderGemini, err)
	}

	text := geminiText(resp)
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

func geminiContents(history []session.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := genai.RoleUser
		if turn.Role == session.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Text}},
		})
	}
	return contents
}

// geminiText joins the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
