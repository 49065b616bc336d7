package completion

import (
	"context"

	"github.com/harun/pagerelay/internal/config"
	"github.com/harun/pagerelay/pkg/session"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements Client for the OpenAI chat completions API
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg config.CompletionConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() string {
	return ProviderOpenAI
}

// Complete makes an API call to OpenAI
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, turn := range req.History {
		switch turn.Role {
		case session.RoleModel:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(req.maxTokens())),
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", remoteErr(ProviderOpenAI, err)
	}

	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", ErrNoContent
	}
	return response.Choices[0].Message.Content, nil
}
