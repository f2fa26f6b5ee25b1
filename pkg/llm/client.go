package llm

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wfmeta/workflow-agent/pkg/errors"
	"github.com/wfmeta/workflow-agent/pkg/logging"
)

// Client is the narrow completion interface the composer consumes
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ClientConfig holds completion backend configuration
type ClientConfig struct {
	APIKey    string        `json:"api_key"`
	Endpoint  string        `json:"endpoint"` // Azure OpenAI base URL; empty for api.openai.com
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Timeout   time.Duration `json:"timeout"`
}

// OpenAIClient implements Client over the OpenAI (or Azure OpenAI) chat
// completion API
type OpenAIClient struct {
	client *openai.Client
	config *ClientConfig
	logger *logging.StructuredLogger
	eb     *errors.ErrorBuilder
}

// NewOpenAIClient creates a completion client. An Endpoint switches the
// client into Azure OpenAI mode, matching hosted deployments.
func NewOpenAIClient(config *ClientConfig, logger *logging.StructuredLogger) *OpenAIClient {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	var clientConfig openai.ClientConfig
	if config.Endpoint != "" {
		clientConfig = openai.DefaultAzureConfig(config.APIKey, config.Endpoint)
	} else {
		clientConfig = openai.DefaultConfig(config.APIKey)
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger.WithComponent("llm-client"),
		eb:     errors.NewErrorBuilder("llm-client", "complete"),
	}
}

// Complete issues one chat completion request under the configured timeout
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.config.Model,
		MaxTokens: c.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", c.eb.TimeoutError("llm", c.config.Timeout).WithCause(err)
		}
		return "", c.eb.DependencyError("llm", "completion request failed").WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return "", c.eb.DependencyError("llm", "completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
