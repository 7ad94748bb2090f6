package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zhouzirui/agentchat/backend/internal/config"
)

const defaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest

// AnthropicFactory sends each prompt as a single user message to the
// Messages API.
type AnthropicFactory struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicFactory builds a client from cfg. Without an explicit key the
// SDK falls back to ANTHROPIC_API_KEY.
func NewAnthropicFactory(cfg config.AgentConfig, opts ...option.RequestOption) (*AnthropicFactory, error) {
	if cfg.AnthropicAPIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.AnthropicAPIKey))
	}
	client := anthropic.NewClient(opts...)

	model := anthropic.Model(cfg.AnthropicModel)
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	log.Printf("[agent] using anthropic model=%s", model)
	return &AnthropicFactory{client: &client, model: model, maxTokens: maxTokens}, nil
}

func (f *AnthropicFactory) Create(context.Context) (Instance, error) {
	return &anthropicInstance{factory: f}, nil
}

type anthropicInstance struct {
	factory *AnthropicFactory
}

func (i *anthropicInstance) Run(ctx context.Context, prompt string) (string, error) {
	msg, err := i.factory.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     i.factory.model,
		MaxTokens: i.factory.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (i *anthropicInstance) Cleanup(context.Context) error { return nil }
