package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/agentchat/backend/internal/config"
)

const defaultSystemPrompt = "You are a helpful assistant."

// ChainFactory runs prompts through a compiled eino chain. The chain is
// compiled once and shared; each Instance is a thin handle on it.
type ChainFactory struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	system string
}

// NewArkFactory 使用 Ark 模型构建 eino 链。
func NewArkFactory(ctx context.Context, cfg config.AIConfig) (*ChainFactory, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	log.Printf("[agent] using ark model=%s", cfg.Model)
	return NewChainFactory(ctx, chatModel, defaultSystemPrompt)
}

// NewChainFactory compiles a system + user template in front of chatModel.
func NewChainFactory(ctx context.Context, chatModel model.ChatModel, system string) (*ChainFactory, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainFactory{chain: runnable, system: system}, nil
}

func (f *ChainFactory) Create(context.Context) (Instance, error) {
	return &chainInstance{factory: f}, nil
}

type chainInstance struct {
	factory *ChainFactory
}

func (i *chainInstance) Run(ctx context.Context, prompt string) (string, error) {
	resp, err := i.factory.chain.Invoke(ctx, map[string]any{
		"system": i.factory.system,
		"query":  prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func (i *chainInstance) Cleanup(context.Context) error { return nil }
