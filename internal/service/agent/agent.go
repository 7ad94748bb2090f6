// Package agent defines the reasoning collaborator a chat turn is handed to,
// along with the adapters the server can be configured with.
package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/zhouzirui/agentchat/backend/internal/config"
)

// Factory produces one Instance per chat turn.
type Factory interface {
	Create(ctx context.Context) (Instance, error)
}

// Instance runs a single prompt. Cleanup is called exactly once after Run,
// whether or not Run succeeded.
type Instance interface {
	Run(ctx context.Context, prompt string) (string, error)
	Cleanup(ctx context.Context) error
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Instance, error)

// Create calls f.
func (f FactoryFunc) Create(ctx context.Context) (Instance, error) {
	return f(ctx)
}

// FromConfig builds the factory named by cfg.Agent.Provider.
func FromConfig(ctx context.Context, cfg *config.Config) (Factory, error) {
	switch cfg.Agent.Provider {
	case "ark":
		return NewArkFactory(ctx, cfg.AI)
	case "anthropic":
		return NewAnthropicFactory(cfg.Agent)
	case "echo":
		log.Printf("[agent] using echo agent")
		return EchoFactory{}, nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Agent.Provider)
	}
}
