package agent

import "context"

// EchoFactory answers every prompt with the prompt itself. It keeps the
// server usable without model credentials.
type EchoFactory struct{}

func (EchoFactory) Create(context.Context) (Instance, error) {
	return echoInstance{}, nil
}

type echoInstance struct{}

func (echoInstance) Run(_ context.Context, prompt string) (string, error) {
	return prompt, nil
}

func (echoInstance) Cleanup(context.Context) error { return nil }
