package usage

import (
	"context"
	"time"

	"github.com/wordcheck/points-engine/points"
)

// DefaultTimeout bounds one completion call when a model sets none.
const DefaultTimeout = 60 * time.Second

// Model is one AI model users can pay to run a check with.
type Model struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Provider string         `json:"provider"`
	Timeout  time.Duration  `json:"timeout"`
	Pricing  points.Pricing `json:"pricing"`
}

// Prompt is what the completer sends upstream.
type Prompt struct {
	Provider  string
	Model     string
	CheckType string
	Content   string
}

// Completer calls an AI provider. Implementations must honor ctx cancellation.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, p Prompt) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// ProviderRouter dispatches prompts by Prompt.Provider.
type ProviderRouter map[string]Completer

func (r ProviderRouter) Complete(ctx context.Context, p Prompt) (string, error) {
	c, ok := r[p.Provider]
	if !ok {
		return "", &ProviderError{Provider: p.Provider, Message: "no completer configured"}
	}
	return c.Complete(ctx, p)
}
