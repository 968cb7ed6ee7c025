package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/payq/internal/engine"
)

// Local synthesizes answers through the local inference engine. It is the
// fallback used when no remote synthesis API key is configured.
type Local struct {
	engine engine.Engine
	model  string
}

// NewLocal creates a Local synthesizer using the given engine and chat model.
func NewLocal(e engine.Engine, model string) *Local {
	return &Local{engine: e, model: model}
}

func (l *Local) Synthesize(ctx context.Context, prompt string) (string, error) {
	answer, err := l.engine.Chat(ctx, l.model, []engine.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("local synthesis: %w", err)
	}
	return strings.TrimSpace(answer), nil
}
