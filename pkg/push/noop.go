package push

import (
	"context"
	"log/slog"
)

// NoopProvider accepts every token without sending anything. Selected at
// startup when push delivery is disabled.
type NoopProvider struct {
	logger *slog.Logger
}

func NewNoopProvider(logger *slog.Logger) *NoopProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopProvider{logger: logger}
}

func (p *NoopProvider) Send(ctx context.Context, tokens []string, msg Message) ([]TokenResult, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}

	p.logger.LogAttrs(ctx, slog.LevelDebug, "push disabled, message dropped",
		slog.Int("tokens", len(tokens)),
		slog.String("title", msg.Title),
	)

	results := make([]TokenResult, len(tokens))
	for i, t := range tokens {
		results[i] = TokenResult{Token: t}
	}
	return results, nil
}
