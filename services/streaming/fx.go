package streaming

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/config"
)

var Module = fx.Module("streaming.provider",
	fx.Provide(provideProvider),
)

func provideProvider(cfg *config.Config) Provider {
	if cfg.Streaming.Addr == "" {
		zap.L().Warn("no streaming provider configured, using stub sessions")
		return &StubProvider{}
	}
	return NewClient(ClientConfig{
		Addr:       cfg.Streaming.Addr,
		Timeout:    cfg.Streaming.Timeout,
		MaxRetries: cfg.Streaming.MaxRetries,
	})
}
