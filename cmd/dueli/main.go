package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Maelsh/dueli/internal/httpapi"
	"github.com/Maelsh/dueli/pkg/config"
	"github.com/Maelsh/dueli/pkg/db"
	"github.com/Maelsh/dueli/pkg/gen"
	"github.com/Maelsh/dueli/pkg/health"
	"github.com/Maelsh/dueli/pkg/logger"
	"github.com/Maelsh/dueli/pkg/otelcol"
	"github.com/Maelsh/dueli/pkg/redis"
	"github.com/Maelsh/dueli/pkg/sequence"
	"github.com/Maelsh/dueli/pkg/server"
	"github.com/Maelsh/dueli/pkg/task"
	"github.com/Maelsh/dueli/services/ads"
	"github.com/Maelsh/dueli/services/challenge"
	"github.com/Maelsh/dueli/services/comment"
	"github.com/Maelsh/dueli/services/rating"
	"github.com/Maelsh/dueli/services/revenue"
	"github.com/Maelsh/dueli/services/room"
	"github.com/Maelsh/dueli/services/streaming"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		gen.Module,
		health.Module,
		otelcol.Module,
		room.Module,
		streaming.Module,
		challenge.Module,
		rating.Module,
		revenue.Module,
		ads.Module,
		comment.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
