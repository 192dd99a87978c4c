package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Maelsh/dueli/pkg/config"
	"github.com/Maelsh/dueli/pkg/db"
	"github.com/Maelsh/dueli/pkg/logger"
	"github.com/Maelsh/dueli/pkg/redis"
	"github.com/Maelsh/dueli/pkg/task"
	"github.com/Maelsh/dueli/services/ads"
	"github.com/Maelsh/dueli/services/challenge"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		challenge.Worker,
		ads.Worker,
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
