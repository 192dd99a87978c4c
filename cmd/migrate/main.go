package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/config"
	"github.com/Maelsh/dueli/pkg/db"
	"github.com/Maelsh/dueli/pkg/logger"
	"github.com/Maelsh/dueli/services/ads"
	"github.com/Maelsh/dueli/services/challenge"
	"github.com/Maelsh/dueli/services/comment"
	"github.com/Maelsh/dueli/services/rating"
	"github.com/Maelsh/dueli/services/revenue"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func migrate(lc fx.Lifecycle, sh fx.Shutdowner, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gdb.AutoMigrate(
				&challenge.Challenge{},
				&rating.Rating{},
				&ads.Binding{},
				&revenue.Transaction{},
				&comment.Comment{},
			); err != nil {
				zap.L().Error("migration failed", zap.Error(err))
				return err
			}
			zap.L().Info("migration complete")
			return sh.Shutdown()
		},
	})
}
