package challenge

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maelsh/dueli/pkg/db/option"
	"github.com/Maelsh/dueli/pkg/repository"
	"github.com/Maelsh/dueli/pkg/task"
	"github.com/Maelsh/dueli/pkg/taskname"
)

// staleAfter is how long a scheduled challenge may sit past its scheduled
// time before the sweeper cancels it.
const staleAfter = 24 * time.Hour

type Task struct {
	db    *gorm.DB
	asynq task.Enqueuer
	repo  repository.Repository[Challenge]
}

type TaskParams struct {
	fx.In
	DB    *gorm.DB
	Asynq task.Enqueuer
}

func NewTask(p TaskParams) *Task {
	return &Task{
		db:    p.DB,
		asynq: p.Asynq,
		repo:  repository.ProvideStore[Challenge](p.DB),
	}
}

// HandleSweepStale cancels scheduled challenges whose scheduled time passed
// more than staleAfter ago without anyone starting them.
func (t *Task) HandleSweepStale(ctx context.Context, _ *asynq.Task) error {
	zapLog := zap.L().With(zap.String("task_type", taskname.ChallengeSweepStale))

	cutoff := time.Now().UTC().Add(-staleAfter)
	stale, err := t.repo.Find(ctx, &Challenge{Status: StatusScheduled},
		option.ApplyOperator(option.Condition{Field: "scheduled_time", Operator: option.LT, Value: cutoff}),
	)
	if err != nil {
		zapLog.Error("failed to query stale challenges", zap.Error(err))
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	swept := 0
	for _, ch := range stale {
		err := t.db.Transaction(func(tx *gorm.DB) error {
			tx = tx.Scopes(option.LockingUpdate)

			cur, err := t.repo.WithTrx(tx).FindOne(ctx, &Challenge{ID: ch.ID})
			if err != nil {
				return err
			}
			// someone may have started or cancelled it since the query
			if cur == nil || cur.Status != StatusScheduled {
				return nil
			}
			return t.repo.WithTrx(tx).Update(ctx, cur.ID, map[string]any{
				"status": StatusCancelled,
			})
		})
		if err != nil {
			zapLog.Error("failed to cancel stale challenge",
				zap.String("challenge_id", ch.ID), zap.Error(err))
			continue
		}
		swept++
	}

	zapLog.Info("stale challenge sweep finished",
		zap.Int("candidates", len(stale)),
		zap.Int("cancelled", swept),
	)
	return nil
}

type Scheduler struct {
	task *Task
}

func NewScheduler(t *Task) *Scheduler {
	return &Scheduler{task: t}
}

// StartScheduler runs the daily sweep loop for the worker process.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(ctx)
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started stale challenge sweeper")

	for {
		now := time.Now()
		next := nextRunTime(now, 3, 0)

		select {
		case <-time.After(next.Sub(now)):
			s.enqueueSweep()
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueueSweep() {
	if _, err := s.task.asynq.Enqueue(asynq.NewTask(taskname.ChallengeSweepStale, nil)); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue stale sweep", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] enqueued stale challenge sweep")
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
