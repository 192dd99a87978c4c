package ads

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ExpireLeftoverPayload struct {
	ChallengeID string `json:"challenge_id"`
}

type Task struct {
	db *gorm.DB
}

type TaskParams struct {
	fx.In
	DB *gorm.DB
}

func NewTask(p TaskParams) *Task {
	return &Task{db: p.DB}
}

// HandleExpireLeftover expires the bindings a finished challenge never aired.
// Enqueued after the completed status commits; expired bindings never touch
// revenue since only displayed ones count.
func (t *Task) HandleExpireLeftover(ctx context.Context, at *asynq.Task) error {
	var payload ExpireLeftoverPayload
	if err := json.Unmarshal(at.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", at.Type()),
		zap.String("challenge_id", payload.ChallengeID),
	)

	res := t.db.WithContext(ctx).
		Model(&Binding{}).
		Where("challenge_id = ? AND status IN ?", payload.ChallengeID, []BindingStatus{StatusPending, StatusAssigned}).
		Update("status", StatusExpired)
	if res.Error != nil {
		zapLog.Error("failed to expire leftover bindings", zap.Error(res.Error))
		return res.Error
	}

	zapLog.Info("expired leftover bindings", zap.Int64("count", res.RowsAffected))
	return nil
}
