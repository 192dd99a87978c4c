package ads

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"github.com/Maelsh/dueli/pkg/taskname"
)

var Module = fx.Module("ads.service",
	fx.Provide(NewService),
)

// Worker registers the leftover-binding expiry handler.
var Worker = fx.Module("ads.worker",
	fx.Provide(NewTask),
	fx.Invoke(registerTaskHandlers),
)

func registerTaskHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.AdsExpireLeftover, t.HandleExpireLeftover)
}
