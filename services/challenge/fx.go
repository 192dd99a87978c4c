package challenge

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"github.com/Maelsh/dueli/pkg/taskname"
)

var Module = fx.Module("challenge.service",
	fx.Provide(NewService),
)

// Worker registers the background sweep handler and its daily scheduler.
var Worker = fx.Module("challenge.worker",
	fx.Provide(NewTask, NewScheduler),
	fx.Invoke(registerTaskHandlers, StartScheduler),
)

func registerTaskHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.ChallengeSweepStale, t.HandleSweepStale)
}
