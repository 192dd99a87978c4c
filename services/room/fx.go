package room

import "go.uber.org/fx"

var Module = fx.Module("room.registry",
	fx.Provide(
		NewRegistry,
		func(r *Registry) Broadcaster { return r },
	),
)
