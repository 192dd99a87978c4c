package revenue

import (
	"go.uber.org/fx"

	"github.com/Maelsh/dueli/services/challenge"
)

var Module = fx.Module("revenue.distributor",
	fx.Provide(
		NewDistributor,
		func(d *Distributor) challenge.RevenueDistributor { return d },
	),
)
