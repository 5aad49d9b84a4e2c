package metering

import "go.uber.org/fx"

var Module = fx.Module("metering",
	fx.Provide(NewService),
)
