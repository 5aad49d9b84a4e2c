package identity

import (
	"go.uber.org/fx"

	"github.com/hireloop/hireloop/internal/identity/service"
)

var Module = fx.Module("identity",
	fx.Provide(service.NewService),
)
