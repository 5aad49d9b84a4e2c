package audit

import (
	"go.uber.org/fx"

	"github.com/hireloop/hireloop/internal/audit/service"
)

var Module = fx.Module("audit",
	fx.Provide(service.NewService),
)
