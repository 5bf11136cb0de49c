package audit

import (
	"github.com/vitrinelabs/vitrine/internal/audit/repository"
	"github.com/vitrinelabs/vitrine/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
