package billing

import (
	"github.com/vitrinelabs/vitrine/internal/billing/repository"
	"github.com/vitrinelabs/vitrine/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
