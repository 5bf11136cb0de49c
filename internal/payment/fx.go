package payment

import (
	"github.com/vitrinelabs/vitrine/internal/payment/adapters"
	"github.com/vitrinelabs/vitrine/internal/payment/repository"
	"github.com/vitrinelabs/vitrine/internal/payment/service"
	"github.com/vitrinelabs/vitrine/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	adapters.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
