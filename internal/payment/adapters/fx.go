package adapters

import (
	"github.com/vitrinelabs/vitrine/internal/payment/adapters/asaas"
	"github.com/vitrinelabs/vitrine/internal/payment/adapters/efi"
	"github.com/vitrinelabs/vitrine/internal/payment/adapters/inter"
	"github.com/vitrinelabs/vitrine/internal/payment/adapters/mercadopago"
	"github.com/vitrinelabs/vitrine/internal/payment/adapters/pagbank"
	"github.com/vitrinelabs/vitrine/internal/payment/adapters/stripe"
	"github.com/vitrinelabs/vitrine/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.adapters",
	fx.Provide(provideRegistry),
)

func provideRegistry() *Registry {
	return NewRegistry(
		[]domain.AdapterFactory{
			asaas.NewFactory(),
			efi.NewFactory(),
			mercadopago.NewFactory(),
			pagbank.NewFactory(),
			inter.NewFactory(),
			stripe.NewFactory(),
		}...,
	)
}
