package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/vitrinelabs/vitrine/pkg/masking"
	"go.uber.org/zap"
)

// ProviderConfig carries the per-gateway credentials used to verify and, for
// MercadoPago, confirm inbound webhooks.
type ProviderConfig struct {
	Asaas       AsaasConfig       `mapstructure:"asaas"`
	Inter       InterConfig       `mapstructure:"inter"`
	MercadoPago MercadoPagoConfig `mapstructure:"mercadopago"`
	Stripe      StripeConfig      `mapstructure:"stripe"`
}

type AsaasConfig struct {
	WebhookToken string `mapstructure:"webhookToken"`
}

type InterConfig struct {
	WebhookToken string `mapstructure:"webhookToken"`
}

type MercadoPagoConfig struct {
	AccessToken string `mapstructure:"accessToken"`
	APIBaseURL  string `mapstructure:"apiBaseUrl"`
}

type StripeConfig struct {
	WebhookSecret string `mapstructure:"webhookSecret"`
}

// ProviderConfigHolder serves the current provider credentials and hot-reloads
// them when providers.yml changes on disk.
type ProviderConfigHolder struct {
	current atomic.Value // holds ProviderConfig
}

// NewProviderConfigHolder reads providers.yml and watches it for changes.
// A missing file yields an empty config: adapters without credentials skip
// verification or refuse events depending on their contract.
func NewProviderConfigHolder(cfg Config, log *zap.Logger) (*ProviderConfigHolder, error) {
	log = log.Named("provider-config")
	v := viper.New()

	v.SetConfigName("providers")
	v.SetConfigType("yml")
	if cfg.ProviderConfigPath != "" {
		v.AddConfigPath(cfg.ProviderConfigPath)
	}
	v.AddConfigPath("/etc/vitrine")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VITRINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var parsed ProviderConfig
	if err := v.UnmarshalKey("providers", &parsed); err != nil {
		return nil, err
	}

	holder := &ProviderConfigHolder{}
	holder.current.Store(parsed)
	log.Info("provider config loaded", zap.String("credentials", parsed.maskedSummary()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ProviderConfig
		if err := v.UnmarshalKey("providers", &updated); err != nil {
			log.Warn("provider config reload failed", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("provider config reloaded",
			zap.String("file", e.Name),
			zap.String("credentials", updated.maskedSummary()),
		)
	})

	return holder, nil
}

// NewStaticProviderConfigHolder wraps a fixed ProviderConfig that never
// reloads.
func NewStaticProviderConfigHolder(parsed ProviderConfig) *ProviderConfigHolder {
	holder := &ProviderConfigHolder{}
	holder.current.Store(parsed)
	return holder
}

func (h *ProviderConfigHolder) Get() ProviderConfig {
	return h.current.Load().(ProviderConfig)
}

// maskedSummary describes the configured credentials without exposing them.
func (c ProviderConfig) maskedSummary() string {
	return strings.Join([]string{
		"asaas=" + masking.MaskSecret(c.Asaas.WebhookToken),
		"inter=" + masking.MaskSecret(c.Inter.WebhookToken),
		"mercadopago=" + masking.MaskSecret(c.MercadoPago.AccessToken),
		"stripe=" + masking.MaskSecret(c.Stripe.WebhookSecret),
	}, " ")
}

// AdapterSettings flattens the typed credentials into the key/value form the
// adapter factories consume.
func (c ProviderConfig) AdapterSettings(provider string) map[string]any {
	switch provider {
	case "asaas":
		return map[string]any{"webhook_token": c.Asaas.WebhookToken}
	case "inter":
		return map[string]any{"webhook_token": c.Inter.WebhookToken}
	case "mercadopago":
		return map[string]any{
			"access_token": c.MercadoPago.AccessToken,
			"api_base_url": c.MercadoPago.APIBaseURL,
		}
	case "stripe":
		return map[string]any{"webhook_secret": c.Stripe.WebhookSecret}
	default:
		return map[string]any{}
	}
}
