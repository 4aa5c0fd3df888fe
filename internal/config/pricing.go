package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Per-operation overrides outside this band are ignored in favor of the
// global unit cost.
var (
	minOperationCost = decimal.RequireFromString("0.001")
	maxOperationCost = decimal.RequireFromString("0.1")
)

// PricingConfig is the hot-reloadable pricing section of pricing.yml.
type PricingConfig struct {
	UnitCost   string            `mapstructure:"unitCost"`
	FreeQuota  int               `mapstructure:"freeQuota"`
	Operations map[string]string `mapstructure:"operations"`
}

// Pricing is the resolved, validated view handed to the billing service.
type Pricing struct {
	UnitCost  decimal.Decimal
	FreeQuota int
	overrides map[string]decimal.Decimal
}

// OperationCost returns the price of one operation, honoring a per-operation
// override when one is configured and inside the sanity band.
func (p Pricing) OperationCost(operation string) decimal.Decimal {
	if cost, ok := p.overrides[strings.ToLower(strings.TrimSpace(operation))]; ok {
		return cost
	}
	return p.UnitCost
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		UnitCost:  "0.005",
		FreeQuota: 500,
	}
}

// PricingHolder exposes the current pricing atomically so in-flight requests
// never observe a partially applied reload.
type PricingHolder struct {
	current atomic.Value // holds Pricing
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/metering/config") // Volume-mounted config
	v.AddConfigPath("/etc/metering")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("METERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.unitCost", defaults.UnitCost)
		v.SetDefault("pricing.freeQuota", defaults.FreeQuota)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	pricing, err := resolvePricing(cfg)
	if err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(pricing)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		resolved, err := resolvePricing(updated)
		if err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(resolved)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// StaticPricingHolder wraps a fixed pricing config. Test seam.
func StaticPricingHolder(cfg PricingConfig) (*PricingHolder, error) {
	pricing, err := resolvePricing(cfg)
	if err != nil {
		return nil, err
	}
	holder := &PricingHolder{}
	holder.current.Store(pricing)
	return holder, nil
}

func (h *PricingHolder) Get() Pricing {
	return h.current.Load().(Pricing)
}

func resolvePricing(cfg PricingConfig) (Pricing, error) {
	raw := strings.TrimSpace(cfg.UnitCost)
	if raw == "" {
		raw = DefaultPricingConfig().UnitCost
	}
	unitCost, err := decimal.NewFromString(raw)
	if err != nil {
		return Pricing{}, err
	}
	if unitCost.LessThanOrEqual(decimal.Zero) {
		return Pricing{}, errors.New("pricing.unitCost must be positive")
	}

	quota := cfg.FreeQuota
	if quota < 0 {
		return Pricing{}, errors.New("pricing.freeQuota cannot be negative")
	}
	if quota == 0 {
		quota = DefaultPricingConfig().FreeQuota
	}

	overrides := make(map[string]decimal.Decimal, len(cfg.Operations))
	for op, rawCost := range cfg.Operations {
		cost, err := decimal.NewFromString(strings.TrimSpace(rawCost))
		if err != nil {
			log.Printf("[pricing-config] operation %q has invalid cost %q, using unit cost", op, rawCost)
			continue
		}
		if cost.LessThan(minOperationCost) || cost.GreaterThan(maxOperationCost) {
			log.Printf("[pricing-config] operation %q cost %s outside allowed range, using unit cost", op, cost)
			continue
		}
		overrides[strings.ToLower(strings.TrimSpace(op))] = cost
	}

	return Pricing{
		UnitCost:  unitCost,
		FreeQuota: quota,
		overrides: overrides,
	}, nil
}
