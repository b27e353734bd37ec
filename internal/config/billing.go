package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the billing policy knobs. The 30-day cycle length is
// a deliberate calendar approximation (fixed divisor, not calendar months);
// it lives here so it can be swapped without touching the generator.
type BillingConfig struct {
	CycleLengthDays      int `mapstructure:"cycleLengthDays"`
	DueDays              int `mapstructure:"dueDays"`
	GraceDays            int `mapstructure:"graceDays"`
	PermanentBlockDays   int `mapstructure:"permanentBlockDays"`
	SubscriptionFailures int `mapstructure:"subscriptionFailures"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		CycleLengthDays:      30,
		DueDays:              7,
		GraceDays:            7,
		PermanentBlockDays:   15,
		SubscriptionFailures: 3,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/pedifacil")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PEDIFACIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.cycleLengthDays", defaults.CycleLengthDays)
	v.SetDefault("billing.dueDays", defaults.DueDays)
	v.SetDefault("billing.graceDays", defaults.GraceDays)
	v.SetDefault("billing.permanentBlockDays", defaults.PermanentBlockDays)
	v.SetDefault("billing.subscriptionFailures", defaults.SubscriptionFailures)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg. Test helper.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.CycleLengthDays <= 0 {
		return errors.New("billing.cycleLengthDays must be positive")
	}
	if cfg.DueDays <= 0 {
		return errors.New("billing.dueDays must be positive")
	}
	if cfg.GraceDays < 0 || cfg.PermanentBlockDays < cfg.GraceDays {
		return errors.New("billing.permanentBlockDays must be >= graceDays")
	}
	if cfg.SubscriptionFailures <= 0 {
		return errors.New("billing.subscriptionFailures must be positive")
	}
	return nil
}
