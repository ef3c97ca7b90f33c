// Package config holds the engine configuration: a YAML file resolved into
// typed values consumed by the composition root.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v2"

	"github.com/CasinoHe/quanttrader-sub000/internal/broker"
	"github.com/CasinoHe/quanttrader-sub000/internal/cerebro"
	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// FeedConfig describes one market-data feed.
type FeedConfig struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Kind        string `yaml:"kind" json:"kind" validate:"required,oneof=csv duckdb"`
	Path        string `yaml:"path" json:"path" validate:"required"`
	Symbol      string `yaml:"symbol" json:"symbol" validate:"required"`
	Granularity string `yaml:"granularity" json:"granularity" validate:"required"`
	// Timezone overrides the engine-level timezone for this feed. All feeds
	// must resolve to the same timezone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Config is the full engine configuration.
type Config struct {
	CerebroKind string `yaml:"cerebro_kind" json:"cerebro_kind" validate:"oneof=backtest live"`
	BrokerKind  string `yaml:"broker_kind" json:"broker_kind" validate:"required"`
	ReplayMode  string `yaml:"replay_mode" json:"replay_mode" validate:"required"`
	Timezone    string `yaml:"timezone" json:"timezone" validate:"required"`

	ReadyTimeoutSeconds int `yaml:"ready_timeout_seconds" json:"ready_timeout_seconds" validate:"gte=0"`

	StartingCash             float64 `yaml:"starting_cash" json:"starting_cash" validate:"gte=0"`
	CommissionPerTrade       float64 `yaml:"commission_per_trade" json:"commission_per_trade" validate:"gte=0"`
	SlippagePercent          float64 `yaml:"slippage_percent" json:"slippage_percent" validate:"gte=0"`
	InitialMarginPercent     float64 `yaml:"initial_margin_percent" json:"initial_margin_percent" validate:"gte=0,lte=1"`
	MaintenanceMarginPercent float64 `yaml:"maintenance_margin_percent" json:"maintenance_margin_percent" validate:"gte=0,lte=1"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds" validate:"min=1,dive"`
}

// Default returns the configuration baseline that Load overlays the file
// onto.
func Default() Config {
	return Config{
		CerebroKind:         cerebro.KindBacktest,
		BrokerKind:          broker.KindSimulated,
		ReplayMode:          string(feed.ReplayModeNormal),
		Timezone:            "UTC",
		ReadyTimeoutSeconds: 30,
		StartingCash:        100_000,
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "read config file %s", path)
	}

	return Parse(data)
}

// Parse validates a YAML configuration document.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "parse config yaml", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks struct constraints and the values that need parsing:
// replay mode, granularities and timezones.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "validate config", err)
	}

	if _, err := feed.ParseReplayMode(c.ReplayMode); err != nil {
		return err
	}
	if _, err := feed.LoadLocation(c.Timezone); err != nil {
		return err
	}

	for i := range c.Feeds {
		fc := &c.Feeds[i]

		if _, err := feed.ParseGranularity(fc.Granularity); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "feed %q", fc.Name)
		}
		if fc.Timezone == "" {
			fc.Timezone = c.Timezone
		}
		if _, err := feed.LoadLocation(fc.Timezone); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "feed %q", fc.Name)
		}
	}

	return nil
}

// BrokerConfig maps the resolved values onto the broker's policy knobs.
func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		StartingCash:             c.StartingCash,
		CommissionPerTrade:       c.CommissionPerTrade,
		SlippagePercent:          c.SlippagePercent,
		InitialMarginPercent:     c.InitialMarginPercent,
		MaintenanceMarginPercent: c.MaintenanceMarginPercent,
	}
}

// CerebroConfig maps the resolved values onto the orchestrator's knobs.
func (c *Config) CerebroConfig() cerebro.Config {
	mode, _ := feed.ParseReplayMode(c.ReplayMode)

	return cerebro.Config{
		BrokerKind:   c.BrokerKind,
		Broker:       c.BrokerConfig(),
		ReplayMode:   mode,
		ReadyTimeout: time.Duration(c.ReadyTimeoutSeconds) * time.Second,
	}
}

// SchemaJSON generates the JSON schema of the configuration document.
func SchemaJSON() ([]byte, error) {
	schema := jsonschema.Reflect(&Config{})

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "marshal config schema", err)
	}

	return data, nil
}
