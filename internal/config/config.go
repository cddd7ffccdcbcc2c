package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config models reelmarket.yml.
type Config struct {
	Market struct {
		ID string `yaml:"id" toml:"id" json:"id"`
	} `yaml:"market" toml:"market" json:"market"`
	Rules    Rules    `yaml:"rules" toml:"rules" json:"rules"`
	Checkout Checkout `yaml:"checkout" toml:"checkout" json:"checkout"`
	Seed     struct {
		Editors []SeedEditor `yaml:"editors" toml:"editors" json:"editors"`
	} `yaml:"seed" toml:"seed" json:"seed"`
	Webhooks []WebhookConfig `yaml:"webhooks" toml:"webhooks" json:"webhooks,omitempty"`
}

type Rules struct {
	Commission struct {
		BronzeRate              float64 `yaml:"bronze_rate" toml:"bronze_rate" json:"bronze_rate"`
		SilverRate              float64 `yaml:"silver_rate" toml:"silver_rate" json:"silver_rate"`
		SilverMinCompletedDeals int     `yaml:"silver_min_completed_deals" toml:"silver_min_completed_deals" json:"silver_min_completed_deals"`
		InactivityDays          float64 `yaml:"inactivity_days" toml:"inactivity_days" json:"inactivity_days"`
	} `yaml:"commission" toml:"commission" json:"commission"`
	Escrow struct {
		AdvanceRatio float64 `yaml:"advance_ratio" toml:"advance_ratio" json:"advance_ratio"`
		AdminFeeRate float64 `yaml:"admin_fee_rate" toml:"admin_fee_rate" json:"admin_fee_rate"`
	} `yaml:"escrow" toml:"escrow" json:"escrow"`
	Reputation struct {
		CompletedPoints  int               `yaml:"completed_points" toml:"completed_points" json:"completed_points"`
		CancelledPenalty int               `yaml:"cancelled_penalty" toml:"cancelled_penalty" json:"cancelled_penalty"`
		LatePenalty      int               `yaml:"late_penalty" toml:"late_penalty" json:"late_penalty"`
		SilverMinPoints  int               `yaml:"silver_min_points" toml:"silver_min_points" json:"silver_min_points"`
		GoldMinPoints    int               `yaml:"gold_min_points" toml:"gold_min_points" json:"gold_min_points"`
		Badges           map[string]string `yaml:"badges" toml:"badges" json:"badges"`
	} `yaml:"reputation" toml:"reputation" json:"reputation"`
}

type Checkout struct {
	PlatformFeeRate float64  `yaml:"platform_fee_rate" toml:"platform_fee_rate" json:"platform_fee_rate"`
	Methods         []string `yaml:"methods" toml:"methods" json:"methods"`
}

type SeedEditor struct {
	ID             string `yaml:"id" toml:"id" json:"id"`
	Name           string `yaml:"name" toml:"name" json:"name"`
	CompletedDeals int    `yaml:"completed_deals" toml:"completed_deals" json:"completed_deals"`
	CancelledDeals int    `yaml:"cancelled_deals" toml:"cancelled_deals" json:"cancelled_deals"`
	LateDeliveries int    `yaml:"late_deliveries" toml:"late_deliveries" json:"late_deliveries"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" toml:"url" json:"url"`
	Events         []string `yaml:"events" toml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" toml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" toml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// HasMethod reports whether a payment method is accepted at checkout.
func (c Checkout) HasMethod(method string) bool {
	for _, m := range c.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Market.ID == "" {
		return fmt.Errorf("config.market.id is required")
	}
	com := c.Rules.Commission
	if err := checkRate("rules.commission.bronze_rate", com.BronzeRate); err != nil {
		return err
	}
	if err := checkRate("rules.commission.silver_rate", com.SilverRate); err != nil {
		return err
	}
	if com.SilverMinCompletedDeals < 0 {
		return fmt.Errorf("rules.commission.silver_min_completed_deals must not be negative")
	}
	if com.InactivityDays < 0 {
		return fmt.Errorf("rules.commission.inactivity_days must not be negative")
	}
	if err := checkRate("rules.escrow.advance_ratio", c.Rules.Escrow.AdvanceRatio); err != nil {
		return err
	}
	if err := checkRate("rules.escrow.admin_fee_rate", c.Rules.Escrow.AdminFeeRate); err != nil {
		return err
	}
	rep := c.Rules.Reputation
	if rep.CompletedPoints < 0 || rep.CancelledPenalty < 0 || rep.LatePenalty < 0 {
		return fmt.Errorf("rules.reputation point weights must not be negative")
	}
	if rep.SilverMinPoints <= 0 || rep.GoldMinPoints <= rep.SilverMinPoints {
		return fmt.Errorf("rules.reputation thresholds must satisfy 0 < silver_min_points < gold_min_points")
	}
	if err := checkRate("checkout.platform_fee_rate", c.Checkout.PlatformFeeRate); err != nil {
		return err
	}
	if len(c.Checkout.Methods) == 0 {
		return fmt.Errorf("config.checkout.methods is required")
	}
	for _, m := range c.Checkout.Methods {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("config.checkout.methods contains an empty method")
		}
	}
	seen := make(map[string]struct{}, len(c.Seed.Editors))
	for _, e := range c.Seed.Editors {
		if e.ID == "" {
			return fmt.Errorf("config.seed.editors contains an editor without id")
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("config.seed.editors has duplicate id %s", e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.CompletedDeals < 0 || e.CancelledDeals < 0 || e.LateDeliveries < 0 {
			return fmt.Errorf("seed editor %s has negative counters", e.ID)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func checkRate(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reelmarket.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketID string) string {
	return fmt.Sprintf(defaultTemplate, marketID)
}

// Default returns the default Config struct for a market.
func Default(marketID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(marketID))).Decode(&cfg)
	cfg.Market.ID = marketID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads config from the given path; .toml files are decoded as TOML,
// anything else as YAML.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the workspace config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `market:
  id: %s

rules:
  commission:
    bronze_rate: 0.10
    silver_rate: 0.05
    silver_min_completed_deals: 5
    inactivity_days: 60

  escrow:
    advance_ratio: 0.20
    admin_fee_rate: 0.05

  reputation:
    completed_points: 10
    cancelled_penalty: 5
    late_penalty: 5
    silver_min_points: 51
    gold_min_points: 101
    badges:
      Bronze: "⭐"
      Silver: "🌟"
      Gold: "💎"

checkout:
  platform_fee_rate: 0.05
  methods: [card, paypal, bank_transfer]

seed:
  editors:
    - id: editor1
      name: Michael Chen
      completed_deals: 8
      cancelled_deals: 1
      late_deliveries: 0
    - id: editor2
      name: Sarah Williams
      completed_deals: 12
      cancelled_deals: 0
      late_deliveries: 1
    - id: editor3
      name: Emma Thompson
      completed_deals: 3
      cancelled_deals: 0
      late_deliveries: 0
`
