package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// WithdrawalConfig is one per-run exchange withdrawal instruction. Immutable
// after Load; the orchestrator receives it by value.
type WithdrawalConfig struct {
	Currency     string   `yaml:"currency"`
	Networks     []string `yaml:"networks"`
	MinAmount    float64  `yaml:"min_amount"`
	MaxAmount    float64  `yaml:"max_amount"`
	WaitForFunds bool     `yaml:"wait_for_funds"`
	MaxWaitTime  int      `yaml:"max_wait_time"` // seconds
	Retries      int      `yaml:"retries"`
	MaxBalance   float64  `yaml:"max_balance"` // skip withdrawal if destination already holds this much
}

// ExchangeConfig holds exchange credentials and the withdrawal list.
type ExchangeConfig struct {
	Name        string             `yaml:"name"`
	APIKey      string             `yaml:"apiKey"`
	SecretKey   string             `yaml:"secretKey"`
	Passphrase  string             `yaml:"passphrase"`
	Withdrawals []WithdrawalConfig `yaml:"withdrawals"`
}

// SettingsConfig is the scheduling section.
type SettingsConfig struct {
	SimultaneousAccounts int   `yaml:"simultaneous_accounts_in_work"`
	SleepBetweenWallets  []int `yaml:"sleep_between_wallets"` // [min, max] seconds
	SleepBetweenTasks    []int `yaml:"sleep_between_tasks"`   // [min, max] seconds
}

// FlowConfig selects which activity tasks run and in what order.
type FlowConfig struct {
	Tasks  []string `yaml:"tasks"`
	Random bool     `yaml:"random"`
}

// BridgeConfig configures the Optimism -> Unichain bridge task.
type BridgeConfig struct {
	AmountRange []float64 `yaml:"amount"` // [min, max] ETH
}

// SwapConfig configures the Unichain swap task.
type SwapConfig struct {
	PercentRange []int `yaml:"percent"` // [min, max] percent of balance
	SwapAllToETH bool  `yaml:"swap_all_to_eth"`
}

// LogConfig mirrors pkg/logger.Config in yaml form.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the full per-run configuration. Constructed once by Load and
// passed by reference into the runner; nothing re-reads it lazily.
type Config struct {
	Settings SettingsConfig `yaml:"SETTINGS"`
	Flow     FlowConfig     `yaml:"FLOW"`
	Exchange ExchangeConfig `yaml:"EXCHANGES"`
	Bridge   BridgeConfig   `yaml:"BRIDGE"`
	Swap     SwapConfig     `yaml:"SWAP"`
	Log      LogConfig      `yaml:"LOG"`
}

// Load reads and validates a yaml config file. Exchange credentials left
// empty in the file may be supplied through the environment, see ApplyEnv.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.SimultaneousAccounts <= 0 {
		c.Settings.SimultaneousAccounts = 1
	}
	if len(c.Settings.SleepBetweenWallets) != 2 {
		c.Settings.SleepBetweenWallets = []int{5, 15}
	}
	if len(c.Settings.SleepBetweenTasks) != 2 {
		c.Settings.SleepBetweenTasks = []int{10, 30}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ApplyEnv overrides exchange credentials from the environment. Keys follow
// the exchange name, e.g. OKX_API_KEY / OKX_SECRET_KEY / OKX_PASSPHRASE.
func (c *Config) ApplyEnv() {
	prefix := strings.ToUpper(strings.TrimSpace(c.Exchange.Name))
	if prefix == "" {
		return
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv(prefix + "_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = v
	}
	if v := os.Getenv(prefix + "_PASSPHRASE"); v != "" {
		c.Exchange.Passphrase = v
	}
}

// Validate enforces the pre-flight invariants. Violations here are fatal
// before anything touches the exchange or a chain.
func (c *Config) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("config: exchange name is required")
	}
	for _, task := range c.Flow.Tasks {
		if task == "withdraw" && len(c.Exchange.Withdrawals) == 0 {
			return fmt.Errorf("config: no withdrawal configurations found")
		}
	}
	for i, w := range c.Exchange.Withdrawals {
		if w.Currency == "" {
			return fmt.Errorf("config: withdrawal[%d]: currency is required", i)
		}
		if len(w.Networks) == 0 {
			return fmt.Errorf("config: withdrawal[%d]: no networks specified", i)
		}
		if w.MinAmount <= 0 || w.MaxAmount <= 0 {
			return fmt.Errorf("config: withdrawal[%d]: amounts must be positive", i)
		}
		if w.MinAmount > w.MaxAmount {
			return fmt.Errorf("config: withdrawal[%d]: min_amount %v > max_amount %v", i, w.MinAmount, w.MaxAmount)
		}
		if w.Retries < 1 {
			return fmt.Errorf("config: withdrawal[%d]: retries must be >= 1", i)
		}
		if w.MaxWaitTime <= 0 {
			return fmt.Errorf("config: withdrawal[%d]: max_wait_time must be positive", i)
		}
	}
	for _, r := range [][]int{c.Settings.SleepBetweenWallets, c.Settings.SleepBetweenTasks} {
		if r[0] < 0 || r[1] < r[0] {
			return fmt.Errorf("config: sleep range %v is not ascending", r)
		}
	}
	if n := len(c.Bridge.AmountRange); n != 0 && n != 2 {
		return fmt.Errorf("config: BRIDGE.amount must be [min, max]")
	}
	if n := len(c.Swap.PercentRange); n != 0 && n != 2 {
		return fmt.Errorf("config: SWAP.percent must be [min, max]")
	}
	return nil
}
