package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"chatten/core/types"
	"chatten/native/market"
)

// Config describes the node-level settings the service daemon reads on
// startup. Unknown keys are rejected so stale config files fail loudly.
type Config struct {
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`
	MetricsAddress string `toml:"MetricsAddress"`
	LogEnvironment string `toml:"LogEnvironment"`

	Genesis GenesisConfig `toml:"genesis"`
}

// GenesisConfig holds the initial role and fee assignments applied to an
// empty data directory.
type GenesisConfig struct {
	Admin      string   `toml:"Admin"`
	Governance string   `toml:"Governance"`
	SwapFeeBps uint32   `toml:"SwapFeeBps"`
	Oracles    []string `toml:"Oracles"`
	Minters    []string `toml:"Minters"`
}

// Load reads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./chatten-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "chatten-local"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = "127.0.0.1:9464"
	}
	if strings.TrimSpace(c.LogEnvironment) == "" {
		c.LogEnvironment = "local"
	}
}

// Validate checks the loaded configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Genesis.SwapFeeBps > market.MaxSwapFeeBps {
		return fmt.Errorf("config: genesis swap fee %d exceeds maximum %d bps", c.Genesis.SwapFeeBps, market.MaxSwapFeeBps)
	}
	if strings.TrimSpace(c.Genesis.Admin) != "" {
		if _, err := types.ParseAddress(c.Genesis.Admin); err != nil {
			return fmt.Errorf("config: invalid genesis admin: %w", err)
		}
	}
	if strings.TrimSpace(c.Genesis.Governance) != "" {
		if _, err := types.ParseAddress(c.Genesis.Governance); err != nil {
			return fmt.Errorf("config: invalid genesis governance: %w", err)
		}
	}
	for _, entry := range c.Genesis.Oracles {
		if _, err := types.ParseAddress(entry); err != nil {
			return fmt.Errorf("config: invalid genesis oracle %q: %w", entry, err)
		}
	}
	for _, entry := range c.Genesis.Minters {
		if _, err := types.ParseAddress(entry); err != nil {
			return fmt.Errorf("config: invalid genesis minter %q: %w", entry, err)
		}
	}
	return nil
}

// GenesisAdmin returns the parsed admin address, or false when unset.
func (c *Config) GenesisAdmin() (types.Address, bool, error) {
	return parseOptionalAddress(c.Genesis.Admin)
}

// GenesisGovernance returns the parsed governance address, or false when
// unset.
func (c *Config) GenesisGovernance() (types.Address, bool, error) {
	return parseOptionalAddress(c.Genesis.Governance)
}

// GenesisOracles returns the parsed oracle addresses.
func (c *Config) GenesisOracles() ([]types.Address, error) {
	return parseAddressList(c.Genesis.Oracles)
}

// GenesisMinters returns the parsed minter addresses.
func (c *Config) GenesisMinters() ([]types.Address, error) {
	return parseAddressList(c.Genesis.Minters)
}

func parseOptionalAddress(value string) (types.Address, bool, error) {
	if strings.TrimSpace(value) == "" {
		return types.Address{}, false, nil
	}
	addr, err := types.ParseAddress(value)
	if err != nil {
		return types.Address{}, false, err
	}
	return addr, true, nil
}

func parseAddressList(values []string) ([]types.Address, error) {
	parsed := make([]types.Address, 0, len(values))
	for _, entry := range values {
		addr, err := types.ParseAddress(entry)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, addr)
	}
	return parsed, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
