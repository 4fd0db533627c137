package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// AssetConfig declares one custodied asset: its symbol, native decimal
// precision and the price feed endpoint quoting it in reference currency.
type AssetConfig struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	FeedURL  string `toml:"FeedURL"`
}

// AuthConfig configures the JWT guard on the admin surface.
type AuthConfig struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// LogConfig configures optional file logging with rotation.
type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// Config captures the operator-supplied vaultd settings. The two ceilings are
// decimal strings in reference units (6 decimals) and are immutable for the
// lifetime of the process.
type Config struct {
	ListenAddress           string          `toml:"ListenAddress"`
	DataDir                 string          `toml:"DataDir"`
	Backend                 string          `toml:"Backend"`
	Admin                   string          `toml:"Admin"`
	SettlementURL           string          `toml:"SettlementURL"`
	GlobalCeilingRef        string          `toml:"GlobalCeilingRef"`
	PerWithdrawalCeilingRef string          `toml:"PerWithdrawalCeilingRef"`
	Assets                  []AssetConfig   `toml:"Assets"`
	Auth                    AuthConfig      `toml:"Auth"`
	Telemetry               TelemetryConfig `toml:"Telemetry"`
	Log                     LogConfig       `toml:"Log"`
}

// Load reads the configuration from the given path, applying defaults for
// optional fields. A missing file yields the defaults with an empty asset set.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vaultd-data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.PerWithdrawalCeilingRef) == "" {
		cfg.PerWithdrawalCeilingRef = "0"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 64
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 4
	}
	return cfg, nil
}

// Validate checks the loaded configuration for operator errors.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("config: unsupported backend %q", c.Backend)
	}
	if !ethcommon.IsHexAddress(strings.TrimSpace(c.Admin)) {
		return fmt.Errorf("config: Admin must be a hex address")
	}
	ceiling, err := c.GlobalCeiling()
	if err != nil {
		return err
	}
	if ceiling.Sign() <= 0 {
		return fmt.Errorf("config: GlobalCeilingRef must be positive")
	}
	if _, err := c.PerWithdrawalCeiling(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: asset symbol required")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		seen[symbol] = struct{}{}
		if strings.TrimSpace(asset.FeedURL) == "" {
			return fmt.Errorf("config: FeedURL required for asset %s", symbol)
		}
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: Auth.HMACSecret required when auth is enabled")
	}
	return nil
}

// AdminAddress parses the configured admin hex address.
func (c *Config) AdminAddress() ([20]byte, error) {
	trimmed := strings.TrimSpace(c.Admin)
	if !ethcommon.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("config: invalid admin address %q", c.Admin)
	}
	return [20]byte(ethcommon.HexToAddress(trimmed)), nil
}

// GlobalCeiling parses the global exposure ceiling in reference units.
func (c *Config) GlobalCeiling() (*big.Int, error) {
	return parseRefAmount("GlobalCeilingRef", c.GlobalCeilingRef)
}

// PerWithdrawalCeiling parses the per-withdrawal ceiling in reference units.
// Zero disables the check.
func (c *Config) PerWithdrawalCeiling() (*big.Int, error) {
	return parseRefAmount("PerWithdrawalCeilingRef", c.PerWithdrawalCeilingRef)
}

func parseRefAmount(field, value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid %s %q", field, value)
	}
	return amount, nil
}
