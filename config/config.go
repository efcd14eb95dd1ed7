package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the crowdsale daemon.
type Config struct {
	ListenAddress string    `toml:"ListenAddress" yaml:"listen"`
	DataDir       string    `toml:"DataDir" yaml:"data_dir"`
	Environment   string    `toml:"Environment" yaml:"environment"`
	Sale          Sale      `toml:"sale" yaml:"sale"`
	Admin         Admin     `toml:"admin" yaml:"admin"`
	RateLimit     RateLimit `toml:"rate_limit" yaml:"rate_limit"`
	Receipts      Receipts  `toml:"receipts" yaml:"receipts"`
	Log           Log       `toml:"log" yaml:"log"`
	Telemetry     Telemetry `toml:"telemetry" yaml:"telemetry"`
}

// Sale holds the economics of the sale. Amounts are base-10 strings so
// values wider than 64 bits survive the round trip; times are RFC3339.
type Sale struct {
	UnitPriceWei      string   `toml:"UnitPriceWei" yaml:"unit_price_wei"`
	CapUsdCents       string   `toml:"CapUsdCents" yaml:"cap_usd_cents"`
	GoalUsdCents      string   `toml:"GoalUsdCents" yaml:"goal_usd_cents"`
	RateWeiPerUsdCent string   `toml:"RateWeiPerUsdCent" yaml:"rate_wei_per_usd_cent"`
	Wallet            string   `toml:"Wallet" yaml:"wallet"`
	Controllers       []string `toml:"Controllers" yaml:"controllers"`
	Opening           string   `toml:"Opening" yaml:"opening"`
	Closing           string   `toml:"Closing" yaml:"closing"`
	MaxSupply         string   `toml:"MaxSupply" yaml:"max_supply"`
	PauseOnStart      bool     `toml:"PauseOnStart" yaml:"pause_on_start"`
}

// Admin secures the controller routes.
type Admin struct {
	BearerToken     string `toml:"BearerToken" yaml:"bearer_token"`
	BearerTokenFile string `toml:"BearerTokenFile" yaml:"bearer_token_file"`
}

// RateLimit throttles purchase and refund requests per client address. The
// address is the socket peer unless TrustProxyHeaders is set.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
	TrustProxyHeaders bool    `toml:"TrustProxyHeaders" yaml:"trust_proxy_headers"`
}

// Receipts selects the SQL database holding receipts and the payout outbox.
type Receipts struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// Log controls optional rotating file output.
type Log struct {
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// Telemetry configures the OTLP exporters. An empty endpoint disables them.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrDefaultWritten is returned by Load after it wrote a template to a
// missing path. The template must be completed before the daemon can start.
var ErrDefaultWritten = errors.New("config: default configuration written")

// Load loads the configuration from the given path. TOML is the default
// format; files ending in .yaml or .yml are decoded as YAML. A missing file
// is replaced by a default TOML template and ErrDefaultWritten is returned.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w to %s", ErrDefaultWritten, path)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAML(path, cfg); err != nil {
			return nil, err
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	applyDefaults(cfg)
	if err := cfg.Admin.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./crowdsale-data"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	cfg.Receipts.Driver = strings.ToLower(strings.TrimSpace(cfg.Receipts.Driver))
	if cfg.Receipts.Driver == "" {
		cfg.Receipts.Driver = DriverSQLite
	}
	if cfg.Receipts.DSN == "" && cfg.Receipts.Driver == DriverSQLite {
		cfg.Receipts.DSN = filepath.Join(cfg.DataDir, "receipts.db")
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB <= 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups <= 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays <= 0 {
			cfg.Log.MaxAgeDays = 30
		}
	}
	if cfg.Sale.Controllers == nil {
		cfg.Sale.Controllers = []string{}
	}
}

func (a *Admin) normalise() error {
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read BearerTokenFile: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	return nil
}

// Validate checks the structural settings. Sale economics are checked by
// Sale.Parse.
func (c *Config) Validate() error {
	if c.Admin.BearerToken == "" {
		return fmt.Errorf("admin: BearerToken or BearerTokenFile must be configured")
	}
	switch c.Receipts.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("receipts: unsupported driver %q", c.Receipts.Driver)
	}
	if strings.TrimSpace(c.Receipts.DSN) == "" {
		return fmt.Errorf("receipts: DSN must be configured for %s", c.Receipts.Driver)
	}
	if _, err := c.Sale.Parse(); err != nil {
		return err
	}
	return nil
}

// createDefault writes a template configuration. It has no wallet and no
// admin token, so Validate rejects it until an operator fills them in.
func createDefault(path string) error {
	cfg := &Config{
		ListenAddress: ":8090",
		DataDir:       "./crowdsale-data",
		Sale: Sale{
			UnitPriceWei:      "1000000000000000",
			CapUsdCents:       "100000000",
			GoalUsdCents:      "10000000",
			RateWeiPerUsdCent: "3000000000000",
			Controllers:       []string{},
		},
		RateLimit: RateLimit{RequestsPerMinute: 60, Burst: 10},
		Receipts:  Receipts{Driver: DriverSQLite},
	}
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
