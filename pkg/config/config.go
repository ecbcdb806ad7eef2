// Package config loads the anchoring node's configuration from a YAML
// file with ${VAR_NAME} / ${VAR_NAME:-default} environment-variable
// substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the anchoring node process: the
// relay connection, this validator's identity and keys, the read-model
// database, the HTTP/metrics servers, and the anchoring defaults used
// until the host chain's config history overrides them.
type Config struct {
	Environment string `yaml:"environment"`

	Relay      RelaySettings      `yaml:"relay"`
	Validator  ValidatorSettings  `yaml:"validator"`
	Anchoring  AnchoringSettings  `yaml:"anchoring"`
	Database   DatabaseSettings   `yaml:"database"`
	Server     ServerSettings     `yaml:"server"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
	HostChain  HostChainSettings  `yaml:"host_chain"`
}

// HostChainSettings points at the BFT host chain's CometBFT RPC
// endpoint, when this node reaches it over RPC rather than running
// embedded inside the host framework's own process. Left blank, the
// node falls back to a zero-height placeholder oracle suitable for
// standalone observer/API operation.
type HostChainSettings struct {
	RPCURL string `yaml:"rpc_url"`
}

// RelaySettings points the relay.RPCClient at a Bitcoin Core node.
type RelaySettings struct {
	URL            string   `yaml:"url"`
	User           string   `yaml:"user"`
	Password       string   `yaml:"password"`
	Timeout        Duration `yaml:"timeout"`
	Network        string   `yaml:"network"` // mainnet | testnet | regtest
}

// ValidatorSettings identifies this node within the anchoring roster and
// locates its key material on disk. The keys themselves are never held
// here — only paths — so Config can be logged safely.
type ValidatorSettings struct {
	ID                string `yaml:"id"`
	BitcoinKeyPath    string `yaml:"bitcoin_key_path"`
	ServiceKeyPath    string `yaml:"service_key_path"`
	DataDir           string `yaml:"data_dir"`
}

// AnchoringSettings carries the defaults the state machine runs with
// before any host-chain config history is available (e.g. bootstrapping
// a fresh chain), and the two parameters spec.md §9 leaves as explicit
// operator knobs rather than baked-in constants.
type AnchoringSettings struct {
	AnchoringInterval         uint64   `yaml:"anchoring_interval"`
	FeePerByte                uint64   `yaml:"fee_per_byte"`
	UTXOConfirmations         uint64   `yaml:"utxo_confirmations"`
	ResendAfterBlocks         uint64   `yaml:"resend_after_blocks"`
	TransitionLostAfterBlocks uint64   `yaml:"transition_lost_after_blocks"`
	ObserverInterval          Duration `yaml:"observer_interval"`
}

// DatabaseSettings configures the Postgres-backed read-model store used
// by the HTTP API (spec.md's authoritative schema lives in ledger.KV,
// not here).
type DatabaseSettings struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	Required        bool     `yaml:"required"`
}

// ServerSettings configures the thin HTTP API adapter of spec.md §6.
type ServerSettings struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// MonitoringSettings configures structured logging and metrics export.
type MonitoringSettings struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPath string `yaml:"metrics_path"`
}

// Duration wraps time.Duration so it can be expressed as a YAML string
// ("30s", "5m") rather than a raw nanosecond integer.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads path, substitutes ${VAR} references against the process
// environment, parses the result as YAML, and fills in defaults for any
// field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv builds a Config directly from environment variables, for
// deployments that prefer not to manage a YAML file (e.g. containerized
// single-validator test nodes).
func LoadFromEnv() *Config {
	cfg := &Config{
		Environment: getEnv("ANCHORING_ENVIRONMENT", "development"),
		Relay: RelaySettings{
			URL:      getEnv("BITCOIN_RPC_URL", "http://127.0.0.1:8332"),
			User:     getEnv("BITCOIN_RPC_USER", ""),
			Password: getEnv("BITCOIN_RPC_PASSWORD", ""),
			Timeout:  Duration(getEnvDuration("BITCOIN_RPC_TIMEOUT", 30*time.Second)),
			Network:  getEnv("BITCOIN_NETWORK", "regtest"),
		},
		Validator: ValidatorSettings{
			ID:             getEnv("VALIDATOR_ID", "validator-default"),
			BitcoinKeyPath: getEnv("BITCOIN_KEY_PATH", ""),
			ServiceKeyPath: getEnv("SERVICE_KEY_PATH", ""),
			DataDir:        getEnv("DATA_DIR", "./data"),
		},
		Anchoring: AnchoringSettings{
			AnchoringInterval:         uint64(getEnvInt("ANCHORING_INTERVAL", 1000)),
			FeePerByte:                uint64(getEnvInt("FEE_PER_BYTE", 1)),
			UTXOConfirmations:         uint64(getEnvInt("UTXO_CONFIRMATIONS", 6)),
			ResendAfterBlocks:         uint64(getEnvInt("RESEND_AFTER_BLOCKS", 3)),
			TransitionLostAfterBlocks: uint64(getEnvInt("TRANSITION_LOST_AFTER_BLOCKS", 0)),
			ObserverInterval:          Duration(getEnvDuration("OBSERVER_INTERVAL", 5*time.Minute)),
		},
		Database: DatabaseSettings{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: Duration(getEnvDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour)),
			Required:        getEnvBool("DATABASE_REQUIRED", false),
		},
		Server: ServerSettings{
			ListenAddr:  getEnv("API_LISTEN_ADDR", "0.0.0.0:8080"),
			MetricsAddr: getEnv("METRICS_LISTEN_ADDR", "0.0.0.0:9090"),
		},
		Monitoring: MonitoringSettings{
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			MetricsPath: getEnv("METRICS_PATH", "/metrics"),
		},
		HostChain: HostChainSettings{
			RPCURL: getEnv("HOST_CHAIN_RPC_URL", ""),
		},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills any zero-valued field left unset by a YAML file
// that only specifies the fields it cares about.
func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = Duration(30 * time.Second)
	}
	if c.Relay.Network == "" {
		c.Relay.Network = "regtest"
	}
	if c.Validator.DataDir == "" {
		c.Validator.DataDir = "./data"
	}
	if c.Anchoring.AnchoringInterval == 0 {
		c.Anchoring.AnchoringInterval = 1000
	}
	if c.Anchoring.UTXOConfirmations == 0 {
		c.Anchoring.UTXOConfirmations = 6
	}
	if c.Anchoring.ResendAfterBlocks == 0 {
		c.Anchoring.ResendAfterBlocks = 3
	}
	if c.Anchoring.ObserverInterval == 0 {
		c.Anchoring.ObserverInterval = Duration(5 * time.Minute)
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = Duration(time.Hour)
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0:8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = "0.0.0.0:9090"
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
}

// Validate checks that the fields required to run a validator node (as
// opposed to a read-only observer) are present.
func (c *Config) Validate() error {
	var errs []string
	if c.Relay.URL == "" {
		errs = append(errs, "relay.url is required")
	}
	if c.Validator.ID == "" {
		errs = append(errs, "validator.id is required")
	}
	if c.Database.Required && c.Database.URL == "" {
		errs = append(errs, "database.url is required when database.required is true")
	}
	switch c.Relay.Network {
	case "mainnet", "testnet", "regtest":
	default:
		errs = append(errs, fmt.Sprintf("relay.network %q is not one of mainnet/testnet/regtest", c.Relay.Network))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			return iv
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if bv, err := strconv.ParseBool(v); err == nil {
			return bv
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if dv, err := time.ParseDuration(v); err == nil {
			return dv
		}
	}
	return defaultValue
}
