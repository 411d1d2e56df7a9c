package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides, e.g. HANDOFF_RELAY__SESSION_TTL=2h
const EnvPrefix = "HANDOFF_"

// Config represents the complete server configuration
type Config struct {
	Domain  string `koanf:"domain"`
	Email   string `koanf:"email"`
	CertDir string `koanf:"cert_dir"`

	ACME    ACMEConfig    `koanf:"acme"`
	Turn    TurnConfig    `koanf:"turn"`
	Relay   RelayConfig   `koanf:"relay"`
	API     APIConfig     `koanf:"api"`
	Storage StorageConfig `koanf:"storage"`
	Logging LoggingConfig `koanf:"logging"`
}

// ACMEConfig holds ACME/Let's Encrypt configuration
type ACMEConfig struct {
	Enabled               bool              `koanf:"enabled"`
	CAURL                 string            `koanf:"ca_url"`
	Challenge             string            `koanf:"challenge"`
	HTTP01Listen          string            `koanf:"http01_listen"`
	TLSALPN01Listen       string            `koanf:"tlsalpn01_listen"`
	DNSProvider           string            `koanf:"dns_provider"`
	DNSConfig             map[string]string `koanf:"dns_config"`
	DNSTimeout            string            `koanf:"dns_timeout"`
	DNSPropagationTimeout string            `koanf:"dns_propagation_timeout"`
	RenewBefore           time.Duration     `koanf:"renew_before"`
}

// TurnConfig holds the TURN/STUN server used by the remote-desktop WebRTC path
type TurnConfig struct {
	Enabled        bool       `koanf:"enabled"`
	Realm          string     `koanf:"realm"`
	PublicIP       string     `koanf:"public_ip"`
	Ports          TurnPorts  `koanf:"ports"`
	RelayPortRange PortRange  `koanf:"relay_port_range"`
	Auth           AuthConfig `koanf:"auth"`
}

// TurnPorts defines TURN server port configuration
type TurnPorts struct {
	UDP int `koanf:"udp"`
	TCP int `koanf:"tcp"`
	TLS int `koanf:"tls"`
}

// PortRange defines a range of ports
type PortRange struct {
	Min int `koanf:"min"`
	Max int `koanf:"max"`
}

// AuthConfig holds TURN authentication configuration
type AuthConfig struct {
	Mode        string       `koanf:"mode"`
	Secret      string       `koanf:"secret"`
	TTLSeconds  int          `koanf:"ttl_seconds"`
	StaticUsers []StaticUser `koanf:"static_users"`
}

// StaticUser represents a static username/password pair
type StaticUser struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// RelayConfig holds session lifecycle and transport tuning
type RelayConfig struct {
	SessionTTL       time.Duration `koanf:"session_ttl"`
	OwnerGracePeriod time.Duration `koanf:"owner_grace_period"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	SendBuffer       int           `koanf:"send_buffer"`
	MaxMessageSize   int64         `koanf:"max_message_size"`
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Port        int          `koanf:"port"`
	CORSOrigins []string     `koanf:"cors_origins"`
	APIKey      APIKeyConfig `koanf:"api_key"`
}

// APIKeyConfig holds API key configuration
type APIKeyConfig struct {
	Hash      string `koanf:"hash"`
	CreatedAt string `koanf:"created_at"`
}

// StorageConfig controls the session history database
type StorageConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Path      string        `koanf:"path"`
	Retention time.Duration `koanf:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load loads configuration from a YAML file, then applies HANDOFF_ environment overrides
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envKey maps HANDOFF_RELAY__SESSION_TTL to relay.session_ttl
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// applyDefaults sets default values for optional fields
func applyDefaults(cfg *Config) {
	if cfg.CertDir == "" {
		cfg.CertDir = "./certs"
	}

	// ACME defaults
	if cfg.ACME.Enabled {
		if cfg.ACME.CAURL == "" {
			cfg.ACME.CAURL = "https://acme-v02.api.letsencrypt.org/directory"
		}
		if cfg.ACME.Challenge == "" {
			cfg.ACME.Challenge = "http-01"
		}
		if cfg.ACME.HTTP01Listen == "" {
			cfg.ACME.HTTP01Listen = ":80"
		}
		if cfg.ACME.TLSALPN01Listen == "" {
			cfg.ACME.TLSALPN01Listen = ":443"
		}
		if cfg.ACME.DNSTimeout == "" {
			cfg.ACME.DNSTimeout = "60s"
		}
		if cfg.ACME.DNSPropagationTimeout == "" {
			cfg.ACME.DNSPropagationTimeout = "300s"
		}
		if cfg.ACME.RenewBefore == 0 {
			cfg.ACME.RenewBefore = 30 * 24 * time.Hour
		}
	}

	// TURN defaults
	if cfg.Turn.Realm == "" {
		cfg.Turn.Realm = cfg.Domain
	}
	if cfg.Turn.Ports.UDP == 0 {
		cfg.Turn.Ports.UDP = 3478
	}
	if cfg.Turn.Ports.TCP == 0 {
		cfg.Turn.Ports.TCP = 3478
	}
	if cfg.Turn.Ports.TLS == 0 {
		cfg.Turn.Ports.TLS = 5349
	}
	if cfg.Turn.RelayPortRange.Min == 0 {
		cfg.Turn.RelayPortRange.Min = 49152
	}
	if cfg.Turn.RelayPortRange.Max == 0 {
		cfg.Turn.RelayPortRange.Max = 65535
	}
	if cfg.Turn.Auth.Mode == "" {
		cfg.Turn.Auth.Mode = "rest"
	}
	if cfg.Turn.Auth.TTLSeconds == 0 {
		cfg.Turn.Auth.TTLSeconds = 86400
	}

	// Relay defaults
	if cfg.Relay.SessionTTL == 0 {
		cfg.Relay.SessionTTL = time.Hour
	}
	if cfg.Relay.OwnerGracePeriod == 0 {
		cfg.Relay.OwnerGracePeriod = 30 * time.Second
	}
	if cfg.Relay.SweepInterval == 0 {
		cfg.Relay.SweepInterval = 60 * time.Second
	}
	if cfg.Relay.ReadTimeout == 0 {
		cfg.Relay.ReadTimeout = 60 * time.Second
	}
	if cfg.Relay.PingInterval == 0 {
		cfg.Relay.PingInterval = 30 * time.Second
	}
	if cfg.Relay.WriteTimeout == 0 {
		cfg.Relay.WriteTimeout = 10 * time.Second
	}
	if cfg.Relay.SendBuffer == 0 {
		cfg.Relay.SendBuffer = 64
	}
	if cfg.Relay.MaxMessageSize == 0 {
		cfg.Relay.MaxMessageSize = 16 << 20 // inline file handoff
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 9000
	}

	// Storage defaults
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/history.db"
	}
	if cfg.Storage.Retention == 0 {
		cfg.Storage.Retention = 30 * 24 * time.Hour
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// validate checks the configuration for required fields and consistency
func validate(cfg *Config) error {
	if cfg.Domain == "" {
		return errors.New("domain is required")
	}
	for _, check := range []func(*Config) error{validateACME, validateTurn, validateRelay} {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

var challengeTypes = map[string]bool{"http-01": true, "tls-alpn-01": true, "dns-01": true}

func validateACME(cfg *Config) error {
	a := cfg.ACME
	if !a.Enabled {
		return nil
	}
	switch {
	case cfg.Email == "":
		return errors.New("email is required when ACME is enabled")
	case !challengeTypes[a.Challenge]:
		return fmt.Errorf("invalid ACME challenge type: %s", a.Challenge)
	case a.Challenge == "dns-01" && a.DNSProvider == "":
		return errors.New("dns_provider is required for dns-01 challenge")
	case a.RenewBefore < 0:
		return errors.New("acme renew_before must not be negative")
	}
	return nil
}

func validateTurn(cfg *Config) error {
	t := cfg.Turn
	if !t.Enabled {
		return nil
	}
	switch {
	case t.PublicIP == "":
		return errors.New("turn public_ip is required when TURN is enabled")
	case t.Auth.Mode != "rest" && t.Auth.Mode != "static":
		return fmt.Errorf("invalid auth mode: %s (must be 'rest' or 'static')", t.Auth.Mode)
	case t.Auth.Mode == "rest" && t.Auth.Secret == "":
		return errors.New("auth secret is required for REST mode")
	case t.Auth.Mode == "static" && len(t.Auth.StaticUsers) == 0:
		return errors.New("at least one static user is required for static auth mode")
	case t.RelayPortRange.Min > t.RelayPortRange.Max:
		return fmt.Errorf("turn relay_port_range min %d exceeds max %d", t.RelayPortRange.Min, t.RelayPortRange.Max)
	}
	return nil
}

// validateRelay keeps the session timers ordered: a grace period outliving the
// session would never fire, and pings must land inside the read deadline
func validateRelay(cfg *Config) error {
	r := cfg.Relay
	switch {
	case r.OwnerGracePeriod >= r.SessionTTL:
		return fmt.Errorf("relay owner_grace_period (%s) must be shorter than session_ttl (%s)",
			r.OwnerGracePeriod, r.SessionTTL)
	case r.PingInterval >= r.ReadTimeout:
		return errors.New("relay ping_interval must be shorter than read_timeout")
	case r.SendBuffer < 1:
		return errors.New("relay send_buffer must be positive")
	}
	return nil
}
