package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/oauth-authcode/instrumentation"
	"github.com/giantswarm/oauth-authcode/storage/factory"
	"github.com/giantswarm/oauth-authcode/tokens"
)

// envPrefix namespaces environment overrides, e.g. AUTHCODE_STORAGE_TYPE.
const envPrefix = "AUTHCODE"

// Config is the configuration of the authcode-server binary.
type Config struct {
	Addr    string        `mapstructure:"addr"`
	Log     LogConfig     `mapstructure:"log"`
	OAuth   OAuthConfig   `mapstructure:"oauth"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Login   LoginConfig   `mapstructure:"login"`

	// Clients are registered at startup. When any are listed, or
	// OAuth.RequireRegisteredClients is set, unknown client_ids are rejected.
	Clients []ClientConfig `mapstructure:"clients"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `mapstructure:"format"` // text or json
	Level  string `mapstructure:"level"`
}

// OAuthConfig maps onto oauth.Config.
type OAuthConfig struct {
	CodeTTL                   int64           `mapstructure:"code_ttl"`
	AccessTokenTTL            int64           `mapstructure:"access_token_ttl"`
	TokenGenerator            string          `mapstructure:"token_generator"`
	BasicRealm                string          `mapstructure:"basic_realm"`
	AuthorizePath             string          `mapstructure:"authorize_path"`
	TokenPath                 string          `mapstructure:"token_path"`
	TrustProxy                bool            `mapstructure:"trust_proxy"`
	TrustedProxyCount         int             `mapstructure:"trusted_proxy_count"`
	RequireSecureRedirectURIs bool            `mapstructure:"require_secure_redirect_uris"`
	RequireRegisteredClients  bool            `mapstructure:"require_registered_clients"`
	AuditLogging              bool            `mapstructure:"audit_logging"`
	RateLimit                 RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is the per-IP limit on both endpoints. A zero rate disables it.
type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// StorageConfig selects the authorization store.
type StorageConfig struct {
	Type             string       `mapstructure:"type"`
	EncryptionSecret string       `mapstructure:"encryption_secret"`
	Valkey           ValkeyConfig `mapstructure:"valkey"`
}

// ValkeyConfig configures the valkey backend.
type ValkeyConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MetricsConfig configures OpenTelemetry.
type MetricsConfig struct {
	Exporter       string `mapstructure:"exporter"`
	TracesExporter string `mapstructure:"traces_exporter"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	LogClientIPs   bool   `mapstructure:"log_client_ips"`
}

// LoginConfig enables the login form when users are listed.
type LoginConfig struct {
	// Secret seals the login cookie. A base64 AES-256 key (see
	// generate-secret) is used as is, anything else is a passphrase.
	Secret     string       `mapstructure:"secret"`
	CookieName string       `mapstructure:"cookie_name"`
	Users      []UserConfig `mapstructure:"users"`
}

// UserConfig is a login user. PasswordHash is a bcrypt hash, see the
// hash-password command.
type UserConfig struct {
	Name         string `mapstructure:"name"`
	PasswordHash string `mapstructure:"password_hash"`
}

// ClientConfig is a client registered at startup.
type ClientConfig struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8008")

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetDefault("oauth.code_ttl", 600)
	v.SetDefault("oauth.access_token_ttl", 3600)
	v.SetDefault("oauth.token_generator", tokens.KindUUID)
	v.SetDefault("oauth.basic_realm", "")
	v.SetDefault("oauth.authorize_path", "/authorize")
	v.SetDefault("oauth.token_path", "/access-token")
	v.SetDefault("oauth.trust_proxy", false)
	v.SetDefault("oauth.trusted_proxy_count", 1)
	v.SetDefault("oauth.require_secure_redirect_uris", false)
	v.SetDefault("oauth.require_registered_clients", false)
	v.SetDefault("oauth.audit_logging", true)
	v.SetDefault("oauth.rate_limit.rate", 10)
	v.SetDefault("oauth.rate_limit.burst", 20)

	v.SetDefault("storage.type", string(factory.TypeMemory))
	v.SetDefault("storage.encryption_secret", "")
	v.SetDefault("storage.valkey.address", "localhost:6379")
	v.SetDefault("storage.valkey.password", "")
	v.SetDefault("storage.valkey.db", 0)
	v.SetDefault("storage.valkey.key_prefix", "")

	v.SetDefault("metrics.exporter", instrumentation.ExporterPrometheus)
	v.SetDefault("metrics.traces_exporter", instrumentation.ExporterNone)
	v.SetDefault("metrics.otlp_endpoint", "")
	v.SetDefault("metrics.otlp_insecure", false)
	v.SetDefault("metrics.log_client_ips", false)

	v.SetDefault("login.secret", "")
	v.SetDefault("login.cookie_name", "")
}

// LoadConfig reads defaults, then the YAML config file, then AUTHCODE_*
// environment variables, then the flags of cmd. An empty configFile looks
// for authcode.yaml in the working directory and /etc/authcode, and is
// fine to miss.
func LoadConfig(configFile string, cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("authcode")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/authcode")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if cmd != nil {
		if flag := cmd.Flags().Lookup("addr"); flag != nil {
			if err := v.BindPFlag("addr", flag); err != nil {
				return nil, err
			}
		}
		if flag := cmd.Flags().Lookup("log-level"); flag != nil {
			if err := v.BindPFlag("log.level", flag); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := factory.ParseType(c.Storage.Type); err != nil {
		return err
	}
	if _, err := tokens.New(c.OAuth.TokenGenerator); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %q", c.Log.Format)
	}
	if len(c.Login.Users) > 0 && c.Login.Secret == "" {
		return fmt.Errorf("login.secret is required when login users are configured")
	}
	for i, client := range c.Clients {
		if client.ID == "" {
			return fmt.Errorf("clients[%d]: id is required", i)
		}
	}
	for i, user := range c.Login.Users {
		if user.Name == "" || user.PasswordHash == "" {
			return fmt.Errorf("login.users[%d]: name and password_hash are required", i)
		}
	}
	return nil
}
