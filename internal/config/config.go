package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "TEAMCORE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "teamcore.db"
	defaultLogLevel      = "info"
	defaultTokenIssuer   = "teamcore-auth"
	defaultTokenAudience = "teamcore-api"
	defaultTokenTTL      = 30 * time.Minute
	defaultReferralBase  = "https://propulse.example"
	defaultPayoutMinimum = 100.0
	defaultRecomputeSpec = "17 */6 * * *"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration
	ReferralBase  string
	PayoutMinimum float64
	RecomputeSpec string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.issuer", defaultTokenIssuer)
	configViper.SetDefault("token.audience", defaultTokenAudience)
	configViper.SetDefault("token.ttl", defaultTokenTTL)
	configViper.SetDefault("referral.link_base", defaultReferralBase)
	configViper.SetDefault("payout.minimum", defaultPayoutMinimum)
	configViper.SetDefault("recompute.cron", defaultRecomputeSpec)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("token.signing_secret"),
		TokenIssuer:   configViper.GetString("token.issuer"),
		TokenAudience: configViper.GetString("token.audience"),
		TokenTTL:      configViper.GetDuration("token.ttl"),
		ReferralBase:  configViper.GetString("referral.link_base"),
		PayoutMinimum: configViper.GetFloat64("payout.minimum"),
		RecomputeSpec: configViper.GetString("recompute.cron"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("token.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PayoutMinimum <= 0 {
		return fmt.Errorf("payout.minimum must be positive")
	}
	if strings.TrimSpace(c.RecomputeSpec) == "" {
		return fmt.Errorf("recompute.cron is required")
	}
	return nil
}
