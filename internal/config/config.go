// Package config loads service configuration from YAML with env overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr         string `yaml:"addr"`
		MetricsAddr  string `yaml:"metrics_addr"`
		SecureCookie bool   `yaml:"secure_cookie"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		DSN             string        `yaml:"dsn"`
		MaxConns        int32         `yaml:"max_conns"`
		MinConns        int32         `yaml:"min_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"storage"`

	Cache struct {
		Driver   string `yaml:"driver"` // memory | redis
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"cache"`

	Issuer struct {
		Iss        string        `yaml:"iss"`
		SeedBase64 string        `yaml:"seed_base64"`
		AccessTTL  time.Duration `yaml:"access_ttl"`
		RefreshTTL time.Duration `yaml:"refresh_ttl"`
		CodeTTL    time.Duration `yaml:"code_ttl"`
	} `yaml:"issuer"`

	Secretbox struct {
		// KeyBase64 seals stored provider tokens. Empty disables sealing (dev).
		KeyBase64 string `yaml:"key_base64"`
	} `yaml:"secretbox"`

	// Providers lists the statically configured upstream OAuth providers,
	// keyed by provider config ID in callback URLs.
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one upstream OAuth2/OIDC provider.
type ProviderConfig struct {
	ID           string   `yaml:"id"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// Load reads the YAML file at path (when it exists) and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) defaults() {
	c.App.Env = "dev"
	c.Server.Addr = ":8080"
	c.Server.MetricsAddr = ":9091"
	c.Log.Level = "info"
	c.Cache.Driver = "memory"
	c.Cache.Prefix = "lumakey:"
	c.Issuer.Iss = "http://localhost:8080"
	c.Issuer.AccessTTL = 15 * time.Minute
	c.Issuer.RefreshTTL = 30 * 24 * time.Hour
	c.Issuer.CodeTTL = 5 * time.Minute
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.App.Env, "LUMAKEY_ENV")
	set(&c.Server.Addr, "LUMAKEY_ADDR")
	set(&c.Server.MetricsAddr, "LUMAKEY_METRICS_ADDR")
	set(&c.Log.Level, "LUMAKEY_LOG_LEVEL")
	set(&c.Storage.DSN, "LUMAKEY_DB_DSN")
	set(&c.Cache.Driver, "LUMAKEY_CACHE_DRIVER")
	set(&c.Cache.Addr, "LUMAKEY_REDIS_ADDR")
	set(&c.Cache.Password, "LUMAKEY_REDIS_PASSWORD")
	set(&c.Issuer.Iss, "LUMAKEY_ISSUER")
	set(&c.Issuer.SeedBase64, "LUMAKEY_ISSUER_SEED")
	set(&c.Secretbox.KeyBase64, "LUMAKEY_SECRETBOX_KEY")

	if v := strings.TrimSpace(os.Getenv("LUMAKEY_SECURE_COOKIE")); v != "" {
		c.Server.SecureCookie = v == "true" || v == "1"
	}
}
