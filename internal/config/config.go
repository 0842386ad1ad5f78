package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultScopes are requested when APP_OAUTH_SCOPES is not set.
var DefaultScopes = []string{
	"openid",
	"profile",
	"email",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.file",
}

type Config struct {
	ListenAddr  string
	BaseURL     string
	FrontendURL string
	Environment string

	DB struct {
		DSN string
	}

	OAuth struct {
		ClientID     string
		ClientSecret string
		IssuerURL    string
		RedirectPath string
		Scopes       []string
	}

	Session struct {
		Secret     string
		AccessTTL  time.Duration
		RefreshTTL time.Duration
	}

	External struct {
		Timeout time.Duration
	}

	Log struct {
		Level string
	}

	PrometheusEnabled bool
	TrustedProxies    []string
}

// RedirectURL is the absolute OAuth callback registered with the provider.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.OAuth.RedirectPath
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.BaseURL), "https://")
}

// Load reads configuration from APP_* environment variables and, when path is
// non-empty, from a YAML file whose keys mirror the env names (db.dsn, oauth.client_id, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("frontend_url", "http://localhost:5173")
	v.SetDefault("environment", "development")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("oauth.issuer_url", "https://accounts.google.com")
	v.SetDefault("oauth.redirect_path", "/api/auth/google/callback")
	v.SetDefault("session.access_ttl", 24*time.Hour)
	v.SetDefault("session.refresh_ttl", 10*24*time.Hour)
	v.SetDefault("external.timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("prometheus_endpoint_enabled", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = v.GetString("listen_addr")
	cfg.BaseURL = v.GetString("base_url")
	cfg.FrontendURL = strings.TrimRight(v.GetString("frontend_url"), "/")
	cfg.Environment = v.GetString("environment")
	cfg.DB.DSN = v.GetString("db.dsn")

	if cfg.DB.DSN == "" {
		host := v.GetString("db.host")
		name := v.GetString("db.name")
		user := v.GetString("db.user")
		password := v.GetString("db.password")

		var missing []string
		if host == "" {
			missing = append(missing, "APP_DB_HOST")
		}
		if name == "" {
			missing = append(missing, "APP_DB_NAME")
		}
		if user == "" {
			missing = append(missing, "APP_DB_USER")
		}
		if password == "" {
			missing = append(missing, "APP_DB_PASSWORD")
		}

		if len(missing) == 0 {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, password, host, v.GetString("db.port"), name, v.GetString("db.sslmode"))
		}
	}

	cfg.OAuth.ClientID = v.GetString("oauth.client_id")
	cfg.OAuth.ClientSecret = v.GetString("oauth.client_secret")
	cfg.OAuth.IssuerURL = v.GetString("oauth.issuer_url")
	cfg.OAuth.RedirectPath = v.GetString("oauth.redirect_path")
	cfg.OAuth.Scopes = splitList(v.GetString("oauth.scopes"))
	if len(cfg.OAuth.Scopes) == 0 {
		cfg.OAuth.Scopes = append([]string(nil), DefaultScopes...)
	}

	cfg.Session.Secret = v.GetString("session.secret")
	cfg.Session.AccessTTL = v.GetDuration("session.access_ttl")
	cfg.Session.RefreshTTL = v.GetDuration("session.refresh_ttl")
	cfg.External.Timeout = v.GetDuration("external.timeout")
	cfg.Log.Level = v.GetString("log.level")
	cfg.PrometheusEnabled = v.GetBool("prometheus_endpoint_enabled")
	cfg.TrustedProxies = splitList(v.GetString("trusted_proxies"))

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "" {
		return nil, fmt.Errorf("oauth configuration is required: client id and secret")
	}
	if !strings.HasPrefix(cfg.OAuth.RedirectPath, "/") {
		return nil, fmt.Errorf("APP_OAUTH_REDIRECT_PATH must start with '/' (got %q)", cfg.OAuth.RedirectPath)
	}
	if cfg.Session.Secret == "" {
		return nil, errors.New("APP_SESSION_SECRET is required")
	}
	if len(cfg.Session.Secret) < 32 {
		return nil, fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(cfg.Session.Secret))
	}
	if cfg.Session.AccessTTL <= 0 || cfg.Session.RefreshTTL <= 0 {
		return nil, errors.New("session ttls must be positive")
	}
	if cfg.External.Timeout <= 0 {
		return nil, errors.New("APP_EXTERNAL_TIMEOUT must be positive")
	}

	return cfg, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var result []string
	for _, item := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
