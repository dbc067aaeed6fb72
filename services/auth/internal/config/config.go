package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable by AUTH_CONFIG_PATH.
const ConfigPath = "config.yaml"

// Provider names accepted by the provider setting.
const (
	ProviderHosted = "hosted"
	ProviderLocal  = "local"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	// Provider selects the delegated auth backend: hosted or local.
	Provider        string `yaml:"provider"`
	HostedBaseURL   string `yaml:"hostedBaseURL"`
	HostedAPIKey    string `yaml:"hostedApiKey"`
	HostedJWKSURL   string `yaml:"hostedJwksURL"`
	HostedIssuer    string `yaml:"hostedIssuer"`
	HostedAudience  string `yaml:"hostedAudience"`
	ProviderTimeout string `yaml:"providerTimeout"`

	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`
	SessionTTL          string `yaml:"sessionTTL"`
	RefreshTTL          string `yaml:"refreshTTL"`

	AuditTimeout            string   `yaml:"auditTimeout"`
	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxies          []string `yaml:"trustedProxies"`
	DeskIdleTTL             string   `yaml:"deskIdleTTL"`
	SecureCookies           bool     `yaml:"secureCookies"`
}

// Load reads config from path (defaults to AUTH_CONFIG_PATH, then config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("AUTH_CONFIG_PATH")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.Provider, "AUTH_PROVIDER")
	overrideString(&cfg.HostedBaseURL, "AUTH_HOSTED_BASE_URL")
	overrideString(&cfg.HostedAPIKey, "AUTH_HOSTED_API_KEY")
	overrideString(&cfg.HostedJWKSURL, "AUTH_HOSTED_JWKS_URL")
	overrideString(&cfg.HostedIssuer, "AUTH_HOSTED_ISSUER")
	overrideString(&cfg.HostedAudience, "AUTH_HOSTED_AUDIENCE")
	overrideString(&cfg.ProviderTimeout, "AUTH_PROVIDER_TIMEOUT")
	overrideString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	overrideString(&cfg.JWTKeyID, "JWT_KEY_ID")
	overrideString(&cfg.JWTVerifyPublicKeys, "JWT_VERIFY_PUBLIC_KEYS")
	overrideString(&cfg.JWTIssuer, "JWT_ISSUER")
	overrideString(&cfg.JWTAudience, "JWT_AUDIENCE")
	overrideString(&cfg.JWTLeeway, "JWT_LEEWAY")
	overrideString(&cfg.SessionTTL, "AUTH_SESSION_TTL")
	overrideString(&cfg.RefreshTTL, "AUTH_REFRESH_TTL")
	overrideString(&cfg.AuditTimeout, "AUTH_AUDIT_TIMEOUT")
	overrideString(&cfg.DeskIdleTTL, "AUTH_DESK_IDLE_TTL")
	if v := os.Getenv("AUTH_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("AUTH_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("AUTH_SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SecureCookies = b
		}
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = ProviderLocal
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting and alerts")
	}
	switch cfg.Provider {
	case ProviderHosted:
		if strings.TrimSpace(cfg.HostedBaseURL) == "" {
			return errors.New("config: hostedBaseURL is required for the hosted provider")
		}
	case ProviderLocal:
		if cfg.JWTPrivateKeyPath == "" {
			return errors.New("config: jwtPrivateKeyPath is required for the local provider (set JWT_PRIVATE_KEY_PATH)")
		}
	default:
		return fmt.Errorf("config: unknown provider %q (want hosted or local)", cfg.Provider)
	}
	if cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: loginRateLimitPerMinute must be >= 0")
	}
	for name, raw := range map[string]string{
		"providerTimeout": cfg.ProviderTimeout,
		"auditTimeout":    cfg.AuditTimeout,
		"sessionTTL":      cfg.SessionTTL,
		"refreshTTL":      cfg.RefreshTTL,
		"jwtLeeway":       cfg.JWTLeeway,
		"deskIdleTTL":     cfg.DeskIdleTTL,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseDuration parses an optional non-negative duration setting. Empty
// input yields zero, which callers treat as "use the default".
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		kid := strings.TrimSpace(parts[0])
		path := strings.TrimSpace(parts[1])
		if kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
