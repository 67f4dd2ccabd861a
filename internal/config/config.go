// Package config loads dramabot settings from defaults, an optional YAML
// file, .env files and DRAMABOT_* environment variables, in increasing order
// of precedence. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. DRAMABOT_ADDR
const EnvPrefix = "DRAMABOT"

// Config holds the application configuration
type Config struct {
	// ConfigFile is the config file that was read, empty if none
	ConfigFile string

	DBPath       string
	CatalogPaths []string
	Addr         string
	AdminToken   string
	RulesFile    string

	RateLimit RateLimitConfig
	Fetch     FetchConfig
	S3        S3Config
	Log       LogConfig
}

// RateLimitConfig limits requests per client address. PerMinute 0 disables it.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
	// TrustForwardedFor keys clients on X-Forwarded-For instead of the peer
	TrustForwardedFor bool
}

// FetchConfig controls remote catalog downloads
type FetchConfig struct {
	Token    string
	Timeout  time.Duration
	MaxBytes int64
}

// S3Config points at the bucket catalogs are fetched from and published to
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Key       string
}

// Enabled reports whether an object store is configured
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// LogConfig mirrors logging.Config
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultDBPath is ~/.dramabot/dramabot.db, or ./dramabot.db without a home
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dramabot.db"
	}
	return filepath.Join(home, ".dramabot", "dramabot.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", DefaultDBPath())
	v.SetDefault("catalog.paths", []string{"./config/catalog.csv", "./catalog.csv"})
	v.SetDefault("addr", ":8080")
	v.SetDefault("admin_token", "")
	v.SetDefault("rules_file", "")

	v.SetDefault("rate_limit.per_minute", 120)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.trust_forwarded_for", false)

	v.SetDefault("fetch.token", "")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_bytes", 5*1024*1024)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.key", "catalog.csv")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.output", "stderr")
}

// Load reads the configuration. configFile, when set, must exist; otherwise
// .dramabot.yaml is looked up in the home and working directories and
// silently skipped when absent.
func Load(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".dramabot")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		ConfigFile:   v.ConfigFileUsed(),
		DBPath:       v.GetString("db"),
		CatalogPaths: splitList(v.GetStringSlice("catalog.paths")),
		Addr:         v.GetString("addr"),
		AdminToken:   v.GetString("admin_token"),
		RulesFile:    v.GetString("rules_file"),
		RateLimit: RateLimitConfig{
			PerMinute: v.GetInt("rate_limit.per_minute"),
			Burst:     v.GetInt("rate_limit.burst"),

			TrustForwardedFor: v.GetBool("rate_limit.trust_forwarded_for"),
		},
		Fetch: FetchConfig{
			Token:    v.GetString("fetch.token"),
			Timeout:  v.GetDuration("fetch.timeout"),
			MaxBytes: v.GetInt64("fetch.max_bytes"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("s3.endpoint"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
			Bucket:    v.GetString("s3.bucket"),
			Region:    v.GetString("s3.region"),
			UseSSL:    v.GetBool("s3.use_ssl"),
			Key:       v.GetString("s3.key"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can work with
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if len(c.CatalogPaths) == 0 {
		return fmt.Errorf("at least one catalog path is required")
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch max bytes must be positive")
	}
	return nil
}

// loadEnvFiles loads .env then .env.local. Variables already set win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// splitList accepts both YAML lists and comma separated env values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
