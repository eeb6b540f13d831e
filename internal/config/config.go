package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                    string
	AppEnv                     string
	AppPort                    string
	DatabaseURL                string
	AutoMigrate                bool
	RedisURL                   string
	NATSURL                    string
	RealtimeChannel            string
	JWTSecret                  string
	JWTRefreshSecret           string
	DashboardCacheTTL          time.Duration
	LockTimeout                time.Duration
	IntroTitleHeuristic        bool
	DueSoonWindow              time.Duration
	CompleteRateLimitPerMinute int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	v.SetDefault("app.name", "GEMA Progress API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("realtime.channel", "gema:realtime")
	v.SetDefault("dashboard.cache_ttl", "5m")
	v.SetDefault("progress.lock_timeout", "3s")
	v.SetDefault("progress.intro_title_heuristic", false)
	v.SetDefault("progress.due_soon_window", "72h")
	v.SetDefault("rate_limit.complete_per_minute", 30)

	ttl, err := parseDuration(v, "dashboard.cache_ttl", "5m")
	if err != nil {
		return Config{}, fmt.Errorf("invalid dashboard cache ttl: %w", err)
	}

	lockTimeout, err := parseDuration(v, "progress.lock_timeout", "3s")
	if err != nil {
		return Config{}, fmt.Errorf("invalid progress lock timeout: %w", err)
	}

	dueSoon, err := parseDuration(v, "progress.due_soon_window", "72h")
	if err != nil {
		return Config{}, fmt.Errorf("invalid due soon window: %w", err)
	}

	cfg := Config{
		AppName:                    v.GetString("app.name"),
		AppEnv:                     v.GetString("app.env"),
		AppPort:                    v.GetString("app.port"),
		DatabaseURL:                v.GetString("database.url"),
		AutoMigrate:                v.GetBool("database.auto_migrate"),
		RedisURL:                   v.GetString("redis.url"),
		NATSURL:                    v.GetString("nats.url"),
		RealtimeChannel:            v.GetString("realtime.channel"),
		JWTSecret:                  v.GetString("jwt.secret"),
		JWTRefreshSecret:           v.GetString("jwt.refresh_secret"),
		DashboardCacheTTL:          ttl,
		LockTimeout:                lockTimeout,
		IntroTitleHeuristic:        v.GetBool("progress.intro_title_heuristic"),
		DueSoonWindow:              dueSoon,
		CompleteRateLimitPerMinute: v.GetInt("rate_limit.complete_per_minute"),
	}

	if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
		return Config{}, fmt.Errorf("jwt secrets must be provided")
	}

	if cfg.CompleteRateLimitPerMinute <= 0 {
		cfg.CompleteRateLimitPerMinute = 30
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		value = fallback
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return duration, nil
}
