package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	v.Set("jwt.secret", "secret")
	v.Set("jwt.refresh_secret", "refresh")

	cfg, err := fromViper(v)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 5*time.Minute, cfg.DashboardCacheTTL)
	require.Equal(t, 3*time.Second, cfg.LockTimeout)
	require.Equal(t, 72*time.Hour, cfg.DueSoonWindow)
	require.Equal(t, 30, cfg.CompleteRateLimitPerMinute)
	require.Equal(t, "gema:realtime", cfg.RealtimeChannel)
	require.False(t, cfg.IntroTitleHeuristic)
	require.False(t, cfg.AutoMigrate)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	v.Set("jwt.secret", "secret")
	v.Set("jwt.refresh_secret", "refresh")
	v.Set("app.port", ":9090")
	v.Set("progress.lock_timeout", "750ms")
	v.Set("progress.intro_title_heuristic", true)
	v.Set("rate_limit.complete_per_minute", 5)

	cfg, err := fromViper(v)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	require.True(t, cfg.IntroTitleHeuristic)
	require.Equal(t, 5, cfg.CompleteRateLimitPerMinute)
}

func TestFromViperRejectsInvalidValues(t *testing.T) {
	v := viper.New()
	v.Set("jwt.secret", "secret")
	_, err := fromViper(v)
	require.Error(t, err)

	v = viper.New()
	v.Set("jwt.secret", "secret")
	v.Set("jwt.refresh_secret", "refresh")
	v.Set("progress.lock_timeout", "soon")
	_, err = fromViper(v)
	require.ErrorContains(t, err, "lock timeout")
}
