package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Redis     RedisConfig             `mapstructure:"redis"`
	Postgres  PostgresConfig          `mapstructure:"postgres"`
	Admission AdmissionConfig         `mapstructure:"admission"`
	Recorder  RecorderConfig          `mapstructure:"recorder"`
	Metrics   MetricsConfig           `mapstructure:"metrics"`
	Tiers     []models.TierPolicy     `mapstructure:"tiers"`
	Endpoints []models.EndpointPolicy `mapstructure:"endpoints"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AdmissionConfig struct {
	// FailOpen decides what happens when the atomic counter store is
	// unreachable during a rate check: allow the request (true) or
	// reject with 503 (false). Default false.
	FailOpen      bool          `mapstructure:"fail_open"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RecorderConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads the config file at path (optional; defaults apply when it
// is absent) with ADMISSION_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ADMISSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.dsn", "host=localhost user=admission password=admission dbname=admission port=5432 sslmode=disable")
	v.SetDefault("admission.fail_open", false)
	v.SetDefault("admission.sweep_interval", "1m")
	v.SetDefault("recorder.buffer_size", 1024)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// DefaultTiers is the built-in policy table, applied when the config
// file does not define one. The free tier doubles as the fallback for
// unknown tiers.
func DefaultTiers() []models.TierPolicy {
	return []models.TierPolicy{
		{
			Name:                  models.TierFree,
			RequestsPerWindow:     100,
			WindowDuration:        time.Hour,
			DailyQuota:            1000,
			MonthlyQuota:          10000,
			MaxConcurrentRequests: 5,
			BurstLimitPerMinute:   20,
		},
		{
			Name:                  models.TierBasic,
			RequestsPerWindow:     1000,
			WindowDuration:        time.Hour,
			DailyQuota:            10000,
			MonthlyQuota:          100000,
			MaxConcurrentRequests: 20,
			BurstLimitPerMinute:   60,
		},
		{
			Name:                  models.TierPro,
			RequestsPerWindow:     5000,
			WindowDuration:        time.Hour,
			DailyQuota:            50000,
			MonthlyQuota:          1000000,
			MaxConcurrentRequests: 50,
			BurstLimitPerMinute:   120,
		},
		{
			Name:                  models.TierEnterprise,
			RequestsPerWindow:     20000,
			WindowDuration:        time.Hour,
			DailyQuota:            200000,
			MonthlyQuota:          5000000,
			MaxConcurrentRequests: 200,
			BurstLimitPerMinute:   300,
		},
		{
			Name:                  models.TierUnlimited,
			RequestsPerWindow:     models.NoLimit,
			WindowDuration:        time.Hour,
			DailyQuota:            models.NoLimit,
			MonthlyQuota:          models.NoLimit,
			MaxConcurrentRequests: models.NoLimit,
			BurstLimitPerMinute:   models.NoLimit,
		},
	}
}
