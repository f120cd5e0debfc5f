package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/exp/slices"

	"github.com/hotelhub/roomheating-exporter/internal/rooms"
)

const (
	DefaultRefreshInterval = 30
	MinRefreshInterval     = 15
	MaxRefreshInterval     = 300
	DefaultAlertThreshold  = 10.0
	MinAlertThreshold      = 5.0
	MaxAlertThreshold      = 20.0
	DefaultBatteryWarning  = 30
	MinBatteryWarning      = 10
	MaxBatteryWarning      = 50
	DefaultBatteryCritical = 15
	MinBatteryCritical     = 5
	MaxBatteryCritical     = 30
	DefaultMetricsPort     = 9123
	DefaultMQTTTopicPrefix = "roomheating"
	CacheBackendMemory     = "memory"
	CacheBackendRedis      = "redis"
)

// ErrUnknownLocation is returned for a location id missing from the config.
var ErrUnknownLocation = errors.New("unknown location")

// LocationSettings is the per location settings record.
type LocationSettings struct {
	Enabled                bool             `mapstructure:"enabled"`
	HAURL                  string           `mapstructure:"ha_url"`
	HAToken                string           `mapstructure:"ha_token"`
	RefreshInterval        int              `mapstructure:"refresh_interval"`
	BatteryWarningPercent  int              `mapstructure:"battery_warning_percent"`
	BatteryCriticalPercent int              `mapstructure:"battery_critical_percent"`
	ShowBookingInfo        bool             `mapstructure:"show_booking_info"`
	AlertThresholdTemp     float64          `mapstructure:"alert_threshold_temp"`
	Permissions            []string         `mapstructure:"permissions"`
	Categories             []rooms.Category `mapstructure:"categories"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Config struct {
	Log struct {
		Level   string   `mapstructure:"level"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"log"`
	Metrics struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Cache struct {
		Backend string      `mapstructure:"backend"`
		Redis   RedisConfig `mapstructure:"redis"`
	} `mapstructure:"cache"`
	InfluxDB struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Token   string `mapstructure:"token"`
		Org     string `mapstructure:"org"`
		Bucket  string `mapstructure:"bucket"`
	} `mapstructure:"influxdb"`
	MQTT struct {
		Enabled     bool   `mapstructure:"enabled"`
		Broker      string `mapstructure:"broker"`
		ClientID    string `mapstructure:"client_id"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		TopicPrefix string `mapstructure:"topic_prefix"`
	} `mapstructure:"mqtt"`
	Locations map[string]LocationSettings `mapstructure:"locations"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.outputs", []string{"stdout", "roomheating_exporter.log"})
	v.SetDefault("metrics.port", DefaultMetricsPort)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "roomheating-exporter")
	v.SetDefault("mqtt.topic_prefix", DefaultMQTTTopicPrefix)
}

// Load reads the YAML file at path. A missing file is not an error, defaults
// and ROOMHEATING_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("roomheating")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := v.ReadConfig(bytes.NewBuffer(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// keys without a default are invisible to Unmarshal, read them through the env aware getters
	cfg.Log.Level = v.GetString("log.level")
	cfg.Metrics.Port = v.GetInt("metrics.port")
	cfg.Cache.Backend = v.GetString("cache.backend")
	cfg.Cache.Redis.Addr = v.GetString("cache.redis.addr")
	cfg.Cache.Redis.Password = v.GetString("cache.redis.password")
	cfg.InfluxDB.Token = v.GetString("influxdb.token")
	cfg.MQTT.Password = v.GetString("mqtt.password")

	if cfg.Cache.Backend != CacheBackendMemory && cfg.Cache.Backend != CacheBackendRedis {
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
	for id, loc := range cfg.Locations {
		cfg.Locations[id] = loc.Validate()
	}
	return cfg, nil
}

// DefaultLocationSettings mirrors a location that was never configured.
func DefaultLocationSettings() LocationSettings {
	return LocationSettings{
		RefreshInterval:        DefaultRefreshInterval,
		BatteryWarningPercent:  DefaultBatteryWarning,
		BatteryCriticalPercent: DefaultBatteryCritical,
		AlertThresholdTemp:     DefaultAlertThreshold,
	}
}

// Validate returns a sanitised copy: values are clamped to their ranges, zero
// values take defaults and a critical level that is not below warning resets both.
func (s LocationSettings) Validate() LocationSettings {
	out := s
	out.HAURL = strings.TrimRight(strings.TrimSpace(s.HAURL), "/")
	out.HAToken = strings.TrimSpace(s.HAToken)

	if out.RefreshInterval == 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	out.RefreshInterval = clamp(out.RefreshInterval, MinRefreshInterval, MaxRefreshInterval)

	if out.AlertThresholdTemp == 0 {
		out.AlertThresholdTemp = DefaultAlertThreshold
	}
	out.AlertThresholdTemp = clamp(out.AlertThresholdTemp, MinAlertThreshold, MaxAlertThreshold)

	if out.BatteryWarningPercent == 0 {
		out.BatteryWarningPercent = DefaultBatteryWarning
	}
	if out.BatteryCriticalPercent == 0 {
		out.BatteryCriticalPercent = DefaultBatteryCritical
	}
	out.BatteryWarningPercent = clamp(out.BatteryWarningPercent, MinBatteryWarning, MaxBatteryWarning)
	out.BatteryCriticalPercent = clamp(out.BatteryCriticalPercent, MinBatteryCritical, MaxBatteryCritical)
	if out.BatteryCriticalPercent >= out.BatteryWarningPercent {
		out.BatteryWarningPercent = DefaultBatteryWarning
		out.BatteryCriticalPercent = DefaultBatteryCritical
	}
	return out
}

// RefreshDuration is the snapshot cache TTL and the live update period.
func (s LocationSettings) RefreshDuration() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

// Thresholds converts the settings into aggregation limits.
func (s LocationSettings) Thresholds() rooms.Thresholds {
	return rooms.Thresholds{
		BatteryWarning:   s.BatteryWarningPercent,
		BatteryCritical:  s.BatteryCriticalPercent,
		AlertTemperature: s.AlertThresholdTemp,
	}
}

// Location returns the settings of one location.
func (c *Config) Location(id string) (LocationSettings, error) {
	loc, ok := c.Locations[id]
	if !ok {
		return LocationSettings{}, fmt.Errorf("%w: %s", ErrUnknownLocation, id)
	}
	return loc, nil
}

// LocationIDs lists configured locations in sorted order.
func (c *Config) LocationIDs() []string {
	ids := make([]string, 0, len(c.Locations))
	for id := range c.Locations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Categories implements rooms.Catalog from the categories listed in the config file.
func (c *Config) Categories(ctx context.Context, location string) ([]rooms.Category, error) {
	loc, err := c.Location(location)
	if err != nil {
		return nil, err
	}
	return loc.Categories, nil
}

func clamp[T int | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
