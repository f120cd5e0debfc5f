package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
  outputs: [stdout]
metrics:
  port: 9200
influxdb:
  enabled: true
  host: http://influx:8086
  org: hotels
  bucket: heating
locations:
  seaside:
    enabled: true
    ha_url: "http://ha.local:8123/ "
    ha_token: " secret "
    refresh_interval: 5
    battery_warning_percent: 25
    battery_critical_percent: 10
    show_booking_info: true
    alert_threshold_temp: 12.5
    permissions: [heating_view]
    categories:
      - id: 1
        name: Standard
        order: 1
        sites:
          - site_id: 11
            site_name: Room 101
            order: 2
          - site_id: 12
            site_name: Room 102
            excluded: true
  alpine:
    ha_url: http://alpine:8123
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.True(t, cfg.InfluxDB.Enabled)
	assert.Equal(t, "heating", cfg.InfluxDB.Bucket)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, DefaultMQTTTopicPrefix, cfg.MQTT.TopicPrefix)

	assert.Equal(t, []string{"alpine", "seaside"}, cfg.LocationIDs())

	loc, err := cfg.Location("seaside")
	require.NoError(t, err)
	assert.True(t, loc.Enabled)
	assert.Equal(t, "http://ha.local:8123", loc.HAURL)
	assert.Equal(t, "secret", loc.HAToken)
	assert.Equal(t, MinRefreshInterval, loc.RefreshInterval)
	assert.Equal(t, 25, loc.BatteryWarningPercent)
	assert.Equal(t, 10, loc.BatteryCriticalPercent)
	assert.True(t, loc.ShowBookingInfo)
	assert.Equal(t, 12.5, loc.AlertThresholdTemp)
	assert.Equal(t, []string{"heating_view"}, loc.Permissions)
	assert.Equal(t, 15*time.Second, loc.RefreshDuration())

	require.Len(t, loc.Categories, 1)
	cat := loc.Categories[0]
	assert.Equal(t, "1", cat.ID)
	assert.Equal(t, "Standard", cat.Name)
	require.Len(t, cat.Sites, 2)
	assert.Equal(t, "11", cat.Sites[0].ID)
	assert.Equal(t, "Room 101", cat.Sites[0].Name)
	assert.True(t, cat.Sites[1].Excluded)

	alpine, err := cfg.Location("alpine")
	require.NoError(t, err)
	assert.False(t, alpine.Enabled)
	assert.Equal(t, DefaultRefreshInterval, alpine.RefreshInterval)
	assert.Equal(t, DefaultAlertThreshold, alpine.AlertThresholdTemp)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultMetricsPort, cfg.Metrics.Port)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
	assert.Empty(t, cfg.LocationIDs())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ROOMHEATING_METRICS_PORT", "9999")
	t.Setenv("ROOMHEATING_CACHE_BACKEND", "redis")
	t.Setenv("ROOMHEATING_INFLUXDB_TOKEN", "from-env")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Metrics.Port)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "from-env", cfg.InfluxDB.Token)
}

func TestLoad_RejectsUnknownCacheBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "cache:\n  backend: memcached\n"))
	assert.ErrorContains(t, err, "memcached")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "locations: [\n"))
	assert.Error(t, err)
}

func TestValidate_Clamping(t *testing.T) {
	s := LocationSettings{
		RefreshInterval:        1000,
		AlertThresholdTemp:     1,
		BatteryWarningPercent:  80,
		BatteryCriticalPercent: 2,
	}.Validate()

	assert.Equal(t, MaxRefreshInterval, s.RefreshInterval)
	assert.Equal(t, MinAlertThreshold, s.AlertThresholdTemp)
	assert.Equal(t, MaxBatteryWarning, s.BatteryWarningPercent)
	assert.Equal(t, MinBatteryCritical, s.BatteryCriticalPercent)
}

func TestValidate_CriticalNotBelowWarningResetsBoth(t *testing.T) {
	s := LocationSettings{BatteryWarningPercent: 20, BatteryCriticalPercent: 25}.Validate()
	assert.Equal(t, DefaultBatteryWarning, s.BatteryWarningPercent)
	assert.Equal(t, DefaultBatteryCritical, s.BatteryCriticalPercent)

	s = LocationSettings{BatteryWarningPercent: 20, BatteryCriticalPercent: 20}.Validate()
	assert.Equal(t, DefaultBatteryWarning, s.BatteryWarningPercent)
	assert.Equal(t, DefaultBatteryCritical, s.BatteryCriticalPercent)
}

func TestDefaultLocationSettings(t *testing.T) {
	s := DefaultLocationSettings()
	assert.Equal(t, s, s.Validate())

	th := s.Thresholds()
	assert.Equal(t, DefaultBatteryWarning, th.BatteryWarning)
	assert.Equal(t, DefaultBatteryCritical, th.BatteryCritical)
	assert.Equal(t, DefaultAlertThreshold, th.AlertTemperature)
}

func TestLocationAndCategories(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	_, err = cfg.Location("nowhere")
	assert.ErrorIs(t, err, ErrUnknownLocation)

	cats, err := cfg.Categories(context.Background(), "seaside")
	require.NoError(t, err)
	assert.Len(t, cats, 1)

	_, err = cfg.Categories(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrUnknownLocation)
}
