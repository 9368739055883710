package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Cache.FleetTTL)
	assert.Equal(t, 2*time.Second, cfg.Cache.FlagInterval)
	assert.Equal(t, 30*time.Second, cfg.Cache.DriverPoll)
	assert.Equal(t, 40.0, cfg.Planner.AverageSpeedKmh)
	assert.True(t, cfg.Planner.ReturnToDepot)
	assert.Equal(t, "fleet", cfg.Mongo.Database)
	assert.Equal(t, "fleet.routes", cfg.AMQP.Exchange)
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("MONGO_DB", "dispatch")
	t.Setenv("PORT", "9090")
	t.Setenv("API_BASE_URL", "http://fleetd:9090")
	t.Setenv("CACHE_FLEET_TTL", "45s")
	t.Setenv("PLANNER_AVERAGE_SPEED_KMH", "25")
	t.Setenv("SERVER_RATE_LIMIT", "20")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, "dispatch", cfg.Mongo.Database)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "http://fleetd:9090", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Cache.FleetTTL)
	assert.Equal(t, 25.0, cfg.Planner.AverageSpeedKmh)
	assert.Equal(t, 20, cfg.Server.RateLimit)
}

func TestLoadFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "redis:\n  addr: localhost:6379\nmqtt:\n  broker: tcp://localhost:1883\nlog:\n  level: debug\n  format: json\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fleet.yaml"), []byte(yaml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OSRM_URL=http://osrm:5000\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OSRM_URL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "http://osrm:5000", cfg.OSRM.URL)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PLANNER_AVERAGE_SPEED_KMH", "0")
	_, err := Load("")
	assert.Error(t, err)
}
