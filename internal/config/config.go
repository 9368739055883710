// Package config loads settings for the fleet binaries from a .env file,
// an optional YAML file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/ukydev/fleet-dispatch/internal/planner"
)

// Config holds every setting. Keys nest with dots in YAML and with
// underscores in the environment (mongo.uri is MONGO_URI).
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	API       APIConfig       `mapstructure:"api"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	OSRM      OSRMConfig      `mapstructure:"osrm"`
	Planner   planner.Config  `mapstructure:"planner"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
}

// MongoConfig selects the backend store. An empty URI keeps everything in
// memory.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// APIConfig is how the console, the views and the simulator reach fleetd.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig enables the shared route cache when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MQTTConfig enables the MQTT route event bridge when Broker is set.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// AMQPConfig enables the AMQP route event exchange when URL is set.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// OptimizerConfig points full-fleet optimization at an external engine.
// Without a URL the built-in greedy assignment is used.
type OptimizerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OSRMConfig makes route paths follow roads when URL is set.
type OSRMConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	FleetTTL     time.Duration `mapstructure:"fleet_ttl"`
	FlagInterval time.Duration `mapstructure:"flag_interval"`
	DriverPoll   time.Duration `mapstructure:"driver_poll"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]interface{}{
	"server.port":               "8080",
	"server.read_timeout":       "15s",
	"server.write_timeout":      "30s",
	"server.shutdown_timeout":   "10s",
	"server.rate_limit":         300,
	"server.rate_window":        "1m",
	"mongo.uri":                 "",
	"mongo.database":            "fleet",
	"api.base_url":              "http://localhost:8080",
	"api.token":                 "",
	"api.timeout":               "10s",
	"redis.addr":                "",
	"redis.password":            "",
	"redis.db":                  0,
	"redis.prefix":              "fleet:",
	"mqtt.broker":               "",
	"mqtt.client_id":            "",
	"mqtt.topic_prefix":         "fleet/routes",
	"amqp.url":                  "",
	"amqp.exchange":             "fleet.routes",
	"optimizer.url":             "",
	"optimizer.timeout":         "60s",
	"osrm.url":                  "",
	"planner.average_speed_kmh": planner.DefaultConfig().AverageSpeedKmh,
	"planner.service_minutes":   planner.DefaultConfig().ServiceMinutes,
	"planner.return_to_depot":   planner.DefaultConfig().ReturnToDepot,
	"cache.fleet_ttl":           "2m",
	"cache.flag_interval":       "2s",
	"cache.driver_poll":         "30s",
	"log.level":                 "info",
	"log.format":                "text",
}

// Short environment names kept for existing deployments.
var aliases = map[string][]string{
	"server.port":    {"PORT"},
	"mongo.database": {"MONGO_DB"},
	"api.token":      {"SIM_AUTH_TOKEN"},
}

// Load reads .env from the working directory when present, then the YAML
// file at path (or ./fleet.yaml when path is empty and the file exists),
// then the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range aliases {
		if err := v.BindEnv(append([]string{key, envName(key)}, names...)...); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("fleet")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate rejects settings the binaries cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port == "":
		return fmt.Errorf("server.port is required")
	case c.Planner.AverageSpeedKmh <= 0:
		return fmt.Errorf("planner.average_speed_kmh must be positive")
	case c.Planner.ServiceMinutes < 0:
		return fmt.Errorf("planner.service_minutes must not be negative")
	case c.Cache.FleetTTL <= 0 || c.Cache.FlagInterval <= 0 || c.Cache.DriverPoll <= 0:
		return fmt.Errorf("cache intervals must be positive")
	case c.Server.RateLimit < 0:
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	return nil
}
