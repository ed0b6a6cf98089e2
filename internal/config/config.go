package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"weatherfeed/internal/feed"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type OpenWeather struct {
	APIKey                string `json:"api_key" yaml:"api_key"`
	Endpoint              string `json:"endpoint" yaml:"endpoint"`
	Location              string `json:"location" yaml:"location"`
	Units                 string `json:"units" yaml:"units"`
	Lang                  string `json:"lang" yaml:"lang"`
	TimeoutSec            int    `json:"timeout_sec" yaml:"timeout_sec"`
	Coalesce              bool   `json:"coalesce" yaml:"coalesce"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec" yaml:"min_request_interval_sec"`
	Burst                 int    `json:"burst" yaml:"burst"`
	// CacheTTLSeconds > 0 answers repeat fetches from memory without a
	// round-trip, so a refresh inside the TTL republishes the cached reading.
	CacheTTLSeconds       int    `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	CacheMaxItems         int    `json:"cache_max_items" yaml:"cache_max_items"`
}

type Schedule struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Interval     string `json:"interval" yaml:"interval"` // seconds or cron expression
	MaxRetries   int    `json:"max_retries" yaml:"max_retries"`
	RetryBaseSec int    `json:"retry_base_sec" yaml:"retry_base_sec"`
	RunOnStart   bool   `json:"run_on_start" yaml:"run_on_start"`
}

type Storage struct {
	Driver  string `json:"driver" yaml:"driver"` // memory | sqlite | redis
	DSN     string `json:"dsn" yaml:"dsn"`
	History int    `json:"history" yaml:"history"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text | json
}

type Config struct {
	Server      Server      `json:"server" yaml:"server"`
	OpenWeather OpenWeather `json:"openweather" yaml:"openweather"`
	Schedule    Schedule    `json:"schedule" yaml:"schedule"`
	Storage     Storage     `json:"storage" yaml:"storage"`
	Log         Log         `json:"log" yaml:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		OpenWeather: OpenWeather{
			Endpoint:             "https://api.openweathermap.org",
			Units:                "metric",
			Lang:                 "en",
			TimeoutSec:           10,
			MaxRequestsPerMinute: 50,
			Burst:                5,
			CacheMaxItems:        1000,
		},
		Schedule: Schedule{
			Enabled:      true,
			Interval:     "600",
			MaxRetries:   3,
			RetryBaseSec: 2,
			RunOnStart:   true,
		},
		Storage: Storage{Driver: "memory", History: 100},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// defaultPaths are tried in order when Load is given no path.
var defaultPaths = []string{"config.yaml", "config.yml", "config.json"}

// Load reads a JSON or YAML config from path, chosen by extension. If path is
// empty the first existing default file is used; if none exists the
// defaults apply. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

// FeedOptions renders the named options understood by feed.Configure.
func (c Config) FeedOptions() map[string]string {
	m := map[string]string{
		feed.OptProviderKey: c.OpenWeather.APIKey,
		feed.OptLocation:    c.OpenWeather.Location,
		feed.OptCoalesce:    strconv.FormatBool(c.OpenWeather.Coalesce),
	}
	if c.OpenWeather.Units != "" {
		m[feed.OptUnits] = c.OpenWeather.Units
	}
	if c.OpenWeather.Lang != "" {
		m[feed.OptLang] = c.OpenWeather.Lang
	}
	if c.OpenWeather.TimeoutSec > 0 {
		m[feed.OptTimeout] = (time.Duration(c.OpenWeather.TimeoutSec) * time.Second).String()
	}
	return m
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if x, ok := envInt("REQUEST_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Server.RequestTimeoutSec = x
	}

	if v := os.Getenv("OPENWEATHER_API_KEY"); v != "" {
		cfg.OpenWeather.APIKey = v
	}
	if v := os.Getenv("OPENWEATHER_ENDPOINT"); v != "" {
		cfg.OpenWeather.Endpoint = v
	}
	if v := os.Getenv("WEATHER_LOCATION"); v != "" {
		cfg.OpenWeather.Location = v
	}
	if v := os.Getenv("WEATHER_UNITS"); v != "" {
		cfg.OpenWeather.Units = v
	}
	if v := os.Getenv("WEATHER_LANG"); v != "" {
		cfg.OpenWeather.Lang = v
	}
	if x, ok := envInt("WEATHER_TIMEOUT_SEC"); ok && x > 0 {
		cfg.OpenWeather.TimeoutSec = x
	}
	if b, ok := envBool("WEATHER_COALESCE"); ok {
		cfg.OpenWeather.Coalesce = b
	}
	if x, ok := envInt("OPENWEATHER_MAX_RPM"); ok && x >= 0 {
		cfg.OpenWeather.MaxRequestsPerMinute = x
	}
	if x, ok := envInt("OPENWEATHER_MIN_INTERVAL_SEC"); ok && x >= 0 {
		cfg.OpenWeather.MinRequestIntervalSec = x
	}
	if x, ok := envInt("OPENWEATHER_BURST"); ok && x > 0 {
		cfg.OpenWeather.Burst = x
	}
	if x, ok := envInt("OPENWEATHER_CACHE_TTL_SEC"); ok && x >= 0 {
		cfg.OpenWeather.CacheTTLSeconds = x
	}
	if x, ok := envInt("OPENWEATHER_CACHE_MAX_ITEMS"); ok && x > 0 {
		cfg.OpenWeather.CacheMaxItems = x
	}

	if b, ok := envBool("SCHEDULE_ENABLED"); ok {
		cfg.Schedule.Enabled = b
	}
	if v := os.Getenv("SCHEDULE_INTERVAL"); v != "" {
		cfg.Schedule.Interval = v
	}
	if x, ok := envInt("SCHEDULE_MAX_RETRIES"); ok && x >= 0 {
		cfg.Schedule.MaxRetries = x
	}

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if x, ok := envInt("STORAGE_HISTORY"); ok && x > 0 {
		cfg.Storage.History = x
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}
