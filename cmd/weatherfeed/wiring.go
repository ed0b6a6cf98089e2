package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"weatherfeed/internal/config"
	"weatherfeed/internal/httpx"
	"weatherfeed/internal/provider"
	"weatherfeed/internal/provider/cache"
	"weatherfeed/internal/provider/openweather"
	"weatherfeed/internal/provider/openweatheradapter"
	"weatherfeed/internal/provider/ratelimit"
)

func newLogger(c config.Log, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Level))); err != nil && c.Level != "" {
		return nil, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.Format)
}

// buildProvider assembles client -> adapter -> rate limit -> cache.
func buildProvider(cfg config.Config) (provider.Provider, error) {
	ow := cfg.OpenWeather
	timeout := time.Duration(ow.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := httpx.New(timeout)

	opts := []openweather.ClientOption{openweather.WithHTTPClient(httpClient)}
	if ow.Endpoint != "" {
		opts = append(opts, openweather.WithBaseURL(strings.TrimRight(ow.Endpoint, "/")))
	}
	client, err := openweather.NewClient(ow.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("openweather client: %w", err)
	}

	var p provider.Provider = openweatheradapter.New(openweatheradapter.Config{Name: "OpenWeather", Lang: ow.Lang}, client)
	p = ratelimit.Wrap(p, ratelimit.Limits{
		MaxRequestsPerMinute: ow.MaxRequestsPerMinute,
		Burst:                ow.Burst,
		MinInterval:          time.Duration(ow.MinRequestIntervalSec) * time.Second,
	})
	if ow.CacheTTLSeconds > 0 {
		p = &cache.Provider{P: p, TTL: time.Duration(ow.CacheTTLSeconds) * time.Second, MaxItems: ow.CacheMaxItems}
	}
	return p, nil
}
