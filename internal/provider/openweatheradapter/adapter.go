package openweatheradapter

import (
	"context"
	"strings"
	"time"

	"weatherfeed/internal/provider"
	"weatherfeed/internal/provider/openweather"
)

type Config struct {
	Name string // display name, default: OpenWeather
	Lang string // description language when the query has none, default: en
}

// CurrentWeatherGetter is the part of *openweather.Client the adapter needs.
type CurrentWeatherGetter interface {
	GetCurrentWeather(ctx context.Context, q openweather.Query, opts ...openweather.ClientOption) (*openweather.CurrentWeather, error)
}

// Adapter exposes the OpenWeather client as a provider.Provider.
// It always requests metric units; presentation units are applied later.
type Adapter struct {
	cfg    Config
	client CurrentWeatherGetter
}

func New(cfg Config, client CurrentWeatherGetter) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "OpenWeather"
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return a.cfg.Name }

// Fetch requests q.Location in metric units. q.Lang overrides the
// configured language when set.
func (a *Adapter) Fetch(ctx context.Context, q provider.Query) (provider.Reading, error) {
	lang := a.cfg.Lang
	if q.Lang != "" {
		lang = q.Lang
	}
	cw, err := a.client.GetCurrentWeather(ctx, openweather.Query{
		Location: q.Location,
		Units:    string(provider.Metric),
		Lang:     lang,
	})
	if err != nil {
		return provider.Reading{}, err
	}

	r := provider.Reading{
		Location:     cw.Name,
		Country:      cw.Sys.Country,
		Latitude:     cw.Coord.Lat,
		Longitude:    cw.Coord.Lon,
		TemperatureC: *cw.Main.Temp,
		HumidityPct:  *cw.Main.Humidity,
		PressureHPa:  cw.Main.Pressure,
		WindSpeedMS:  cw.Wind.Speed,
		WindDeg:      cw.Wind.Deg,
		CloudPct:     cw.Clouds.All,
		Source:       a.cfg.Name,
		ObservedAt:   time.Unix(cw.Dt, 0).UTC(),
		Sunrise:      unixOrZero(cw.Sys.Sunrise),
		Sunset:       unixOrZero(cw.Sys.Sunset),
	}
	r.FeelsLikeC = r.TemperatureC
	if cw.Main.FeelsLike != nil {
		r.FeelsLikeC = *cw.Main.FeelsLike
	}
	if r.Location == "" {
		r.Location = q.Location.String()
	}
	// The first entry is the primary condition.
	if len(cw.Weather) > 0 {
		r.Condition = cw.Weather[0].Main
		r.Description = strings.TrimSpace(cw.Weather[0].Description)
		r.Icon = cw.Weather[0].Icon
	}
	return r, nil
}

func unixOrZero(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
