package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reading is the normalized shape returned by all providers.
// Values are always metric: Celsius, metres per second, hectopascals.
type Reading struct {
	Location     string    `json:"location"`
	Country      string    `json:"country,omitempty"`
	Latitude     float64   `json:"lat"`
	Longitude    float64   `json:"lon"`
	TemperatureC float64   `json:"temperature_c"`
	FeelsLikeC   float64   `json:"feels_like_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	PressureHPa  float64   `json:"pressure_hpa"`
	WindSpeedMS  float64   `json:"wind_speed_ms"`
	WindDeg      float64   `json:"wind_deg"`
	CloudPct     float64   `json:"cloud_pct"`
	Condition    string    `json:"condition"`
	Description  string    `json:"description"`
	Icon         string    `json:"icon,omitempty"`
	Sunrise      time.Time `json:"sunrise,omitzero"`
	Sunset       time.Time `json:"sunset,omitzero"`
	Source       string    `json:"source"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Provider is a source of weather readings.
//
//go:generate mockgen -package=feed_test -destination=../feed/mock_provider_test.go -source=provider.go Provider
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Reading, error)
}

// Query is one request for current conditions. Lang selects the language of
// textual descriptions; empty leaves it to the provider.
type Query struct {
	Location Location
	Lang     string
}

// Key identifies the query for caching: location plus language.
func (q Query) Key() string {
	return q.Location.Key() + "|" + strings.ToLower(q.Lang)
}

// Location is either a free-form place query ("Cape Town,ZA") or a coordinate pair.
type Location struct {
	Query     string  `json:"query,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	HasCoords bool    `json:"has_coords,omitempty"`
}

// ParseLocation accepts "lat,lon" or a place name.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, errors.New("empty location")
	}
	if lat, lon, ok := strings.Cut(s, ","); ok {
		la, errLat := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		lo, errLon := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if errLat == nil && errLon == nil {
			if la < -90 || la > 90 || lo < -180 || lo > 180 {
				return Location{}, fmt.Errorf("coordinates out of range: %s", s)
			}
			return Location{Lat: la, Lon: lo, HasCoords: true}, nil
		}
	}
	return Location{Query: s}, nil
}

// Key is a stable identifier used for caching and persistence.
func (l Location) Key() string {
	if l.HasCoords {
		return strconv.FormatFloat(l.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(l.Lon, 'f', 4, 64)
	}
	return strings.ToLower(strings.TrimSpace(l.Query))
}

func (l Location) String() string {
	if l.HasCoords {
		return strconv.FormatFloat(l.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(l.Lon, 'f', -1, 64)
	}
	return l.Query
}
