package aggregate

import (
	"errors"
	"math"
	"strings"
	"time"

	"weatherfeed/internal/provider"
)

// Observation is a Reading converted into presentation units, with derived
// values the UI would otherwise have to compute.
type Observation struct {
	Location    string         `json:"location"`
	Country     string         `json:"country,omitempty"`
	Latitude    float64        `json:"lat"`
	Longitude   float64        `json:"lon"`
	Units       provider.Units `json:"units"`
	Temperature float64        `json:"temperature"`
	FeelsLike   float64        `json:"feels_like"`
	DewPoint    *float64       `json:"dew_point,omitempty"`
	TempUnit    string         `json:"temperature_unit"`
	Humidity    float64        `json:"humidity_pct"`
	PressureHPa float64        `json:"pressure_hpa"`
	WindSpeed   float64        `json:"wind_speed"`
	SpeedUnit   string         `json:"wind_speed_unit"`
	WindFrom    string         `json:"wind_from"`
	Beaufort    int            `json:"beaufort"`
	Cloudiness  float64        `json:"cloud_pct"`
	Condition   string         `json:"condition"`
	Description string         `json:"description"`
	Icon        string         `json:"icon,omitempty"`
	Daylight    bool           `json:"daylight"`
	Source      string         `json:"source"`
	ObservedAt  time.Time      `json:"observed_at"`
}

// conditionAliases folds provider condition names onto a small set of
// categories. Keys are lower-cased.
//
//	clear                                  -> clear
//	clouds, overcast                       -> clouds
//	rain, drizzle, shower rain             -> rain
//	thunderstorm, squall, tornado          -> storm
//	snow, sleet                            -> snow
//	mist, fog, haze, smoke, dust, sand, ash -> fog
var conditionAliases = map[string]string{
	"clear":        "clear",
	"sunny":        "clear",
	"clouds":       "clouds",
	"cloudy":       "clouds",
	"overcast":     "clouds",
	"rain":         "rain",
	"drizzle":      "rain",
	"shower rain":  "rain",
	"thunderstorm": "storm",
	"squall":       "storm",
	"tornado":      "storm",
	"snow":         "snow",
	"sleet":        "snow",
	"mist":         "fog",
	"fog":          "fog",
	"haze":         "fog",
	"smoke":        "fog",
	"dust":         "fog",
	"sand":         "fog",
	"ash":          "fog",
}

// NormalizeCondition maps a provider condition onto a category. Unknown
// values are lower-cased and passed through; empty input yields "unknown".
func NormalizeCondition(s string) string {
	k := strings.ToLower(strings.TrimSpace(s))
	if k == "" {
		return "unknown"
	}
	if v, ok := conditionAliases[k]; ok {
		return v
	}
	return k
}

// Normalize validates r and converts it into units.
func Normalize(r provider.Reading, units provider.Units) (Observation, error) {
	if units == "" {
		units = provider.Metric
	}
	if err := validate(r); err != nil {
		return Observation{}, err
	}

	o := Observation{
		Location:    r.Location,
		Country:     r.Country,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Units:       units,
		Temperature: round(units.Temperature(r.TemperatureC), 2),
		FeelsLike:   round(units.Temperature(r.FeelsLikeC), 2),
		TempUnit:    units.TemperatureSymbol(),
		Humidity:    r.HumidityPct,
		PressureHPa: r.PressureHPa,
		WindSpeed:   round(units.Speed(r.WindSpeedMS), 2),
		SpeedUnit:   units.SpeedSymbol(),
		WindFrom:    Compass(r.WindDeg),
		Beaufort:    Beaufort(r.WindSpeedMS),
		Cloudiness:  r.CloudPct,
		Condition:   NormalizeCondition(r.Condition),
		Description: r.Description,
		Icon:        r.Icon,
		Source:      r.Source,
		ObservedAt:  r.ObservedAt.UTC(),
	}
	if dp, ok := DewPoint(r.TemperatureC, r.HumidityPct); ok {
		v := round(units.Temperature(dp), 2)
		o.DewPoint = &v
	}
	if !r.Sunrise.IsZero() && !r.Sunset.IsZero() {
		o.Daylight = !r.ObservedAt.Before(r.Sunrise) && r.ObservedAt.Before(r.Sunset)
	}
	return o, nil
}

func validate(r provider.Reading) error {
	src := r.Source
	if src == "" {
		src = "reading"
	}
	fields := []struct {
		name string
		v    float64
	}{
		{"temperature", r.TemperatureC},
		{"feels_like", r.FeelsLikeC},
		{"humidity", r.HumidityPct},
		{"pressure", r.PressureHPa},
		{"wind_speed", r.WindSpeedMS},
		{"wind_deg", r.WindDeg},
		{"clouds", r.CloudPct},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &provider.ParseError{Source: src, Field: f.name, Err: errors.New("not a finite number")}
		}
	}
	switch {
	case r.HumidityPct < 0 || r.HumidityPct > 100:
		return &provider.ParseError{Source: src, Field: "humidity", Err: errors.New("out of range 0..100")}
	case r.CloudPct < 0 || r.CloudPct > 100:
		return &provider.ParseError{Source: src, Field: "clouds", Err: errors.New("out of range 0..100")}
	case r.WindSpeedMS < 0:
		return &provider.ParseError{Source: src, Field: "wind_speed", Err: errors.New("negative")}
	case r.TemperatureC < -273.15:
		return &provider.ParseError{Source: src, Field: "temperature", Err: errors.New("below absolute zero")}
	case r.ObservedAt.IsZero():
		return &provider.ParseError{Source: src, Field: "observed_at", Err: errors.New("missing")}
	}
	return nil
}

// DewPoint returns the Magnus-formula dew point in Celsius. It reports false
// when humidity is zero, where the formula is undefined.
func DewPoint(tempC, humidityPct float64) (float64, bool) {
	if humidityPct <= 0 {
		return 0, false
	}
	const a, b = 17.62, 243.12
	gamma := math.Log(humidityPct/100) + a*tempC/(b+tempC)
	return b * gamma / (a - gamma), true
}

// beaufortLimits are upper bounds in m/s for forces 0..11; anything above is 12.
var beaufortLimits = [...]float64{0.5, 1.6, 3.4, 5.5, 8.0, 10.8, 13.9, 17.2, 20.8, 24.5, 28.5, 32.7}

// Beaufort maps a wind speed in m/s onto the Beaufort scale.
func Beaufort(ms float64) int {
	for i, lim := range beaufortLimits {
		if ms < lim {
			return i
		}
	}
	return len(beaufortLimits)
}

var compassPoints = [...]string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE", "S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}

// Compass names the 16-point direction the wind blows from.
func Compass(deg float64) string {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return compassPoints[int(math.Floor(d/22.5+0.5))%len(compassPoints)]
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
