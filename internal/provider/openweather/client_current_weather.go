package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"

	"weatherfeed/internal/provider"
)

// CurrentWeather is the subset of the /data/2.5/weather payload we consume.
// Pointer fields are required by callers; nil means the provider omitted them.
type CurrentWeather struct {
	Coord struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
	Weather []Condition `json:"weather"`
	Main    struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Pressure  float64  `json:"pressure"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Visibility int `json:"visibility"`
	Wind       struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Dt  int64 `json:"dt"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
}

// Condition is one entry of the weather array.
type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Query selects the place and presentation of a current weather request.
type Query struct {
	Location provider.Location
	Units    string // metric, imperial or standard; empty lets the API default to standard
	Lang     string
}

// GetCurrentWeather retrieves current conditions for a single location.
func (c *Client) GetCurrentWeather(ctx context.Context, q Query, opts ...ClientOption) (*CurrentWeather, error) {
	var override = &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
	}
	for _, opt := range opts {
		opt(override)
	}

	query := maps.Clone(override.query)
	if q.Location.HasCoords {
		query.Set("lat", strconv.FormatFloat(q.Location.Lat, 'f', -1, 64))
		query.Set("lon", strconv.FormatFloat(q.Location.Lon, 'f', -1, 64))
	} else {
		query.Set("q", q.Location.Query)
	}
	if q.Units != "" {
		query.Set("units", q.Units)
	}
	if q.Lang != "" {
		query.Set("lang", q.Lang)
	}

	url := fmt.Sprintf("%s/data/2.5/weather?%s", override.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header
	req.Header.Set("Accept", "application/json")

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("openweather: %w", provider.ErrUnauthorized)

	case http.StatusNotFound:
		return nil, fmt.Errorf("openweather: %q: %w", q.Location.String(), provider.ErrNotFound)

	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("openweather: %w", provider.ErrRateLimited)

	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, fmt.Errorf("openweather: unexpected status code: %d: %s", res.StatusCode, string(b))
	}

	var body CurrentWeather
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, &provider.ParseError{Source: "openweather", Err: fmt.Errorf("decoding current weather response: %w", err)}
	}

	switch {
	case body.Main.Temp == nil:
		return nil, &provider.ParseError{Source: "openweather", Field: "main.temp", Err: errors.New("missing")}
	case body.Main.Humidity == nil:
		return nil, &provider.ParseError{Source: "openweather", Field: "main.humidity", Err: errors.New("missing")}
	case body.Dt <= 0:
		return nil, &provider.ParseError{Source: "openweather", Field: "dt", Err: errors.New("missing")}
	}
	return &body, nil
}
