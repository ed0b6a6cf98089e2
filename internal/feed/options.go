package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"weatherfeed/internal/provider"
)

// Option names accepted by Configure.
const (
	OptProviderKey = "providerKey"
	OptLocation    = "location"
	OptUnits       = "units"
	OptLang        = "lang"
	OptTimeout     = "timeout"
	OptCoalesce    = "coalesce"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultLang    = "en"
)

var (
	keyPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)
	langPattern = regexp.MustCompile(`^[a-z]{2}(_[a-z]{2})?$`)
)

// Options fix a Service's behavior for its lifetime.
type Options struct {
	ProviderKey string
	Location    provider.Location
	Units       provider.Units
	Lang        string
	Timeout     time.Duration
	// Coalesce lets concurrent Refresh callers share one in-flight round-trip.
	Coalesce bool
}

// ParseOptions builds Options from named string values.
func ParseOptions(m map[string]string) (Options, error) {
	var unknown []string
	for k := range m {
		switch k {
		case OptProviderKey, OptLocation, OptUnits, OptLang, OptTimeout, OptCoalesce:
		default:
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Options{}, &ConfigurationError{Field: unknown[0], Reason: "unknown option"}
	}

	var o Options
	o.ProviderKey = strings.TrimSpace(m[OptProviderKey])
	if v, ok := m[OptLocation]; ok && strings.TrimSpace(v) != "" {
		loc, err := provider.ParseLocation(v)
		if err != nil {
			return Options{}, &ConfigurationError{Field: OptLocation, Reason: err.Error()}
		}
		o.Location = loc
	}
	units, err := provider.ParseUnits(m[OptUnits])
	if err != nil {
		return Options{}, &ConfigurationError{Field: OptUnits, Reason: err.Error()}
	}
	o.Units = units
	o.Lang = strings.ToLower(strings.TrimSpace(m[OptLang]))
	if v := strings.TrimSpace(m[OptTimeout]); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Options{}, &ConfigurationError{Field: OptTimeout, Reason: err.Error()}
		}
		o.Timeout = d
	}
	if v := strings.TrimSpace(m[OptCoalesce]); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, &ConfigurationError{Field: OptCoalesce, Reason: "not a boolean"}
		}
		o.Coalesce = b
	}
	o = o.withDefaults()
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

func (o Options) withDefaults() Options {
	if o.Units == "" {
		o.Units = provider.Metric
	}
	if o.Lang == "" {
		o.Lang = DefaultLang
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Validate reports the first missing or malformed option.
func (o Options) Validate() error {
	switch {
	case o.ProviderKey == "":
		return &ConfigurationError{Field: OptProviderKey, Reason: "required"}
	case !keyPattern.MatchString(o.ProviderKey):
		return &ConfigurationError{Field: OptProviderKey, Reason: "malformed credential"}
	case !o.Location.HasCoords && strings.TrimSpace(o.Location.Query) == "":
		return &ConfigurationError{Field: OptLocation, Reason: "required"}
	case o.Timeout < 0:
		return &ConfigurationError{Field: OptTimeout, Reason: "must not be negative"}
	case o.Lang != "" && !langPattern.MatchString(o.Lang):
		return &ConfigurationError{Field: OptLang, Reason: "expected a language code such as en or pt_br"}
	}
	switch o.Units {
	case "", provider.Metric, provider.Imperial, provider.Standard:
	default:
		return &ConfigurationError{Field: OptUnits, Reason: "unknown units " + strconv.Quote(string(o.Units))}
	}
	return nil
}

// KeyID is a short fingerprint identifying the credential without revealing it.
func (o Options) KeyID() string {
	sum := sha256.Sum256([]byte(o.ProviderKey))
	return hex.EncodeToString(sum[:4])
}

// FeedKey identifies the data a Service produces: one location in one unit system.
func (o Options) FeedKey() string {
	units := o.Units
	if units == "" {
		units = provider.Metric
	}
	return o.Location.Key() + "|" + string(units)
}
