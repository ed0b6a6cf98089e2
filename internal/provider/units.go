package provider

import (
	"fmt"
	"strings"
)

// Units selects the unit system observations are presented in.
type Units string

const (
	Metric   Units = "metric"   // Celsius, m/s
	Imperial Units = "imperial" // Fahrenheit, mph
	Standard Units = "standard" // Kelvin, m/s
)

// ParseUnits maps user input onto a unit system. Empty input means Metric.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "metric", "si", "c", "celsius":
		return Metric, nil
	case "imperial", "us", "f", "fahrenheit":
		return Imperial, nil
	case "standard", "kelvin", "k":
		return Standard, nil
	}
	return "", fmt.Errorf("unknown units %q", s)
}

// Temperature converts a Celsius value into u.
func (u Units) Temperature(c float64) float64 {
	switch u {
	case Imperial:
		return c*9/5 + 32
	case Standard:
		return c + 273.15
	}
	return c
}

// Speed converts metres per second into u.
func (u Units) Speed(ms float64) float64 {
	if u == Imperial {
		return ms * 2.2369362920544
	}
	return ms
}

func (u Units) TemperatureSymbol() string {
	switch u {
	case Imperial:
		return "°F"
	case Standard:
		return "K"
	}
	return "°C"
}

func (u Units) SpeedSymbol() string {
	if u == Imperial {
		return "mph"
	}
	return "m/s"
}
