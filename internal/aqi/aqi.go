// Package aqi computes the US EPA air quality index from PM2.5
// concentrations.
package aqi

import "math"

type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh int
}

// 2012 EPA PM2.5 (µg/m³, 24h) breakpoints.
var pm25Breakpoints = []breakpoint{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// FromPM25 returns the AQI for a PM2.5 concentration in µg/m³.
// Concentrations beyond the top breakpoint clamp to 500.
func FromPM25(pm25 float64) int {
	if pm25 < 0 {
		return 0
	}
	c := math.Floor(pm25*10) / 10
	for _, bp := range pm25Breakpoints {
		if c <= bp.cHigh {
			frac := (c - bp.cLow) / (bp.cHigh - bp.cLow)
			return int(math.Round(frac*float64(bp.iHigh-bp.iLow) + float64(bp.iLow)))
		}
	}
	return 500
}
