package models

import (
	"encoding/json"
	"math"
)

// Point is a [latitude, longitude] pair, the wire format used by the
// dispatch API for pickups, deliveries, vehicle positions and route paths.
type Point [2]float64

// NewPoint builds a Point from latitude and longitude.
func NewPoint(lat, lng float64) Point {
	return Point{lat, lng}
}

// Lat returns the latitude.
func (p Point) Lat() float64 { return p[0] }

// Lng returns the longitude.
func (p Point) Lng() float64 { return p[1] }

// Valid reports whether the point can be placed on a map. Missing
// coordinates decode as NaN, and (0, 0) is treated as unset.
func (p Point) Valid() bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if p[0] < -90 || p[0] > 90 || p[1] < -180 || p[1] > 180 {
		return false
	}
	return p[0] != 0 || p[1] != 0
}

// MarshalJSON encodes the point as a two element array, or null when a
// coordinate is not finite.
func (p Point) MarshalJSON() ([]byte, error) {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []byte("null"), nil
		}
	}
	return json.Marshal([2]float64(p))
}

// UnmarshalJSON accepts [lat, lng]. Anything else (null, short arrays,
// null members) yields a point whose Valid method reports false.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p[0], p[1] = math.NaN(), math.NaN()
	if len(raw) != 2 {
		return nil
	}
	for i, v := range raw {
		if v != nil {
			p[i] = *v
		}
	}
	return nil
}
