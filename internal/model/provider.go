package model

import "math"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Provider is a candidate service provider discovered by research.
type Provider struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Phone           string   `json:"phone,omitempty" yaml:"phone"`
	NormalizedPhone string   `json:"normalized_phone,omitempty" yaml:"normalized_phone"`
	Address         string   `json:"address,omitempty" yaml:"address"`
	Rating          float64  `json:"rating,omitempty" yaml:"rating"`
	ReviewCount     int      `json:"review_count,omitempty" yaml:"review_count"`
	DistanceMiles   *float64 `json:"distance_miles,omitempty" yaml:"distance_miles"`
	OpenNow         *bool    `json:"open_now,omitempty" yaml:"open_now"`
	Hours           []string `json:"hours,omitempty" yaml:"hours"`
	Website         string   `json:"website,omitempty" yaml:"website"`
	Location        *LatLng  `json:"location,omitempty" yaml:"location"`
	PlaceID         string   `json:"place_id,omitempty" yaml:"place_id"` // external lookup reference
	Source          string   `json:"source,omitempty" yaml:"source"`
	Enriched        bool     `json:"enriched,omitempty" yaml:"enriched"`
}

// HasPhone reports whether the provider carries any contact number.
func (p Provider) HasPhone() bool {
	return p.Phone != "" || p.NormalizedPhone != ""
}

// CallablePhone returns the normalized phone when present, otherwise the raw one.
func (p Provider) CallablePhone() string {
	if p.NormalizedPhone != "" {
		return p.NormalizedPhone
	}
	return p.Phone
}

const earthRadiusMiles = 3958.8

// DistanceMiles returns the great-circle distance between two points.
func DistanceMiles(a, b LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(h))
}
