package geocode

import (
	"context"
	"net/url"
)

const censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"` // longitude
				Y float64 `json:"y"` // latitude
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// geocodeCensus only matches full street addresses.
func (g *geocoder) geocodeCensus(ctx context.Context, location string) (*Result, error) {
	var resp censusResponse
	params := url.Values{
		"address":   {location},
		"benchmark": {"Public_AR_Current"},
		"format":    {"json"},
	}
	if err := g.getJSON(ctx, "census", g.censusURL, params, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result.AddressMatches) == 0 {
		return &Result{Source: "census"}, nil
	}
	m := resp.Result.AddressMatches[0]
	return &Result{
		Latitude:  m.Coordinates.Y,
		Longitude: m.Coordinates.X,
		Source:    "census",
		Quality:   "rooftop",
		Matched:   true,
	}, nil
}
