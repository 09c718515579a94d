package geocode

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
}

func (g *geocoder) geocodeGoogle(ctx context.Context, location string) (*Result, error) {
	var resp googleResponse
	params := url.Values{"address": {location}, "key": {g.googleKey}}
	if err := g.getJSON(ctx, "google", g.googleURL, params, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &Result{Source: "google"}, nil
	default:
		return nil, eris.Errorf("geocode: google status %s %s", resp.Status, resp.ErrorMessage)
	}
	if len(resp.Results) == 0 {
		return &Result{Source: "google"}, nil
	}

	top := resp.Results[0].Geometry
	return &Result{
		Latitude:  top.Location.Lat,
		Longitude: top.Location.Lng,
		Source:    "google",
		Quality:   googleLocationTypeToQuality(top.LocationType),
		Matched:   true,
	}, nil
}

func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
