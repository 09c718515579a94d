// Package geocode resolves free-form locations to coordinates via the Google
// Geocoding API, falling back to the Census one-line geocoder.
package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client resolves a location string ("Austin, TX", "78701", a street
// address) to a point.
type Client interface {
	Geocode(ctx context.Context, location string) (*Result, error)
}

// Result holds the geocoding output for a location. An unmatched location
// is not an error; Matched is false.
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"`  // "google" or "census"
	Quality   string  `json:"quality"` // "rooftop", "range", "centroid", "approximate"
	Matched   bool    `json:"matched"`
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithGoogleAPIKey enables the Google Geocoding API, tried before Census.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for both providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit caps outbound requests per second across providers.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithBaseURLs overrides the provider endpoints. Empty values keep the
// default.
func WithBaseURLs(googleURL, censusURL string) Option {
	return func(g *geocoder) {
		if googleURL != "" {
			g.googleURL = googleURL
		}
		if censusURL != "" {
			g.censusURL = censusURL
		}
	}
}

type geocoder struct {
	httpClient *http.Client
	googleKey  string
	googleURL  string
	censusURL  string
	limiter    *rate.Limiter
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		googleURL:  googleGeocodeURL,
		censusURL:  censusOneLineURL,
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode tries Google when a key is configured, then Census. Census only
// matches street addresses, so city or zip lookups rely on Google.
func (g *geocoder) Geocode(ctx context.Context, location string) (*Result, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, eris.New("geocode: location is required")
	}

	var googleErr error
	if g.googleKey != "" {
		res, err := g.geocodeGoogle(ctx, location)
		if err == nil && res.Matched {
			return res, nil
		}
		googleErr = err
	}

	res, err := g.geocodeCensus(ctx, location)
	if err == nil {
		return res, nil
	}
	if googleErr != nil {
		return nil, eris.Wrapf(err, "geocode: all providers failed (google: %v)", googleErr)
	}
	return nil, err
}

// getJSON issues a rate-limited GET and decodes the JSON body into out.
func (g *geocoder) getJSON(ctx context.Context, provider, base string, params url.Values, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "geocode: %s rate limit", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s build request", provider)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s request", provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("geocode: %s returned status %d", provider, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "geocode: %s parse response", provider)
	}
	return nil
}
