package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

var (
	searchFields = []string{
		"places.id", "places.displayName", "places.formattedAddress", "places.location",
		"places.rating", "places.userRatingCount", "places.nationalPhoneNumber",
		"places.websiteUri", "places.currentOpeningHours.openNow",
	}
	detailFields = []string{
		"id", "displayName", "formattedAddress", "location", "rating", "userRatingCount",
		"nationalPhoneNumber", "internationalPhoneNumber", "websiteUri",
		"currentOpeningHours", "regularOpeningHours",
	}
)

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
	PlaceDetails(ctx context.Context, placeID string) (*Place, error)
}

// TextSearchRequest is the body of a Places Text Search.
type TextSearchRequest struct {
	TextQuery      string        `json:"textQuery"`
	MaxResultCount int           `json:"maxResultCount,omitempty"`
	LocationBias   *LocationBias `json:"locationBias,omitempty"`
}

// LocationBias biases results toward a circle.
type LocationBias struct {
	Circle Circle `json:"circle"`
}

// Circle is a center and radius in meters.
type Circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by the API.
type Place struct {
	ID                       string        `json:"id"`
	DisplayName              DisplayName   `json:"displayName"`
	FormattedAddress         string        `json:"formattedAddress,omitempty"`
	Location                 *LatLng       `json:"location,omitempty"`
	Rating                   float64       `json:"rating"`
	UserRatingCount          int           `json:"userRatingCount"`
	NationalPhoneNumber      string        `json:"nationalPhoneNumber,omitempty"`
	InternationalPhoneNumber string        `json:"internationalPhoneNumber,omitempty"`
	WebsiteURI               string        `json:"websiteUri,omitempty"`
	CurrentOpeningHours      *OpeningHours `json:"currentOpeningHours,omitempty"`
	RegularOpeningHours      *OpeningHours `json:"regularOpeningHours,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// LatLng is a coordinate in the Places wire format.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OpeningHours carries open-now and per-day descriptions.
type OpeningHours struct {
	OpenNow             *bool    `json:"openNow,omitempty"`
	WeekdayDescriptions []string `json:"weekdayDescriptions,omitempty"`
}

// Phone returns the best available phone number.
func (p *Place) Phone() string {
	if p.InternationalPhoneNumber != "" {
		return p.InternationalPhoneNumber
	}
	return p.NationalPhoneNumber
}

// Hours returns weekday descriptions, preferring regular hours.
func (p *Place) Hours() []string {
	if p.RegularOpeningHours != nil && len(p.RegularOpeningHours.WeekdayDescriptions) > 0 {
		return p.RegularOpeningHours.WeekdayDescriptions
	}
	if p.CurrentOpeningHours != nil {
		return p.CurrentOpeningHours.WeekdayDescriptions
	}
	return nil
}

// OpenNow reports the current open flag when known.
func (p *Place) OpenNow() *bool {
	if p.CurrentOpeningHours != nil {
		return p.CurrentOpeningHours.OpenNow
	}
	return nil
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, in TextSearchRequest) (*TextSearchResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	var result TextSearchResponse
	if err := c.do(ctx, http.MethodPost, "/places:searchText", searchFields, body, &result); err != nil {
		return nil, eris.Wrap(err, "google: text search")
	}
	return &result, nil
}

func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*Place, error) {
	if placeID == "" {
		return nil, eris.New("google: place details: empty place id")
	}

	var place Place
	if err := c.do(ctx, http.MethodGet, "/places/"+url.PathEscape(placeID), detailFields, nil, &place); err != nil {
		return nil, eris.Wrapf(err, "google: place details %s", placeID)
	}
	return &place, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, fields []string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return eris.Wrap(err, "create request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", strings.Join(fields, ","))

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.HTTPError("google", resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
