// Package research finds candidate providers for a service request, either
// through the workflow orchestrator or directly against Google Places.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/phone"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/router"
	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/workflow"
)

// Source tags recorded on discovered providers.
const (
	SourcePlaces   = "places"
	SourceWorkflow = "workflow"
)

const (
	// DefaultFlow is the orchestrator flow that searches for providers.
	DefaultFlow         = "research_providers"
	defaultMaxResults   = 10
	defaultMinResults   = 3
	defaultRadiusMiles  = 25
	metersPerMile       = 1609.344
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 24
)

// Query describes one provider search.
type Query struct {
	Service     string        `json:"service"`
	Location    string        `json:"location"`
	Origin      *model.LatLng `json:"origin,omitempty"`
	RadiusMiles float64       `json:"radius_miles,omitempty"`
	MaxResults  int           `json:"max_results,omitempty"`
	// MinResults is the count at or above which a search is a success.
	MinResults int `json:"min_results,omitempty"`
}

func (q Query) withDefaults() Query {
	if q.MaxResults <= 0 {
		q.MaxResults = defaultMaxResults
	}
	if q.MinResults <= 0 {
		q.MinResults = defaultMinResults
	}
	if q.RadiusMiles <= 0 {
		q.RadiusMiles = defaultRadiusMiles
	}
	return q
}

// Validate checks the required fields.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Service) == "" {
		return &model.ValidationError{Field: "service", Reason: "is required"}
	}
	if strings.TrimSpace(q.Location) == "" && q.Origin == nil {
		return &model.ValidationError{Field: "location", Reason: "is required"}
	}
	return nil
}

// Service runs provider searches.
type Service struct {
	router   *router.Router
	places   google.Client
	workflow workflow.Client
	flowID   string
	interval time.Duration
	maxPolls int
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Service.
type Option func(*Service)

// WithWorkflow enables the orchestrator path.
func WithWorkflow(c workflow.Client, flowID string) Option {
	return func(s *Service) {
		s.workflow = c
		if flowID != "" {
			s.flowID = flowID
		}
	}
}

// WithPoll bounds the wait for an orchestrator search.
func WithPoll(interval time.Duration, maxPolls int) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
		if maxPolls > 0 {
			s.maxPolls = maxPolls
		}
	}
}

// WithSleep replaces the poll sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		s.sleep = fn
	}
}

// New creates a Service. places may be nil when only the orchestrator is
// available.
func New(r *router.Router, places google.Client, opts ...Option) *Service {
	s := &Service{
		router:   r,
		places:   places,
		flowID:   DefaultFlow,
		interval: defaultPollInterval,
		maxPolls: defaultMaxPolls,
		sleep:    resilience.Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search finds providers for q. The router is consulted once. Only invalid
// queries and strict-mode backend failures are returned as errors; any
// other failure is reported through the result status.
func (s *Service) Search(ctx context.Context, q Query) (model.ResearchResult, error) {
	if err := q.Validate(); err != nil {
		return model.ResearchResult{Status: model.ResearchError, Error: err.Error()}, err
	}
	q = q.withDefaults()
	log := zap.L().With(
		zap.String("component", "research"),
		zap.String("service", q.Service),
		zap.String("location", q.Location),
	)

	backend := model.BackendDirect
	if s.router != nil {
		b, err := s.router.Choose(ctx)
		if err != nil {
			return model.ResearchResult{Status: model.ResearchError, Error: err.Error()}, err
		}
		backend = b
	}

	if backend == model.BackendOrchestrator && s.workflow != nil {
		providers, err := s.viaWorkflow(ctx, q)
		if err == nil {
			return result(providers, model.BackendOrchestrator, q.MinResults), nil
		}
		if s.router != nil && s.router.Policy().Strict {
			log.Error("orchestrator search failed in strict mode", zap.Error(err))
			wrapped := eris.Wrapf(model.ErrBackendUnavailable, "research: %v", err)
			return model.ResearchResult{Method: model.BackendOrchestrator, Status: model.ResearchError, Error: err.Error()}, wrapped
		}
		log.Warn("orchestrator search failed, falling back to places", zap.Error(err))
	}

	providers, err := s.viaPlaces(ctx, q)
	if err != nil {
		log.Error("places search failed", zap.Error(err))
		return model.ResearchResult{Providers: []model.Provider{}, Method: model.BackendDirect, Status: model.ResearchError, Error: err.Error()}, nil
	}
	res := result(providers, model.BackendDirect, q.MinResults)
	log.Info("research complete", zap.Int("providers", len(res.Providers)), zap.String("status", string(res.Status)))
	return res, nil
}

func result(providers []model.Provider, method model.Backend, minResults int) model.ResearchResult {
	res := model.ResearchResult{Providers: providers, Method: method}
	switch {
	case len(providers) >= minResults:
		res.Status = model.ResearchSuccess
	case len(providers) > 0:
		res.Status = model.ResearchPartial
	default:
		res.Status = model.ResearchError
		res.Error = "no providers found"
	}
	if res.Providers == nil {
		res.Providers = []model.Provider{}
	}
	return res
}

func (s *Service) viaPlaces(ctx context.Context, q Query) ([]model.Provider, error) {
	if s.places == nil {
		return nil, eris.New("research: places client not configured")
	}
	req := google.TextSearchRequest{
		TextQuery:      searchText(q),
		MaxResultCount: q.MaxResults,
	}
	if q.Origin != nil {
		req.LocationBias = &google.LocationBias{Circle: google.Circle{
			Center: google.LatLng{Latitude: q.Origin.Lat, Longitude: q.Origin.Lng},
			Radius: min(q.RadiusMiles*metersPerMile, 50000),
		}}
	}
	resp, err := s.places.TextSearch(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "research: text search")
	}

	providers := make([]model.Provider, 0, len(resp.Places))
	for _, pl := range resp.Places {
		providers = append(providers, fromPlace(pl, q.Origin))
	}
	return dedupe(providers), nil
}

func searchText(q Query) string {
	if q.Location == "" {
		return q.Service
	}
	return fmt.Sprintf("%s near %s", q.Service, q.Location)
}

func fromPlace(pl google.Place, origin *model.LatLng) model.Provider {
	p := model.Provider{
		ID:          uuid.New().String(),
		Name:        displayName(pl.DisplayName.Text),
		Phone:       pl.Phone(),
		Address:     pl.FormattedAddress,
		Rating:      pl.Rating,
		ReviewCount: pl.UserRatingCount,
		OpenNow:     pl.OpenNow(),
		Hours:       pl.Hours(),
		Website:     pl.WebsiteURI,
		PlaceID:     pl.ID,
		Source:      SourcePlaces,
	}
	if pl.Location != nil {
		p.Location = &model.LatLng{Lat: pl.Location.Latitude, Lng: pl.Location.Longitude}
	}
	finish(&p, origin)
	return p
}

type workflowProvider struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Address     string   `json:"address"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	Hours       []string `json:"hours"`
	Website     string   `json:"website"`
	PlaceID     string   `json:"place_id"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
}

func (s *Service) viaWorkflow(ctx context.Context, q Query) ([]model.Provider, error) {
	inputs := map[string]any{
		"service":      q.Service,
		"location":     q.Location,
		"max_results":  q.MaxResults,
		"radius_miles": q.RadiusMiles,
	}
	if q.Origin != nil {
		inputs["lat"] = q.Origin.Lat
		inputs["lng"] = q.Origin.Lng
	}

	exec, err := s.workflow.TriggerExecution(ctx, s.flowID, inputs)
	if err != nil {
		return nil, eris.Wrap(err, "research: trigger workflow")
	}
	for attempt := 0; !exec.State.Terminal(); attempt++ {
		if attempt >= s.maxPolls {
			return nil, eris.Errorf("research: workflow %s still %s after %d polls", exec.ID, exec.State, s.maxPolls)
		}
		if err := s.sleep(ctx, s.interval); err != nil {
			return nil, eris.Wrap(err, "research: wait for workflow")
		}
		next, err := s.workflow.GetExecution(ctx, exec.ID)
		if err != nil {
			zap.L().Debug("research: get execution failed", zap.String("execution_id", exec.ID), zap.Error(err))
			continue
		}
		exec = next
	}
	if exec.State != workflow.StateSuccess {
		return nil, eris.Errorf("research: workflow %s ended %s: %s", exec.ID, exec.State, exec.Error)
	}

	raw, err := json.Marshal(exec.Outputs["providers"])
	if err != nil {
		return nil, eris.Wrap(err, "research: encode workflow providers")
	}
	var found []workflowProvider
	if err := json.Unmarshal(raw, &found); err != nil {
		return nil, eris.Wrap(err, "research: decode workflow providers")
	}

	providers := make([]model.Provider, 0, len(found))
	for _, w := range found {
		if strings.TrimSpace(w.Name) == "" {
			continue
		}
		p := model.Provider{
			ID:          w.ID,
			Name:        displayName(w.Name),
			Phone:       w.Phone,
			Address:     w.Address,
			Rating:      w.Rating,
			ReviewCount: w.ReviewCount,
			Hours:       w.Hours,
			Website:     w.Website,
			PlaceID:     w.PlaceID,
			Source:      SourceWorkflow,
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if w.Lat != nil && w.Lng != nil {
			p.Location = &model.LatLng{Lat: *w.Lat, Lng: *w.Lng}
		}
		finish(&p, q.Origin)
		providers = append(providers, p)
	}
	return dedupe(providers), nil
}

func finish(p *model.Provider, origin *model.LatLng) {
	if p.Phone != "" {
		if n, err := phone.Normalize(p.Phone, phone.DefaultRegion); err == nil {
			p.NormalizedPhone = n
		}
	}
	if origin != nil && p.Location != nil {
		d := model.DistanceMiles(*origin, *p.Location)
		p.DistanceMiles = &d
	}
}

// displayName title-cases names that arrive in a single case.
func displayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == strings.ToUpper(name) || name == strings.ToLower(name) {
		return cases.Title(language.English).String(name)
	}
	return name
}

// dedupe drops later providers that share a place id or callable phone
// with an earlier one.
func dedupe(in []model.Provider) []model.Provider {
	seen := make(map[string]bool, len(in)*2)
	out := make([]model.Provider, 0, len(in))
	for _, p := range in {
		keys := []string{}
		if p.PlaceID != "" {
			keys = append(keys, "place:"+p.PlaceID)
		}
		if p.NormalizedPhone != "" {
			keys = append(keys, "phone:"+p.NormalizedPhone)
		}
		dup := false
		for _, k := range keys {
			if seen[k] {
				dup = true
			}
		}
		if dup {
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}
		out = append(out, p)
	}
	return out
}
