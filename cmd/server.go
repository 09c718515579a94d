package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/callcache"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/router"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/voice"
)

const maxWebhookBody = 1 << 20

type outreachSubmitter interface {
	Submit(ctx context.Context, req model.OutreachRequest) (*outreach.Task, error)
}

type batchDispatcher interface {
	DispatchRequests(ctx context.Context, reqs []model.CallRequest, maxConcurrent int) (dispatch.BatchResult, error)
}

type backendDecider interface {
	Decide(ctx context.Context) (router.Decision, error)
}

// server holds the HTTP handlers. Any dependency may be nil; its routes
// then answer 503.
type server struct {
	store       store.Store
	cache       callcache.Store
	cacheTTL    time.Duration
	outreach    outreachSubmitter
	dispatcher  batchDispatcher
	decider     backendDecider
	origins     []string
	metricsPath string
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Post("/webhook/voice", s.handleVoiceWebhook)
	r.Get("/calls/{callID}", s.handleGetCall)
	r.Get("/cache/stats", s.handleCacheStats)

	r.Post("/requests", s.handleSubmit)
	r.Get("/requests/{id}", s.handleGetRequest)
	r.Post("/dispatch", s.handleDispatch)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.decider != nil {
		d, err := s.decider.Decide(r.Context())
		body["backend"] = d.Backend
		body["reason"] = d.Reason
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	ev, err := voice.ParseWebhook(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	metrics.WebhookEvents.WithLabelValues(ev.EventType()).Inc()

	report, ok := ev.(*voice.EndOfCallReport)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "type": ev.EventType()})
		return
	}
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "result cache not configured")
		return
	}
	if report.CallID() == "" {
		writeError(w, http.StatusBadRequest, "call id is required")
		return
	}

	result := dispatch.FromEndOfCallReport(report)
	if err := s.cache.Set(r.Context(), report.CallID(), result, s.cacheTTL); err != nil {
		metrics.CacheOps.WithLabelValues("set", "error").Inc()
		zap.L().Error("webhook: cache set failed", zap.String("call_id", report.CallID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache write failed")
		return
	}
	metrics.CacheOps.WithLabelValues("set", "ok").Inc()
	zap.L().Info("webhook: call result cached",
		zap.String("call_id", report.CallID()),
		zap.String("status", string(result.Status)),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "call_id": report.CallID()})
}

func (s *server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "result cache not configured")
		return
	}
	id := chi.URLParam(r, "callID")
	result, ok, err := s.cache.Get(r.Context(), id)
	if err != nil {
		metrics.CacheOps.WithLabelValues("get", "error").Inc()
		writeError(w, http.StatusInternalServerError, "cache read failed")
		return
	}
	if !ok {
		metrics.CacheOps.WithLabelValues("get", "miss").Inc()
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	metrics.CacheOps.WithLabelValues("get", "hit").Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "result cache not configured")
		return
	}
	st, err := s.cache.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cache stats failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.outreach == nil {
		writeError(w, http.StatusServiceUnavailable, "outreach not configured")
		return
	}
	var req model.OutreachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Clients never choose ids or states.
	req.ID, req.Status, req.Error = "", "", ""

	task, err := s.outreach.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Error("submit outreach request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"request_id": task.ID,
	})
}

type requestView struct {
	Request        *model.OutreachRequest   `json:"request"`
	Providers      []model.Provider         `json:"providers"`
	CallResults    []model.CallResult       `json:"call_results"`
	Recommendation *model.RecommendationSet `json:"recommendation,omitempty"`
}

func (s *server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	req, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load request failed")
		return
	}

	view := requestView{Request: req}
	if view.Providers, err = s.store.ListProviders(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "load providers failed")
		return
	}
	if view.CallResults, err = s.store.ListCallResults(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "load call results failed")
		return
	}
	set, err := s.store.GetRecommendation(ctx, id)
	switch {
	case err == nil:
		view.Recommendation = set
	case !errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusInternalServerError, "load recommendation failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type dispatchBody struct {
	Requests      []model.CallRequest `json:"requests"`
	MaxConcurrent int                 `json:"max_concurrent"`
}

func (s *server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch not configured")
		return
	}
	var body dispatchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.MaxConcurrent < 0 || body.MaxConcurrent > config.MaxConcurrentLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("max_concurrent must be between 0 and %d", config.MaxConcurrentLimit))
		return
	}

	br, err := s.dispatcher.DispatchRequests(r.Context(), body.Requests, body.MaxConcurrent)
	if err != nil {
		if errors.Is(err, model.ErrBackendUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if br.Results == nil {
		br.Results = []model.CallResult{}
	}
	if br.Errors == nil {
		br.Errors = []dispatch.DispatchError{}
	}
	writeJSON(w, http.StatusOK, br)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
