// Package store persists outreach requests and the records each request
// produces: providers, call results and the final recommendation.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = eris.New("store: not found")

// RequestFilter specifies criteria for listing requests.
type RequestFilter struct {
	Status model.RequestStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for outreach requests.
type Store interface {
	// Requests
	CreateRequest(ctx context.Context, req *model.OutreachRequest) error
	UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus, errText string) error
	GetRequest(ctx context.Context, id string) (*model.OutreachRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]model.OutreachRequest, error)

	// Records produced by a request. Saves replace any earlier set.
	SaveProviders(ctx context.Context, requestID string, providers []model.Provider) error
	ListProviders(ctx context.Context, requestID string) ([]model.Provider, error)
	SaveCallResults(ctx context.Context, requestID string, results []model.CallResult) error
	ListCallResults(ctx context.Context, requestID string) ([]model.CallResult, error)
	SaveRecommendation(ctx context.Context, requestID string, set *model.RecommendationSet) error
	GetRecommendation(ctx context.Context, requestID string) (*model.RecommendationSet, error)

	// Dead letter queue of failed requests.
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100
