package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// prepareRequest assigns the id, initial status and timestamps.
func prepareRequest(req *model.OutreachRequest, now time.Time) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = model.RequestQueued
	}
	req.CreatedAt = now
	req.UpdatedAt = now
}

// prepareDLQ fills in the id and timestamps a new entry is missing.
func prepareDLQ(e resilience.DLQEntry, now time.Time) resilience.DLQEntry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastFailedAt.IsZero() {
		e.LastFailedAt = now
	}
	if e.NextRetryAt.IsZero() {
		e.NextRetryAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.LastFailedAt = e.LastFailedAt.UTC()
	e.NextRetryAt = e.NextRetryAt.UTC()
	return e
}

func dlqLimit(f resilience.DLQFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func providerRows(requestID string, providers []model.Provider) ([][]any, error) {
	rows := make([][]any, 0, len(providers))
	for i, p := range providers {
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal provider %s", p.ID)
		}
		rows = append(rows, []any{requestID, i, p.ID, p.Name, p.CallablePhone(), string(payload)})
	}
	return rows, nil
}

func callResultRows(requestID string, results []model.CallResult, now time.Time) ([][]any, error) {
	rows := make([][]any, 0, len(results))
	for i, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal call result %d", i)
		}
		rows = append(rows, []any{requestID, i, r.CallID, string(r.Status), string(r.Backend), r.ProviderPhone, string(payload), now})
	}
	return rows, nil
}

var (
	providerColumns   = []string{"request_id", "position", "provider_id", "name", "phone", "payload"}
	callResultColumns = []string{"request_id", "position", "call_id", "status", "backend", "provider_phone", "payload", "created_at"}
)

func decodeRequest(payload []byte, status, errText string, created, updated time.Time) (*model.OutreachRequest, error) {
	var r model.OutreachRequest
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal request")
	}
	r.Status = model.RequestStatus(status)
	r.Error = errText
	r.CreatedAt = created
	r.UpdatedAt = updated
	return &r, nil
}
