package resilience

import (
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Error classes recorded on dead-letter entries.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry is a failed outreach request that can be retried later. ID is
// the id of the request that first failed.
type DLQEntry struct {
	ID           string                `json:"id"`
	Request      model.OutreachRequest `json:"request"`
	Error        string                `json:"error"`
	ErrorType    string                `json:"error_type"` // "transient" or "permanent"
	FailedPhase  string                `json:"failed_phase,omitempty"`
	RetryCount   int                   `json:"retry_count"`
	MaxRetries   int                   `json:"max_retries"`
	NextRetryAt  time.Time             `json:"next_retry_at"`
	CreatedAt    time.Time             `json:"created_at"`
	LastFailedAt time.Time             `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}

// DLQPolicy decides how often and how soon failed requests are retried.
type DLQPolicy struct {
	MaxRetries int
	Backoff    Policy
}

// DefaultDLQPolicy retries transient failures three times, starting a
// minute out and backing off to an hour.
func DefaultDLQPolicy() DLQPolicy {
	return DLQPolicy{
		MaxRetries: 3,
		Backoff:    Policy{Base: time.Minute, Max: time.Hour},
	}
}

// NewEntry builds the first dead-letter entry for req. Permanent failures
// are kept for inspection but never come due.
func (p DLQPolicy) NewEntry(req model.OutreachRequest, phase string, cause error, now time.Time) DLQEntry {
	e := DLQEntry{
		ID:           req.ID,
		Request:      req,
		Error:        cause.Error(),
		ErrorType:    ClassifyError(cause),
		FailedPhase:  phase,
		MaxRetries:   p.MaxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
		NextRetryAt:  now.Add(p.Backoff.Backoff(0)),
	}
	if e.ErrorType == ErrorPermanent {
		e.MaxRetries = 0
	}
	return e
}

// NextRetryAt is when the entry should come due after its next failure.
func (p DLQPolicy) NextRetryAt(e DLQEntry, now time.Time) time.Time {
	return now.Add(p.Backoff.Backoff(e.RetryCount + 1))
}
