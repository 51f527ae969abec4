// Package diag collects structured diagnostics from the position engine:
// lookup failures (a referenced transaction, market, or condition record is
// missing or unusable) and invariant violations (a position reconciled to a
// negative net quantity).
//
// Diagnostics are non-fatal. They are kept in a bounded in-memory ring for
// the query API, mirrored to slog, and counted in Prometheus, so violations
// are observable and testable without coupling to a logging mechanism.
package diag

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omenx/position-engine/internal/metrics"
	"github.com/omenx/position-engine/internal/model"
)

// Diagnostic kinds.
const (
	KindInvariantViolation  = "invariant_violation"
	KindTransactionNotFound = "transaction_not_found"
	KindMarketNotFound      = "market_not_found"
	KindConditionNotFound   = "condition_not_found"
	KindConditionUnresolved = "condition_unresolved"
	KindConditionMismatch   = "condition_mismatch"
	KindBadEventPayload     = "bad_event_payload"
)

// Record is one diagnostic entry.
type Record struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	User         common.Address `json:"user,omitempty"`
	Market       common.Address `json:"market,omitempty"`
	OutcomeIndex uint           `json:"outcome_index"`
	Detail       string         `json:"detail"`
	At           time.Time      `json:"at"`
}

// Recorder is the engine's diagnostic side channel. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// NewRecorder creates a recorder keeping at most capacity recent records.
func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{capacity: capacity}
}

// InvariantViolation records a position whose reconciled net quantity went
// negative. The position is still persisted; this is a signal for offline
// investigation, never auto-corrected.
func (r *Recorder) InvariantViolation(p *model.MarketPosition) {
	metrics.InvariantViolations.Inc()
	slog.Warn("negative net quantity after reconciliation",
		"user", p.User.Hex(),
		"market", p.Market.Hex(),
		"outcome_index", p.OutcomeIndex,
		"net_quantity", p.NetQuantity.String(),
	)
	r.append(Record{
		Kind:         KindInvariantViolation,
		User:         p.User,
		Market:       p.Market,
		OutcomeIndex: p.OutcomeIndex,
		Detail:       "netQuantity = " + p.NetQuantity.String(),
	})
}

// LookupFailure records a missing or unusable referenced record. The event
// that triggered the lookup is skipped without mutation.
func (r *Recorder) LookupFailure(kind string, user, market common.Address, detail string) {
	metrics.LookupFailures.WithLabelValues(kind).Inc()
	slog.Warn("event skipped",
		"kind", kind,
		"user", user.Hex(),
		"market", market.Hex(),
		"detail", detail,
	)
	r.append(Record{
		Kind:   kind,
		User:   user,
		Market: market,
		Detail: detail,
	})
}

// Recent returns up to limit most-recent records, newest first.
func (r *Recorder) Recent(limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.records[n-1-i]
	}
	return out
}

// Count returns the number of retained records.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Recorder) append(rec Record) {
	rec.ID = uuid.New().String()
	rec.At = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
}
