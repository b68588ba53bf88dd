package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response remains replayable.
const DefaultTTL = 24 * time.Hour

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// StatusPending marks a key whose first request is still being handled.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response was stored and can be replayed.
	StatusCompleted Status = "completed"
)

// Outcome describes the result of reserving a key.
type Outcome int

const (
	// OutcomeReserved means the caller owns the key and should run the handler.
	OutcomeReserved Outcome = iota
	// OutcomeReplay means a stored response exists for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Reservation is the result of Store.Reserve.
type Reservation struct {
	Outcome Outcome
	Record  Record
}

// Record is the persisted state of one idempotency key.
type Record struct {
	Key            string
	Fingerprint    string
	Status         Status
	ResponseStatus int
	ResponseHeader map[string][]string
	ResponseBody   []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the captured handler output stored for replays.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists reservations and captured responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func completeRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeader = storableHeader(resp.Header)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

// reserve applies the reservation rules to an existing record, if any.
func reserve(existing *Record, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, *Record, error) {
	if existing == nil || existing.expired(now) {
		fresh := pendingRecord(key, fingerprint, now, ttl)
		return Reservation{Outcome: OutcomeReserved, Record: fresh}, &fresh, nil
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, nil, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{Outcome: OutcomeReplay, Record: *existing}, nil, nil
	}
	return Reservation{Outcome: OutcomeInFlight, Record: *existing}, nil, nil
}

func storableHeader(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch canonical {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Set-Cookie":
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
