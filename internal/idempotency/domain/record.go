package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound   = errors.New("idempotency record not found")
	// ErrInProgress means another attempt with the same key is still running.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused means the key was already used for a different request.
	ErrKeyReused  = errors.New("idempotency key reused with a different request")
	ErrMissingKey = errors.New("idempotency key is required")
	// ErrNotHeld means the record was finished or taken over by another
	// attempt after this one claimed it.
	ErrNotHeld    = errors.New("idempotency key is no longer held by this attempt")
)

// Record is scoped by (Key, UserID). AttemptID names the attempt that holds
// an in_progress record; only that attempt may complete or fail it.
type Record struct {
	Key          string
	UserID       string
	AttemptID    string
	Fingerprint  string
	Status       Status
	Response     json.RawMessage
	ErrorKind    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Decision is the outcome of a successful claim.
type Decision struct {
	// Replay is set when the key already completed; Response holds the
	// stored result to return verbatim.
	Replay   bool
	Response json.RawMessage
	// Attempt identifies the claim when the caller should proceed.
	Attempt string
}

// Fingerprint hashes the canonical JSON encoding of the request body.
func Fingerprint(request any) (string, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
