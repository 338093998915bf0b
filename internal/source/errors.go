// Package source defines the error taxonomy shared by every evidence
// source client. Collectors surface these errors unchanged; callers
// distinguish "source is down" from "entity never existed" from
// "claim cannot be substantiated" by type, never by string matching.
package source

import (
	"errors"
	"fmt"
	"time"
)

// SourceUnavailableError is a transient failure: network error, timeout,
// or a 5xx from the remote. Safe to retry with backoff.
type SourceUnavailableError struct {
	Source string
	Op     string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: source unavailable: %v", e.Source, e.Op, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// NotFoundError means the requested entity does not exist at the source.
// Terminal: retrying will not make a deleted issue reappear.
type NotFoundError struct {
	Source string
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found", e.Source, e.Entity)
}

// RateLimitedError means the source is throttling us. Terminal for this
// attempt; ResetAt carries the backoff hint when the source provided one.
type RateLimitedError struct {
	Source    string
	ResetAt   time.Time
	Remaining int
}

func (e *RateLimitedError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("%s: rate limited", e.Source)
	}
	return fmt.Sprintf("%s: rate limited until %s", e.Source, e.ResetAt.UTC().Format(time.RFC3339))
}

// QuotaExceededError means a BigQuery job would scan (or did scan) more
// bytes than the configured cap allows.
type QuotaExceededError struct {
	Source   string
	CapBytes int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: query quota exceeded (cap %d bytes)", e.Source, e.CapBytes)
}

// ProvenanceError means a claimed IOC value could not be found in the
// content at its cited source URL. Never retried: the claim is
// unsubstantiated, not temporarily missing.
type ProvenanceError struct {
	Value string
	URL   string
}

func (e *ProvenanceError) Error() string {
	v := e.Value
	if len(v) > 48 {
		v = v[:48] + "..."
	}
	return fmt.Sprintf("value %q not present at %s", v, e.URL)
}

// SchemaError means persisted evidence could not be decoded: a malformed
// record or an unknown discriminator.
type SchemaError struct {
	Discriminator string
	Detail        string
}

func (e *SchemaError) Error() string {
	if e.Discriminator != "" {
		return fmt.Sprintf("unknown evidence kind %q: %s", e.Discriminator, e.Detail)
	}
	return fmt.Sprintf("malformed evidence record: %s", e.Detail)
}

// IsTransient reports whether err is worth retrying with backoff.
// NotFound, rate limits, quota and provenance failures are all terminal.
func IsTransient(err error) bool {
	var unavailable *SourceUnavailableError
	return errors.As(err, &unavailable)
}
