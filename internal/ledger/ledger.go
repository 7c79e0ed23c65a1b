// Package ledger records completed capture sessions.
//
// A session produces exactly one [Record], appended after its recording sink
// has been flushed and closed. The ledger is an audit log, not a control
// surface: nothing in the capture pipeline reads it back.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Record is the durable trace of one capture session.
type Record struct {
	// ID uniquely identifies the session.
	ID string

	// Location is where the recording output landed (a spool directory or
	// URL). Empty when the session produced no recording.
	Location string

	// StartedAt is when the session became active.
	StartedAt time.Time

	// EndedAt is when the session's sink finished flushing.
	EndedAt time.Time
}

// Ledger persists session records.
//
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Append writes one record. Records are never updated or deleted.
	Append(ctx context.Context, rec Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// NewID builds a session identifier from a human-readable name, the current
// UTC time, and a random suffix to keep IDs unique within one minute.
func NewID(name string, now time.Time) string {
	if name == "" {
		name = "capture"
	}
	suffix := make([]byte, 2)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("session-%s-%s-%s",
		sanitizeName(name),
		now.UTC().Format("20060102T1504Z"),
		hex.EncodeToString(suffix),
	)
}

// sanitizeName replaces spaces with hyphens and lowercases a name
// for use in session IDs.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	return name
}
