package domain

import (
	"strings"
	"time"
)

// Pagination defines cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// SystemActorID and SystemActorName identify writes performed without an authenticated caller.
const (
	SystemActorID   = "system"
	SystemActorName = "Système"
)

// Actor identifies the caller responsible for a write.
type Actor struct {
	UID   string
	Email string
}

// ID returns the identifier recorded in changedBy/createdBy: uid, else email, else "system".
func (a Actor) ID() string {
	if uid := strings.TrimSpace(a.UID); uid != "" {
		return uid
	}
	if email := strings.TrimSpace(a.Email); email != "" {
		return email
	}
	return SystemActorID
}

// DisplayName returns the name recorded in createdByName: email, else "Système".
func (a Actor) DisplayName() string {
	if email := strings.TrimSpace(a.Email); email != "" {
		return email
	}
	return SystemActorName
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but the engine keeps serving.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry is an immutable record of a mutation. Digest is a keyed hash over the other fields
// so later edits to the stored entry can be detected.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	Severity  string
	RequestID string
	Digest    string
	CreatedAt time.Time
}
