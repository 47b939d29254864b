package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cuvejm/stockengine/internal/domain"
	pfirestore "github.com/cuvejm/stockengine/internal/platform/firestore"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const auditLogsCollection = "auditLogs"

// AuditLogRepository appends audit entries. Entries are never updated or deleted by the engine.
type AuditLogRepository struct {
	entries *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		entries: pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection),
	}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit log repository: entry id is required")
	}
	return r.entries.Create(ctx, id, newAuditLogDocument(entry))
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	size, cursor, err := pageWindow(filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		if target := strings.TrimSpace(filter.TargetRef); target != "" {
			q = q.Where("targetRef", "==", target)
		}
		if action := strings.TrimSpace(filter.Action); action != "" {
			q = q.Where("action", "==", action)
		}
		return newestFirst(q, size, cursor)
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	entries := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return trimPage(entries, size, func(e domain.AuditLogEntry) (time.Time, string) { return e.CreatedAt, e.ID })
}

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	Severity  string         `firestore:"severity"`
	RequestID string         `firestore:"requestId,omitempty"`
	Digest    string         `firestore:"digest"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func newAuditLogDocument(e domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		Actor:     e.Actor,
		ActorType: e.ActorType,
		Action:    e.Action,
		TargetRef: e.TargetRef,
		Metadata:  e.Metadata,
		Diff:      e.Diff,
		Severity:  e.Severity,
		RequestID: e.RequestID,
		Digest:    e.Digest,
		CreatedAt: e.CreatedAt.UTC(),
	}
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        id,
		Actor:     d.Actor,
		ActorType: d.ActorType,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Metadata:  d.Metadata,
		Diff:      d.Diff,
		Severity:  d.Severity,
		RequestID: d.RequestID,
		Digest:    d.Digest,
		CreatedAt: d.CreatedAt.UTC(),
	}
}
