package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/pagination"
	"github.com/cuvejm/stockengine/internal/platform/requestctx"
	"github.com/cuvejm/stockengine/internal/platform/textutil"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const (
	auditContext         = "stockengine 2025 audit log entry v1"
	auditIDPrefix        = "aud_"
	auditHashPrefix      = "blake3:"
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
)

// ErrAuditInvalidInput signals a malformed audit log query.
var ErrAuditInvalidInput = newKindError(ErrValidation, "audit: invalid input")

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	// HashKey keys entry digests and sensitive value hashes. Empty selects the built in key.
	HashKey []byte
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	key    [32]byte
	logger func(context.Context, string, map[string]any)
}

var _ AuditLogService = (*auditLogService)(nil)

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	material := deps.HashKey
	if len(material) == 0 {
		material = []byte(auditContext)
	}

	svc := &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC().Truncate(time.Microsecond) },
		newID:  idGen,
		logger: logger,
	}
	blake3.DeriveKey(auditContext, material, svc.key[:])
	return svc, nil
}

// Record persists an audit entry after sanitising it. Repository failures are logged and never
// reach the caller.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(ctx, record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append.failed", map[string]any{
			"action": entry.Action,
			"target": entry.TargetRef,
			"error":  err,
		})
	}
}

func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	page, err := s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: filter.Pagination,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: %v", ErrAuditInvalidInput, err)
		}
		return domain.CursorPage[AuditLogEntry]{}, mapStoreError(err, nil)
	}
	return page, nil
}

func (s *auditLogService) buildEntry(ctx context.Context, record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}
	requestID := record.RequestID
	if strings.TrimSpace(requestID) == "" {
		requestID = requestctx.TraceID(ctx)
	}

	entry := domain.AuditLogEntry{
		ID:        auditIDPrefix + s.newID(),
		Actor:     textutil.CleanText(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType, record.Actor),
		Action:    textutil.CleanText(record.Action, 120),
		TargetRef: textutil.CleanText(record.TargetRef, 200),
		Severity:  normalizeSeverity(record.Severity),
		RequestID: textutil.CleanText(requestID, 128),
		CreatedAt: occurred.UTC(),
	}
	if meta := s.prepareMetadata(record.Metadata, record.SensitiveMetadataKeys); len(meta) > 0 {
		entry.Metadata = meta
	}
	if diff := s.prepareDiff(record.Diff, record.SensitiveDiffKeys); len(diff) > 0 {
		entry.Diff = diff
	}
	entry.Digest = s.digest(entry)
	return entry
}

func (s *auditLogService) prepareMetadata(metadata map[string]any, sensitive []string) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	result := make(map[string]any, len(metadata))
	for key, value := range metadata {
		name := sanitizeAuditKey(key)
		if name == "" {
			continue
		}
		if slices.Contains(sensitive, name) {
			result[name] = s.hashValue(value)
			continue
		}
		result[name] = sanitizeAuditValue(value)
	}
	return result
}

func (s *auditLogService) prepareDiff(diff map[string]AuditLogDiff, sensitive []string) map[string]any {
	if len(diff) == 0 {
		return nil
	}
	result := make(map[string]any, len(diff))
	for key, change := range diff {
		name := sanitizeAuditKey(key)
		if name == "" {
			continue
		}
		if slices.Contains(sensitive, name) {
			result[name] = map[string]any{
				"before": s.hashValue(change.Before),
				"after":  s.hashValue(change.After),
			}
			continue
		}
		result[name] = map[string]any{
			"before": sanitizeAuditValue(change.Before),
			"after":  sanitizeAuditValue(change.After),
		}
	}
	return result
}

func (s *auditLogService) hashValue(value any) string {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(strings.TrimSpace(v))
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%T", value))
		}
		raw = encoded
	}
	return auditHashPrefix + s.keyedHex(raw)
}

// digest covers every stored field except ID and Digest. Map keys marshal in sorted order.
func (s *auditLogService) digest(entry domain.AuditLogEntry) string {
	payload, err := json.Marshal(struct {
		Actor     string         `json:"actor"`
		ActorType string         `json:"actorType"`
		Action    string         `json:"action"`
		TargetRef string         `json:"targetRef"`
		Metadata  map[string]any `json:"metadata"`
		Diff      map[string]any `json:"diff"`
		Severity  string         `json:"severity"`
		RequestID string         `json:"requestId"`
		CreatedAt int64          `json:"createdAt"`
	}{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt.UnixMicro(),
	})
	if err != nil {
		return ""
	}
	return s.keyedHex(payload)
}

func (s *auditLogService) keyedHex(data []byte) string {
	hasher, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		return ""
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func normalizeActorType(actorType string, actor string) string {
	normalized := strings.ToLower(strings.TrimSpace(actorType))
	switch normalized {
	case "staff", "system", "service":
		return normalized
	}
	switch strings.ToLower(strings.TrimSpace(actor)) {
	case domain.SystemActorID:
		return "system"
	case "":
		return defaultActorType
	default:
		return "staff"
	}
}

func normalizeSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func sanitizeAuditKey(key string) string {
	return textutil.CleanText(key, 80)
}

func sanitizeAuditValue(value any) any {
	switch v := value.(type) {
	case string:
		return textutil.CleanText(v, 512)
	case fmt.Stringer:
		return textutil.CleanText(v.String(), 512)
	default:
		return v
	}
}
