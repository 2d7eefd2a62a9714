package books

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Who did what when
// =============================================================================

type AuditAction string

const (
	AuditPeriodOpened      AuditAction = "period_opened"
	AuditPeriodClosed      AuditAction = "period_closed"
	AuditChequeCleared     AuditAction = "cheque_cleared"
	AuditChequeCancelled   AuditAction = "cheque_cancelled"
	AuditBackdatedPosting  AuditAction = "backdated_posting"
	AuditSnapshotsRecalced AuditAction = "snapshots_recalculated"
)

// AuditEntry is appended inside the same store transaction as the change it
// describes, then mirrored to the optional external AuditSink.
type AuditEntry struct {
	ID         string
	EntityType string // "account", "cheque", "transaction"
	EntityID   string
	Action     AuditAction
	ActorID    string
	Details    map[string]string
	Timestamp  time.Time
}

// AuditSink receives audit entries after their transaction commits.
// Failures are logged and never affect the operation.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int // 0 = no limit
}

// =============================================================================
// ACTOR - Supplied by the authentication layer
// =============================================================================

type actorKey struct{}

// WithActor attaches the acting user id to ctx.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the acting user id, or "system" when none was attached.
func ActorFrom(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return "system"
}
