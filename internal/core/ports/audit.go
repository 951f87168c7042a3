package ports

import (
	"context"

	"github.com/propeval/access-core/internal/core/domain"
)

// AuditSink accepts audit events without blocking the caller.
type AuditSink interface {
	Emit(event domain.AuditEvent)
}

// AuditRepository appends audit events to durable storage.
type AuditRepository interface {
	Insert(ctx context.Context, event *domain.AuditEvent) error
}

// AuditReader reads back the trail of one user, newest first.
type AuditReader interface {
	ListForUser(ctx context.Context, userID string, limit int64) ([]domain.AuditEvent, error)
}
