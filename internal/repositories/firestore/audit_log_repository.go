package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/odera-store/api/internal/domain"
	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/repositories"
)

// AuditLogRepository writes audit trail entries to the auditLogs collection.
type AuditLogRepository struct {
	logs *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		logs: pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection),
	}, nil
}

// Append stores the entry. Entries keyed by an event id are written once; redelivered events
// find the document in place and succeed without rewriting it.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	doc := auditLogDocument{
		Entity:        entry.Entity,
		EntityID:      entry.EntityID,
		Action:        entry.Action,
		PreviousValue: entry.PreviousValue,
		NewValue:      entry.NewValue,
		PerformedBy:   entry.PerformedBy,
		AdminEmail:    entry.AdminEmail,
		UserAgent:     entry.UserAgent,
		IP:            entry.IP,
		CreatedAt:     entry.CreatedAt.UTC(),
	}

	id := strings.TrimSpace(entry.ID)
	if id != "" {
		if _, ok := pfirestore.TransactionFromContext(ctx); ok {
			return r.logs.Set(ctx, id, doc)
		}
	}
	if err := r.logs.Create(ctx, id, doc); err != nil {
		if id != "" && isConflict(err) {
			return nil
		}
		return err
	}
	return nil
}
