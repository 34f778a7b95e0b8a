package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	domain "github.com/odera-store/api/internal/domain"
	"github.com/odera-store/api/internal/repositories"
)

const (
	defaultHasherPrefix = "sha256:"
	defaultAuditActor   = "system"
)

type auditLogService struct {
	repo     repositories.AuditLogRepository
	clock    func() time.Time
	hashSalt string
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	// HashSalt, when set, stores client addresses as salted hashes instead of plain text.
	HashSalt string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &auditLogService{
		repo:     deps.Repository,
		clock:    func() time.Time { return clock().UTC() },
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists an audit entry after sanitising free-form fields. Failures are returned so
// that a transactional caller rolls back together with the audited mutation.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) error {
	entry := s.buildEntry(record)
	if entry.Entity == "" || entry.EntityID == "" || entry.Action == "" {
		return errors.New("audit log service: entity, entity id and action are required")
	}
	return s.repo.Append(ctx, entry)
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	entry := domain.AuditLogEntry{
		ID:          sanitizeText(record.ID, 128),
		Entity:      sanitizeText(record.Entity, 60),
		EntityID:    sanitizeText(record.EntityID, 128),
		Action:      sanitizeText(record.Action, 120),
		NewValue:    sanitizeText(record.NewValue, 512),
		PerformedBy: sanitizeText(record.PerformedBy, 160),
		AdminEmail:  strings.ToLower(sanitizeText(record.AdminEmail, 254)),
		UserAgent:   sanitizeText(record.UserAgent, 256),
		CreatedAt:   occurred,
	}
	if entry.PerformedBy == "" {
		entry.PerformedBy = defaultAuditActor
	}
	if record.PreviousValue != nil {
		prev := sanitizeText(*record.PreviousValue, 512)
		entry.PreviousValue = &prev
	}
	if ip := strings.TrimSpace(record.IP); ip != "" {
		if s.hashSalt != "" {
			entry.IP = defaultHasherPrefix + s.hashString(ip)
		} else {
			entry.IP = sanitizeText(ip, 64)
		}
	}
	return entry
}

func (s *auditLogService) hashString(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

// sanitizeText drops control characters and caps the value at limit bytes.
func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return strings.TrimSpace(builder.String())
}
