package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the audit log.
const (
	ActionSessionStarted  = "session_started"
	ActionSessionClosed   = "session_closed"
	ActionSessionRepaired = "session_repaired"
	ActionOrphansPurged   = "orphans_purged"
	ActionRosterReplaced  = "roster_replaced"
	ActionStaffCreated    = "staff_created"
	ActionStaffDeleted    = "staff_deleted"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"` // UTC
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details"`
}

type (
	Repository interface {
		CreateEntry(ctx context.Context, entry Entry) error
		QueryEntries(ctx context.Context, limit int) ([]Entry, error) // newest first
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Record(ctx context.Context, action, actor, details string) error {
	return svc.repo.CreateEntry(ctx, Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	})
}

func (svc *Service) Query(ctx context.Context, limit int) ([]Entry, error) {
	return svc.repo.QueryEntries(ctx, limit)
}
