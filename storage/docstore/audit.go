package docstore

import (
	"context"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/audit"
)

type auditRepo struct {
	store core.DocStore
}

var _ audit.Repository = (*auditRepo)(nil)

func NewAuditRepository(store core.DocStore) audit.Repository {
	return &auditRepo{store: store}
}

func (repo *auditRepo) CreateEntry(ctx context.Context, entry audit.Entry) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	return wrapErr(repo.store.Set(ctx, core.ColAuditLog, entry.ID, map[string]interface{}{
		"timestamp": core.FormatTime(entry.Timestamp),
		"action":    entry.Action,
		"actor":     entry.Actor,
		"details":   entry.Details,
	}))
}

func (repo *auditRepo) QueryEntries(ctx context.Context, limit int) ([]audit.Entry, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColAuditLog, nil, core.Ordering{Field: "timestamp", Ascending: false})
	if err != nil {
		return nil, wrapErr(err)
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	entries := make([]audit.Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, audit.Entry{
			ID:        doc.ID,
			Timestamp: doc.Time("timestamp"),
			Action:    doc.String("action"),
			Actor:     doc.String("actor"),
			Details:   doc.String("details"),
		})
	}
	return entries, nil
}
