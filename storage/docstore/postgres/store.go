// Package postgres backs the document store with a single JSONB
// documents table; a self-hosted alternative to the Firestore backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/labtrack/labtrack/core"
)

type store struct {
	db     *sqlx.DB
	logger core.Logger

	pollInterval time.Duration
}

var _ core.DocStore = (*store)(nil)

// Open connects to the configured Postgres database and waits for it
// to become ready.
func Open() (*sqlx.DB, error) {
	raw, err := openRaw(core.Conf.Store.Database.Name, false)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening database")
	}
	if err := ping(raw); err != nil {
		return nil, err
	}
	return sqlx.NewDb(raw, core.Conf.Store.Database.Engine), nil
}

func NewStore(db *sqlx.DB, logger core.Logger) core.DocStore {
	return &store{db: db, logger: logger, pollInterval: time.Second}
}

func (s *store) Get(ctx context.Context, collection, id string) (core.Document, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Document{}, core.ErrDocNotFound
		}
		return core.Document{}, pkgerrors.Wrap(err, "getting document")
	}
	return decodeDoc(id, raw)
}

func (s *store) Query(ctx context.Context, collection string, filters []core.Filter, orderBy ...core.Ordering) ([]core.Document, error) {
	docs, err := s.queryAll(ctx, collection, filters)
	if err != nil {
		return nil, err
	}
	core.SortDocuments(docs, orderBy)
	return docs, nil
}

// Subscribe polls the collection and emits a snapshot whenever its
// contents change. Coarse but adequate for the handful of live viewers
// a lab front desk has.
func (s *store) Subscribe(ctx context.Context, collection string, filters []core.Filter) (<-chan []core.Document, error) {
	out := make(chan []core.Document, 1)

	go func() {
		defer close(out)

		var last []core.Document
		emit := func() {
			docs, err := s.queryAll(ctx, collection, filters)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("postgres: polling " + collection + ": " + err.Error())
				}
				return
			}
			core.SortDocuments(docs, nil)
			if last != nil && reflect.DeepEqual(docs, last) {
				return
			}
			last = docs
			select {
			case out <- docs:
			case <-ctx.Done():
			}
		}

		emit()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()
	return out, nil
}

func (s *store) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return pkgerrors.Wrap(err, "encoding document")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
		collection, id, raw)
	return pkgerrors.Wrap(err, "setting document")
}

func (s *store) Update(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	raw, err := json.Marshal(partial)
	if err != nil {
		return pkgerrors.Wrap(err, "encoding partial document")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET doc = doc || $3 WHERE collection = $1 AND id = $2`,
		collection, id, raw)
	if err != nil {
		return pkgerrors.Wrap(err, "updating document")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrDocNotFound
	}
	return nil
}

func (s *store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return pkgerrors.Wrap(err, "deleting document")
}

func (s *store) Batch() core.WriteBatch {
	return &batch{store: s}
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) queryAll(ctx context.Context, collection string, filters []core.Filter) ([]core.Document, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, doc FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying documents")
	}
	defer rows.Close()

	var docs []core.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, pkgerrors.Wrap(err, "scanning document")
		}
		doc, err := decodeDoc(id, raw)
		if err != nil {
			return nil, err
		}
		if core.MatchDocument(doc, filters) {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
}

// batch runs its operations in one transaction.
type batch struct {
	store *store
	ops   []func(ctx context.Context, tx *sqlx.Tx) error
}

var _ core.WriteBatch = (*batch)(nil)

func (b *batch) Set(collection, id string, data map[string]interface{}) {
	b.ops = append(b.ops, func(ctx context.Context, tx *sqlx.Tx) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return pkgerrors.Wrap(err, "encoding document")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)
			 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
			collection, id, raw)
		return pkgerrors.Wrap(err, "setting document")
	})
}

func (b *batch) Update(collection, id string, partial map[string]interface{}) {
	b.ops = append(b.ops, func(ctx context.Context, tx *sqlx.Tx) error {
		raw, err := json.Marshal(partial)
		if err != nil {
			return pkgerrors.Wrap(err, "encoding partial document")
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET doc = doc || $3 WHERE collection = $1 AND id = $2`,
			collection, id, raw)
		if err != nil {
			return pkgerrors.Wrap(err, "updating document")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return core.ErrDocNotFound
		}
		return nil
	})
}

func (b *batch) Delete(collection, id string) {
	b.ops = append(b.ops, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
		return pkgerrors.Wrap(err, "deleting document")
	})
}

func (b *batch) Commit(ctx context.Context) error {
	tx, err := b.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "beginning batch")
	}
	for _, op := range b.ops {
		if err := op(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return pkgerrors.Wrap(tx.Commit(), "committing batch")
}

func decodeDoc(id string, raw []byte) (core.Document, error) {
	data := make(map[string]interface{})
	if err := json.Unmarshal(raw, &data); err != nil {
		return core.Document{}, pkgerrors.Wrapf(err, "decoding document %s", id)
	}
	return core.Document{ID: id, Data: data}, nil
}
