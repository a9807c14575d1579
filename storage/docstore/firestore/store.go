// Package firestore backs the document store with Google Cloud
// Firestore; this is the production backend.
package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	pkgerrors "github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/labtrack/labtrack/core"
)

type store struct {
	client *fs.Client
}

var _ core.DocStore = (*store)(nil)

// NewStore connects to the Firestore project named in the configuration.
// Credentials come from STORE_FIRESTORE_CREDENTIALS when set, otherwise
// from the ambient service account.
func NewStore(ctx context.Context) (core.DocStore, error) {
	var opts []option.ClientOption
	if creds := core.Conf.Store.FirestoreCredentials; creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: core.Conf.Store.FirestoreProject}, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "initializing firebase app")
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "connecting to firestore")
	}
	return &store{client: client}, nil
}

func (s *store) Get(ctx context.Context, collection, id string) (core.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return core.Document{}, mapErr(err)
	}
	return core.Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *store) Query(ctx context.Context, collection string, filters []core.Filter, orderBy ...core.Ordering) ([]core.Document, error) {
	it := s.buildQuery(collection, filters, orderBy).Documents(ctx)
	defer it.Stop()

	var docs []core.Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			return docs, nil
		}
		if err != nil {
			return nil, mapErr(err)
		}
		docs = append(docs, core.Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
}

func (s *store) Subscribe(ctx context.Context, collection string, filters []core.Filter) (<-chan []core.Document, error) {
	snaps := s.buildQuery(collection, filters, nil).Snapshots(ctx)

	out := make(chan []core.Document, 1)
	go func() {
		defer close(out)
		defer snaps.Stop()
		for {
			qs, err := snaps.Next()
			if err != nil {
				return // ctx done or stream torn down
			}
			all, err := qs.Documents.GetAll()
			if err != nil {
				continue
			}
			docs := make([]core.Document, 0, len(all))
			for _, snap := range all {
				docs = append(docs, core.Document{ID: snap.Ref.ID, Data: snap.Data()})
			}
			select {
			case out <- docs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *store) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, data)
	return mapErr(err)
}

func (s *store) Update(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, toUpdates(partial))
	return mapErr(err)
}

func (s *store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx)
	return mapErr(err)
}

func (s *store) Batch() core.WriteBatch {
	return &batch{client: s.client, wb: s.client.Batch()}
}

func (s *store) Close() error {
	return s.client.Close()
}

func (s *store) buildQuery(collection string, filters []core.Filter, orderBy []core.Ordering) fs.Query {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.Where(f.Field, string(f.Op), f.Value)
	}
	for _, o := range orderBy {
		dir := fs.Desc
		if o.Ascending {
			dir = fs.Asc
		}
		q = q.OrderBy(o.Field, dir)
	}
	return q
}

type batch struct {
	client *fs.Client
	wb     *fs.WriteBatch
}

var _ core.WriteBatch = (*batch)(nil)

func (b *batch) Set(collection, id string, data map[string]interface{}) {
	b.wb.Set(b.client.Collection(collection).Doc(id), data)
}

func (b *batch) Update(collection, id string, partial map[string]interface{}) {
	b.wb.Update(b.client.Collection(collection).Doc(id), toUpdates(partial))
}

func (b *batch) Delete(collection, id string) {
	b.wb.Delete(b.client.Collection(collection).Doc(id))
}

func (b *batch) Commit(ctx context.Context) error {
	_, err := b.wb.Commit(ctx)
	return mapErr(err)
}

func toUpdates(partial map[string]interface{}) []fs.Update {
	updates := make([]fs.Update, 0, len(partial))
	for k, v := range partial {
		updates = append(updates, fs.Update{Path: k, Value: v})
	}
	return updates
}

func mapErr(err error) error {
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.NotFound:
		return core.ErrDocNotFound
	case codes.DeadlineExceeded:
		return core.ErrStoreTimeout
	}
	return err
}
