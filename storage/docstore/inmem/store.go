// Package inmem provides a process-local document store. It backs the
// test suites and the TEST_MODE configuration; nothing survives a
// restart.
package inmem

import (
	"context"
	"sync"

	"github.com/labtrack/labtrack/core"
)

type store struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]interface{} // collection -> id -> doc

	subMu sync.Mutex
	subs  map[string][]*subscriber
}

type subscriber struct {
	filters []core.Filter
	ch      chan []core.Document
}

var _ core.DocStore = (*store)(nil)

func NewStore() core.DocStore {
	return &store{
		data: make(map[string]map[string]map[string]interface{}),
		subs: make(map[string][]*subscriber),
	}
}

func (s *store) Get(ctx context.Context, collection, id string) (core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.data[collection][id]
	if !ok {
		return core.Document{}, core.ErrDocNotFound
	}
	return core.Document{ID: id, Data: deepCopy(doc)}, nil
}

func (s *store) Query(ctx context.Context, collection string, filters []core.Filter, orderBy ...core.Ordering) ([]core.Document, error) {
	s.mu.RLock()
	docs := s.collect(collection, filters)
	s.mu.RUnlock()

	core.SortDocuments(docs, orderBy)
	return docs, nil
}

func (s *store) Subscribe(ctx context.Context, collection string, filters []core.Filter) (<-chan []core.Document, error) {
	sub := &subscriber{filters: filters, ch: make(chan []core.Document, 1)}

	s.subMu.Lock()
	s.subs[collection] = append(s.subs[collection], sub)
	s.subMu.Unlock()

	// initial snapshot; if a notify already delivered one it is newer,
	// so dropping ours is fine
	s.mu.RLock()
	docs := s.collect(collection, filters)
	s.mu.RUnlock()
	core.SortDocuments(docs, nil)
	select {
	case sub.ch <- docs:
	default:
	}

	go func() {
		<-ctx.Done()
		// removal and close happen under subMu so that notify, which
		// sends under the same lock, can never hit a closed channel
		s.subMu.Lock()
		subs := s.subs[collection]
		for i, cand := range subs {
			if cand == sub {
				s.subs[collection] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
		s.subMu.Unlock()
	}()
	return sub.ch, nil
}

func (s *store) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	s.mu.Lock()
	s.set(collection, id, data)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *store) Update(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	s.mu.Lock()
	err := s.update(collection, id, partial)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(collection)
	return nil
}

// Delete is a no-op when the document does not exist, matching the
// managed-backend semantics the repositories rely on.
func (s *store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	delete(s.data[collection], id)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *store) Batch() core.WriteBatch {
	return &batch{store: s}
}

func (s *store) Close() error { return nil }

// ---- internals; callers hold s.mu as appropriate ----

func (s *store) collect(collection string, filters []core.Filter) []core.Document {
	docs := make([]core.Document, 0, len(s.data[collection]))
	for id, data := range s.data[collection] {
		doc := core.Document{ID: id, Data: data}
		if core.MatchDocument(doc, filters) {
			docs = append(docs, core.Document{ID: id, Data: deepCopy(data)})
		}
	}
	return docs
}

func (s *store) set(collection, id string, data map[string]interface{}) {
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]map[string]interface{})
	}
	s.data[collection][id] = deepCopy(data)
}

func (s *store) update(collection, id string, partial map[string]interface{}) error {
	doc, ok := s.data[collection][id]
	if !ok {
		return core.ErrDocNotFound
	}
	for k, v := range deepCopy(partial) {
		doc[k] = v
	}
	return nil
}

func (s *store) notify(collection string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subs[collection] {
		s.mu.RLock()
		docs := s.collect(collection, sub.filters)
		s.mu.RUnlock()
		core.SortDocuments(docs, nil)

		// the channel is buffered; sends never block, so holding subMu
		// here is fine
		select {
		case sub.ch <- docs:
		default:
			// drop the stale snapshot; a newer one replaces it
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- docs:
			default:
			}
		}
	}
}

type batchOp struct {
	kind       string // set, update, delete
	collection string
	id         string
	data       map[string]interface{}
}

// batch applies its operations under one lock; a failing update leaves
// the store untouched.
type batch struct {
	store *store
	ops   []batchOp
}

var _ core.WriteBatch = (*batch)(nil)

func (b *batch) Set(collection, id string, data map[string]interface{}) {
	b.ops = append(b.ops, batchOp{kind: "set", collection: collection, id: id, data: data})
}

func (b *batch) Update(collection, id string, partial map[string]interface{}) {
	b.ops = append(b.ops, batchOp{kind: "update", collection: collection, id: id, data: partial})
}

func (b *batch) Delete(collection, id string) {
	b.ops = append(b.ops, batchOp{kind: "delete", collection: collection, id: id})
}

func (b *batch) Commit(ctx context.Context) error {
	s := b.store
	s.mu.Lock()

	// validate before applying anything
	staged := make(map[string]bool) // "collection/id" set earlier in this batch
	for _, op := range b.ops {
		key := op.collection + "/" + op.id
		switch op.kind {
		case "set":
			staged[key] = true
		case "update":
			if _, ok := s.data[op.collection][op.id]; !ok && !staged[key] {
				s.mu.Unlock()
				return core.ErrDocNotFound
			}
		case "delete":
			delete(staged, key)
		}
	}

	touched := make(map[string]bool)
	for _, op := range b.ops {
		switch op.kind {
		case "set":
			s.set(op.collection, op.id, op.data)
		case "update":
			if err := s.update(op.collection, op.id, op.data); err != nil {
				// only reachable for docs staged then deleted within the batch
				s.mu.Unlock()
				return err
			}
		case "delete":
			delete(s.data[op.collection], op.id)
		}
		touched[op.collection] = true
	}
	s.mu.Unlock()

	for collection := range touched {
		s.notify(collection)
	}
	return nil
}

func deepCopy(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopy(val)
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = copyValue(item)
		}
		return cp
	default:
		return v
	}
}
