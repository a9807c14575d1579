package inmem

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/labtrack/labtrack/core"
)

func TestStore_GetSetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if _, err := s.Get(ctx, "things", "1"); err != core.ErrDocNotFound {
		t.Fatalf("Get(missing) err = %v; want %v", err, core.ErrDocNotFound)
	}

	if err := s.Set(ctx, "things", "1", map[string]interface{}{"name": "one", "n": 1}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	doc, err := s.Get(ctx, "things", "1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if doc.String("name") != "one" || doc.Int("n") != 1 {
		t.Errorf("Get() = %+v", doc.Data)
	}

	// returned docs are copies
	doc.Data["name"] = "mutated"
	doc2, _ := s.Get(ctx, "things", "1")
	if doc2.String("name") != "one" {
		t.Error("Get() must return an isolated copy")
	}

	if err := s.Update(ctx, "things", "1", map[string]interface{}{"n": 2}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	doc, _ = s.Get(ctx, "things", "1")
	if doc.Int("n") != 2 || doc.String("name") != "one" {
		t.Errorf("Update() should merge, got %+v", doc.Data)
	}

	if err := s.Update(ctx, "things", "nope", map[string]interface{}{"n": 2}); err != core.ErrDocNotFound {
		t.Errorf("Update(missing) err = %v; want %v", err, core.ErrDocNotFound)
	}

	if err := s.Delete(ctx, "things", "1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "things", "1"); err != nil {
		t.Errorf("Delete(missing) should be a no-op, got %v", err)
	}
}

func TestStore_Query(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for id, data := range map[string]map[string]interface{}{
		"a": {"kind": "x", "rank": 3},
		"b": {"kind": "x", "rank": 1},
		"c": {"kind": "y", "rank": 2},
	} {
		if err := s.Set(ctx, "things", id, data); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}

	docs, err := s.Query(ctx, "things", []core.Filter{core.Eq("kind", "x")},
		core.Ordering{Field: "rank", Ascending: true})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "b" || docs[1].ID != "a" {
		t.Errorf("Query() = %v", docs)
	}

	docs, _ = s.Query(ctx, "things", []core.Filter{{Field: "rank", Op: core.OpGte, Value: 2}})
	if len(docs) != 2 {
		t.Errorf("Query(rank >= 2) len = %d; want 2", len(docs))
	}
}

func TestStore_BatchAtomicity(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.Set(ctx, "things", "keep", map[string]interface{}{"n": 1}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	// the update targets a missing doc; nothing in the batch may apply
	b := s.Batch()
	b.Set("things", "new", map[string]interface{}{"n": 2})
	b.Update("things", "missing", map[string]interface{}{"n": 3})
	if err := b.Commit(ctx); err != core.ErrDocNotFound {
		t.Fatalf("Commit() err = %v; want %v", err, core.ErrDocNotFound)
	}
	if _, err := s.Get(ctx, "things", "new"); err != core.ErrDocNotFound {
		t.Error("failed batch must not leave partial writes")
	}

	// a batch update may target a doc set earlier in the same batch
	b = s.Batch()
	b.Set("things", "new", map[string]interface{}{"n": 2})
	b.Update("things", "new", map[string]interface{}{"n": 3})
	b.Delete("things", "keep")
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	doc, err := s.Get(ctx, "things", "new")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if doc.Int("n") != 3 {
		t.Errorf("n = %d; want 3", doc.Int("n"))
	}
	if _, err := s.Get(ctx, "things", "keep"); err != core.ErrDocNotFound {
		t.Error("batch delete did not apply")
	}
}

func TestStore_Subscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStore()

	ch, err := s.Subscribe(ctx, "things", []core.Filter{core.Eq("kind", "x")})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	recv := func() []core.Document {
		select {
		case docs := <-ch:
			return docs
		case <-time.After(time.Second):
			t.Fatal("no snapshot received")
			return nil
		}
	}

	if docs := recv(); len(docs) != 0 {
		t.Errorf("initial snapshot len = %d; want 0", len(docs))
	}

	if err := s.Set(ctx, "things", "a", map[string]interface{}{"kind": "x"}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if docs := recv(); len(docs) != 1 || docs[0].ID != "a" {
		t.Errorf("snapshot after Set = %v", docs)
	}

	// non-matching writes still trigger a (filtered) snapshot
	if err := s.Set(ctx, "things", "b", map[string]interface{}{"kind": "y"}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if docs := recv(); len(docs) != 1 {
		t.Errorf("snapshot len = %d; want 1", len(docs))
	}

	cancel()
	select {
	case _, open := <-ch:
		if open {
			// drain the last pending snapshot, channel must close after
			if _, open = <-ch; open {
				t.Error("channel should close on ctx cancel")
			}
		}
	case <-time.After(time.Second):
		t.Error("channel never closed")
	}
}

// Writes racing subscription cancellation must never hit a closed
// channel.
func TestStore_SubscribeCancelRace(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if err := s.Set(ctx, "things", strconv.Itoa(i%10), map[string]interface{}{"n": i}); err != nil {
				t.Errorf("Set() failed: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		subCtx, cancel := context.WithCancel(ctx)
		ch, err := s.Subscribe(subCtx, "things", nil)
		if err != nil {
			cancel()
			t.Fatalf("Subscribe() failed: %v", err)
		}
		cancel()
		for range ch {
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer never finished")
	}
}
