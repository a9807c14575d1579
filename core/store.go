package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Consumed collections.
const (
	ColStudents    = "students"
	ColSubjects    = "subjects"
	ColPractices   = "practices"
	ColStaff       = "staff"
	ColEquipment   = "equipment"
	ColSessions    = "session_state"
	ColAttendance  = "live_attendance"
	ColArchives    = "archived_sessions"
	ColClassInfo   = "class_information"
	ColAuditLog    = "audit_log"
)

var (
	ErrDocNotFound  = errors.New("document not found")
	ErrStoreTimeout = errors.New("document store timed out")
)

type FilterOp string

const (
	OpEq  FilterOp = "=="
	OpLt  FilterOp = "<"
	OpLte FilterOp = "<="
	OpGt  FilterOp = ">"
	OpGte FilterOp = ">="
)

// Filter is a field predicate applied server-side by the store.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

type Ordering struct {
	Field     string
	Ascending bool
}

// Document is a raw store document. Data values are limited to strings,
// bools, numbers and nested maps/slices thereof; timestamps are stored
// as RFC3339 strings so that all backends order them the same way.
type Document struct {
	ID   string
	Data map[string]interface{}
}

func (d Document) String(key string) string {
	if s, ok := d.Data[key].(string); ok {
		return s
	}
	return ""
}

func (d Document) Bool(key string) bool {
	if b, ok := d.Data[key].(bool); ok {
		return b
	}
	return false
}

func (d Document) Int(key string) int {
	switch n := d.Data[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (d Document) Time(key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, d.String(key))
	return t
}

type (
	// WriteBatch accumulates writes that commit atomically: either every
	// operation is applied or none is. Batches are write-only.
	WriteBatch interface {
		Set(collection, id string, data map[string]interface{})
		Update(collection, id string, partial map[string]interface{})
		Delete(collection, id string)
		Commit(ctx context.Context) error
	}

	// DocStore is the generic collection/document storage contract all
	// repositories are built on.
	DocStore interface {
		Get(ctx context.Context, collection, id string) (Document, error)
		Query(ctx context.Context, collection string, filters []Filter, orderBy ...Ordering) ([]Document, error)
		// Subscribe emits the full matching document set on every relevant
		// change until ctx is done. The returned channel is closed on exit.
		Subscribe(ctx context.Context, collection string, filters []Filter) (<-chan []Document, error)
		Set(ctx context.Context, collection, id string, data map[string]interface{}) error
		Update(ctx context.Context, collection, id string, partial map[string]interface{}) error
		Delete(ctx context.Context, collection, id string) error
		Batch() WriteBatch
		Close() error
	}
)

// timeLayout keeps the fraction fixed-width; RFC3339Nano trims
// trailing zeros, which breaks the lexical ordering backends rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t the way documents store timestamps.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// MatchDocument reports whether doc satisfies every filter. Backends
// without server-side predicates (in-memory, Postgres JSONB) share it
// so all stores filter identically.
func MatchDocument(doc Document, filters []Filter) bool {
	for _, f := range filters {
		cmp, ok := compareValues(doc.Data[f.Field], f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			if cmp != 0 {
				return false
			}
		case OpLt:
			if cmp >= 0 {
				return false
			}
		case OpLte:
			if cmp > 0 {
				return false
			}
		case OpGt:
			if cmp <= 0 {
				return false
			}
		case OpGte:
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SortDocuments orders docs by the given orderings, falling back to the
// document ID for a stable total order.
func SortDocuments(docs []Document, orderBy []Ordering) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orderBy {
			cmp, ok := compareValues(docs[i].Data[o.Field], docs[j].Data[o.Field])
			if !ok || cmp == 0 {
				continue
			}
			if o.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return docs[i].ID < docs[j].ID
	})
}

func compareValues(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case av:
				return 1, true
			default:
				return -1, true
			}
		}
	case int, int64, float64:
		if bf, ok := toFloat(b); ok {
			af, _ := toFloat(a)
			switch {
			case af == bf:
				return 0, true
			case af < bf:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
