// Package docstore implements the domain repositories on top of the
// generic core.DocStore contract, so that every backend (Firestore,
// Postgres, in-memory) serves all domains through one codec layer.
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/labtrack/labtrack/core"
)

const defaultTimeout = 10 * time.Second

// storeCtx bounds a store call with the configured timeout.
func storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := defaultTimeout
	if core.Conf != nil && core.Conf.Store.Timeout > 0 {
		timeout = core.Conf.Store.Timeout
	}
	return context.WithTimeout(ctx, timeout)
}

func wrapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrStoreTimeout
	}
	return err
}

func strSlice(doc core.Document, key string) []string {
	raw, _ := doc.Data[key].([]interface{})
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toIfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
