// Package rtdb is the hierarchical key-value tree every estate store sits on.
// Production uses Firebase Realtime Database; development and tests use an
// in-process tree with the same semantics.
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ErrTooManyRetries is returned when a transaction keeps losing the race.
var ErrTooManyRetries = errors.New("transaction retried too many times")

// Query selects an ordered slice of a node's children.
type Query struct {
	// OrderByChild orders by a child field of each entry. Empty orders by key.
	OrderByChild string
	// LimitToLast keeps only the last N entries after ordering. Zero keeps all.
	LimitToLast int
}

// Node is a single child returned from Children, in query order.
type Node struct {
	Key   string
	Value json.RawMessage
}

// UpdateFn computes the next value of a transaction from the current one.
// current is "null" when nothing is stored. Returning an error aborts the
// transaction with that error. It may be called more than once.
type UpdateFn func(current json.RawMessage) (interface{}, error)

type Tree interface {
	// Get decodes the value at path into v and reports whether one exists.
	// v may be nil to test for existence only.
	Get(ctx context.Context, path string, v interface{}) (bool, error)
	Set(ctx context.Context, path string, v interface{}) error
	// Update writes every entry of values relative to path in one atomic
	// operation. Keys may be nested paths; a nil value deletes.
	Update(ctx context.Context, path string, values map[string]interface{}) error
	Delete(ctx context.Context, path string) error
	Transaction(ctx context.Context, path string, fn UpdateFn) error
	Children(ctx context.Context, path string, q Query) ([]Node, error)
	// Watch calls fn with the current value at path and again after every
	// change until stop is called or ctx ends. Calls are serialized.
	Watch(ctx context.Context, path string, fn func(json.RawMessage)) (stop func(), err error)
	NewKey() string
}

// Join builds a tree path from segments.
func Join(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}

// IsNull reports whether raw holds no value.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Keys decodes an index node (key -> anything) into its key set.
func Keys(raw json.RawMessage) ([]string, error) {
	if IsNull(raw) {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys, nil
}

// NewKey returns a lexicographically time-ordered key.
func NewKey() string {
	return ulid.Make().String()
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
