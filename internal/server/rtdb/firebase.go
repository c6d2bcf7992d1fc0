package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"firebase.google.com/go/v4/db"
)

const defaultPollInterval = 2 * time.Second

// FirebaseTree is a Tree backed by Firebase Realtime Database.
type FirebaseTree struct {
	client       *db.Client
	pollInterval time.Duration
}

// NewFirebaseTree wraps an Admin SDK database client. Watches poll at
// pollInterval since the Admin SDK offers no streaming listener.
func NewFirebaseTree(client *db.Client, pollInterval time.Duration) *FirebaseTree {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &FirebaseTree{client: client, pollInterval: pollInterval}
}

func (t *FirebaseTree) ref(path string) *db.Ref {
	path = Join(path)
	if path == "" {
		path = "/"
	}
	return t.client.NewRef(path)
}

func (t *FirebaseTree) NewKey() string {
	return NewKey()
}

func (t *FirebaseTree) Get(ctx context.Context, path string, v interface{}) (bool, error) {
	var raw json.RawMessage
	if err := t.ref(path).Get(ctx, &raw); err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if IsNull(raw) {
		return false, nil
	}
	if v == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return true, nil
}

func (t *FirebaseTree) Set(ctx context.Context, path string, v interface{}) error {
	if v == nil {
		return t.Delete(ctx, path)
	}
	if err := t.ref(path).Set(ctx, v); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (t *FirebaseTree) Update(ctx context.Context, path string, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	if err := t.ref(path).Update(ctx, values); err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	return nil
}

func (t *FirebaseTree) Delete(ctx context.Context, path string) error {
	if err := t.ref(path).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (t *FirebaseTree) Transaction(ctx context.Context, path string, fn UpdateFn) error {
	var fnErr error
	err := t.ref(path).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var raw json.RawMessage
		if err := tn.Unmarshal(&raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		next, err := fn(raw)
		if err != nil {
			fnErr = err
		}
		return next, err
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("transaction on %s failed: %w", path, err)
	}
	return nil
}

// Children runs server-side ordered queries. Every OrderByChild in use needs an
// .indexOn entry in database.rules.json or the database rejects the query.
func (t *FirebaseTree) Children(ctx context.Context, path string, q Query) ([]Node, error) {
	var query *db.Query
	if q.OrderByChild != "" {
		query = t.ref(path).OrderByChild(q.OrderByChild)
	} else {
		query = t.ref(path).OrderByKey()
	}
	if q.LimitToLast > 0 {
		query = query.LimitToLast(q.LimitToLast)
	}

	results, err := query.GetOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", path, err)
	}

	nodes := make([]Node, 0, len(results))
	for _, r := range results {
		var raw json.RawMessage
		if err := r.Unmarshal(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", path, r.Key(), err)
		}
		nodes = append(nodes, Node{Key: r.Key(), Value: raw})
	}
	return nodes, nil
}

func (t *FirebaseTree) Watch(ctx context.Context, path string, fn func(json.RawMessage)) (func(), error) {
	ref := t.ref(path)

	var raw json.RawMessage
	etag, err := ref.GetWithETag(ctx, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		fn(normalizeRaw(raw))

		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var next json.RawMessage
				changed, newTag, err := ref.GetIfChanged(ctx, etag, &next)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("Warning: watch poll on %s failed: %v", path, err)
					}
					continue
				}
				if !changed {
					continue
				}
				etag = newTag
				if ctx.Err() != nil {
					return
				}
				fn(normalizeRaw(next))
			}
		}
	}()

	return cancel, nil
}

func normalizeRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
