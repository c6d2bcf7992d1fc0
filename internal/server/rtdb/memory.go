package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const maxTransactionRetries = 25

// MemoryTree is an in-process Tree. Values are normalized through JSON on
// write so reads behave exactly like the hosted database.
type MemoryTree struct {
	mu       sync.Mutex
	root     map[string]interface{}
	watchers map[int]*memoryWatcher
	nextID   int
}

type memoryWatcher struct {
	path   []string
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewMemoryTree() *MemoryTree {
	return &MemoryTree{
		root:     make(map[string]interface{}),
		watchers: make(map[int]*memoryWatcher),
	}
}

func (t *MemoryTree) NewKey() string {
	return NewKey()
}

func (t *MemoryTree) Get(ctx context.Context, path string, v interface{}) (bool, error) {
	raw, err := t.read(path)
	if err != nil {
		return false, err
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

func (t *MemoryTree) Set(ctx context.Context, path string, v interface{}) error {
	return t.Update(ctx, "", map[string]interface{}{Join(path): v})
}

func (t *MemoryTree) Delete(ctx context.Context, path string) error {
	return t.Set(ctx, path, nil)
}

func (t *MemoryTree) Update(ctx context.Context, path string, values map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	// Normalize everything before touching the tree so a bad value leaves
	// no partial write behind.
	type write struct {
		parts []string
		value interface{}
	}
	writes := make([]write, 0, len(values))
	for key, v := range values {
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", Join(path, key), err)
		}
		writes = append(writes, write{parts: splitPath(Join(path, key)), value: nv})
	}
	sort.Slice(writes, func(i, j int) bool { return len(writes[i].parts) < len(writes[j].parts) })

	written := make([][]string, 0, len(writes))
	t.mu.Lock()
	for _, w := range writes {
		t.setLocked(w.parts, w.value)
		written = append(written, w.parts)
	}
	t.notifyLocked(written)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTree) Transaction(ctx context.Context, path string, fn UpdateFn) error {
	parts := splitPath(path)
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := t.read(path)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		nv, err := normalize(next)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}

		t.mu.Lock()
		now, err := json.Marshal(getNode(t.root, parts))
		if err != nil {
			t.mu.Unlock()
			return err
		}
		if !bytes.Equal(now, current) {
			t.mu.Unlock()
			continue
		}
		t.setLocked(parts, nv)
		t.notifyLocked([][]string{parts})
		t.mu.Unlock()
		return nil
	}
	return ErrTooManyRetries
}

func (t *MemoryTree) Children(ctx context.Context, path string, q Query) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	node, ok := getNode(t.root, splitPath(path)).(map[string]interface{})
	if !ok {
		t.mu.Unlock()
		return nil, nil
	}
	type entry struct {
		key   string
		value interface{}
		order interface{}
	}
	entries := make([]entry, 0, len(node))
	for k, v := range node {
		e := entry{key: k, value: v}
		if q.OrderByChild != "" {
			if m, ok := v.(map[string]interface{}); ok {
				e.order = getNode(m, splitPath(q.OrderByChild))
			}
		}
		entries = append(entries, e)
	}

	nodes := make([]Node, 0, len(entries))
	sort.Slice(entries, func(i, j int) bool {
		if q.OrderByChild != "" {
			if c := compareValues(entries[i].order, entries[j].order); c != 0 {
				return c < 0
			}
		}
		return entries[i].key < entries[j].key
	})
	if q.LimitToLast > 0 && len(entries) > q.LimitToLast {
		entries = entries[len(entries)-q.LimitToLast:]
	}
	for _, e := range entries {
		raw, err := json.Marshal(e.value)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		nodes = append(nodes, Node{Key: e.key, Value: raw})
	}
	t.mu.Unlock()
	return nodes, nil
}

func (t *MemoryTree) Watch(ctx context.Context, path string, fn func(json.RawMessage)) (func(), error) {
	w := &memoryWatcher{
		path:   splitPath(path),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	w.notify <- struct{}{}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = w
	t.mu.Unlock()

	stop := func() {
		w.once.Do(func() {
			close(w.done)
			t.mu.Lock()
			delete(t.watchers, id)
			t.mu.Unlock()
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-w.notify:
				raw, err := t.read(path)
				if err != nil {
					continue
				}
				select {
				case <-w.done:
					return
				default:
				}
				fn(raw)
			}
		}
	}()

	return stop, nil
}

// Snapshot returns the whole tree as JSON. Used by tests and the admin CLI.
func (t *MemoryTree) Snapshot() (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(t.root)
}

func (t *MemoryTree) read(path string) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(getNode(t.root, splitPath(path)))
}

func (t *MemoryTree) setLocked(parts []string, value interface{}) {
	if len(parts) == 0 {
		if m, ok := value.(map[string]interface{}); ok {
			t.root = m
		} else {
			t.root = make(map[string]interface{})
		}
		return
	}

	if value == nil {
		deleteNode(t.root, parts)
		return
	}

	node := t.root
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// notifyLocked wakes every watcher whose path overlaps a written path.
func (t *MemoryTree) notifyLocked(written [][]string) {
	for _, w := range t.watchers {
		for _, p := range written {
			if overlaps(w.path, p) {
				w.wake()
				break
			}
		}
	}
}

func (w *memoryWatcher) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func getNode(root map[string]interface{}, parts []string) interface{} {
	var node interface{} = root
	if len(parts) == 0 {
		if len(root) == 0 {
			return nil
		}
		return root
	}
	for _, p := range parts {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node, ok = m[p]
		if !ok {
			return nil
		}
	}
	return node
}

// deleteNode removes the node at parts and prunes parents left empty.
func deleteNode(node map[string]interface{}, parts []string) bool {
	if len(parts) == 1 {
		delete(node, parts[0])
		return len(node) == 0
	}
	child, ok := node[parts[0]].(map[string]interface{})
	if !ok {
		return len(node) == 0
	}
	if deleteNode(child, parts[1:]) {
		delete(node, parts[0])
	}
	return len(node) == 0
}

func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize round-trips v through JSON, dropping nulls and empty objects the
// way the hosted database does.
func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

func prune(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	for k, child := range m {
		child = prune(child)
		if child == nil {
			delete(m, k)
			continue
		}
		m[k] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// compareValues orders the way the hosted database orders child values:
// null, false, true, numbers, strings, objects.
func compareValues(a, b interface{}) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case json.Number:
		af, _ := av.Float64()
		bf, _ := b.(json.Number).Float64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

func valueRank(v interface{}) int {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 2
		}
		return 1
	case json.Number:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}
