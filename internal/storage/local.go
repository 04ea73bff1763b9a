package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"market-core/internal/fault"
)

// DefaultLocalQuota mirrors the browser local-storage budget the design
// targets: 5 MiB across all namespaces.
const DefaultLocalQuota = 5 << 20

// LocalStore is the file-backed adapter variant: one JSON document file per
// namespace, a single in-process writer, and a hard byte quota. It stands in
// for browser-local storage.
type LocalStore struct {
	mu     sync.Mutex
	dir    string
	quota  int64
	logger *zap.Logger
	data   map[string]map[string]json.RawMessage
}

// NewLocalStore opens (or creates) the store rooted at dir. Namespace files
// that exist are loaded eagerly; a file that fails to parse is a permanent
// fault because silently dropping it would lose user data.
func NewLocalStore(dir string, quota int64, logger *zap.Logger) (*LocalStore, error) {
	if quota <= 0 {
		quota = DefaultLocalQuota
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fault.Permanent("create local store directory", err)
	}

	s := &LocalStore{
		dir:    dir,
		quota:  quota,
		logger: logger,
		data:   make(map[string]map[string]json.RawMessage, len(Namespaces)),
	}

	for _, ns := range Namespaces {
		docs := make(map[string]json.RawMessage)
		raw, err := os.ReadFile(s.path(ns))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fault.Permanent(fmt.Sprintf("read namespace %s", ns), err)
			}
		} else if len(raw) > 0 {
			if err := json.Unmarshal(raw, &docs); err != nil {
				return nil, fault.Permanent(fmt.Sprintf("namespace %s is corrupted", ns), err)
			}
		}
		s.data[ns] = docs
	}

	return s, nil
}

func (s *LocalStore) path(ns string) string {
	return filepath.Join(s.dir, ns+".json")
}

// Load returns the document stored under key.
func (s *LocalStore) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadFrom(s.data, namespace, key)
}

// Query returns matching records ordered by key ascending.
func (s *LocalStore) Query(ctx context.Context, namespace string, pred Predicate) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryFrom(s.data, namespace, pred, s.logger)
}

// Store writes the document under key, replacing any previous value.
func (s *LocalStore) Store(ctx context.Context, namespace, key string, value []byte) error {
	return s.Transaction(ctx, func(tx Tx) error {
		return tx.Store(ctx, namespace, key, value)
	})
}

// Delete removes the document under key.
func (s *LocalStore) Delete(ctx context.Context, namespace, key string) error {
	return s.Transaction(ctx, func(tx Tx) error {
		return tx.Delete(ctx, namespace, key)
	})
}

// Transaction runs fn against a staged overlay of the store. Writes land in
// the overlay and are applied together: all namespace files are rewritten to
// temporary files first and renamed only after every write succeeded, so an
// aborted body or a failed flush leaves the committed state untouched.
func (s *LocalStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &localTx{store: s, staged: make(map[string]map[string]json.RawMessage)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}

	// Quota check against the post-commit size of every namespace.
	var total int64
	for _, ns := range Namespaces {
		docs := s.data[ns]
		if staged, ok := tx.staged[ns]; ok {
			docs = staged
		}
		for key, doc := range docs {
			total += int64(len(key) + len(doc))
		}
	}
	if total > s.quota {
		return fault.Permanent("storage quota exceeded", nil)
	}

	// Flush staged namespaces to temp files, then rename.
	type flush struct{ tmp, final string }
	var flushes []flush
	for ns, docs := range tx.staged {
		raw, err := json.Marshal(docs)
		if err != nil {
			return fault.Permanent(fmt.Sprintf("encode namespace %s", ns), err)
		}
		tmp := s.path(ns) + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return fault.Transient(fmt.Sprintf("write namespace %s", ns), err)
		}
		flushes = append(flushes, flush{tmp: tmp, final: s.path(ns)})
	}
	for _, f := range flushes {
		if err := os.Rename(f.tmp, f.final); err != nil {
			return fault.Transient("commit namespace file", err)
		}
	}

	for ns, docs := range tx.staged {
		s.data[ns] = docs
	}
	return nil
}

// Close flushes nothing; committed state is already on disk.
func (s *LocalStore) Close() error {
	return nil
}

// localTx overlays staged namespace copies on the committed maps. The first
// write to a namespace copies it, so reads inside the transaction observe the
// transaction's own writes.
type localTx struct {
	store  *LocalStore
	staged map[string]map[string]json.RawMessage
}

func (t *localTx) view() map[string]map[string]json.RawMessage {
	merged := make(map[string]map[string]json.RawMessage, len(t.store.data))
	for ns, docs := range t.store.data {
		merged[ns] = docs
	}
	for ns, docs := range t.staged {
		merged[ns] = docs
	}
	return merged
}

func (t *localTx) stage(ns string) (map[string]json.RawMessage, error) {
	if !validNamespace(ns) {
		return nil, fault.Invalidf("unknown namespace %q", ns)
	}
	if docs, ok := t.staged[ns]; ok {
		return docs, nil
	}
	copied := make(map[string]json.RawMessage, len(t.store.data[ns]))
	for k, v := range t.store.data[ns] {
		copied[k] = v
	}
	t.staged[ns] = copied
	return copied, nil
}

func (t *localTx) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	return loadFrom(t.view(), namespace, key)
}

func (t *localTx) Query(ctx context.Context, namespace string, pred Predicate) ([]Record, error) {
	return queryFrom(t.view(), namespace, pred, t.store.logger)
}

func (t *localTx) Store(ctx context.Context, namespace, key string, value []byte) error {
	docs, err := t.stage(namespace)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return fault.Invalidf("value for %s/%s is not valid JSON", namespace, key)
	}
	doc := make(json.RawMessage, len(value))
	copy(doc, value)
	docs[key] = doc
	return nil
}

func (t *localTx) Delete(ctx context.Context, namespace, key string) error {
	docs, err := t.stage(namespace)
	if err != nil {
		return err
	}
	if _, ok := docs[key]; !ok {
		return fault.NotFound(fmt.Sprintf("%s/%s", namespace, key))
	}
	delete(docs, key)
	return nil
}

func loadFrom(data map[string]map[string]json.RawMessage, namespace, key string) ([]byte, error) {
	if !validNamespace(namespace) {
		return nil, fault.Invalidf("unknown namespace %q", namespace)
	}
	doc, ok := data[namespace][key]
	if !ok {
		return nil, fault.NotFound(fmt.Sprintf("%s/%s", namespace, key))
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func queryFrom(data map[string]map[string]json.RawMessage, namespace string, pred Predicate, logger *zap.Logger) ([]Record, error) {
	if !validNamespace(namespace) {
		return nil, fault.Invalidf("unknown namespace %q", namespace)
	}

	keys := make([]string, 0, len(data[namespace]))
	for k := range data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		doc := data[namespace][key]
		match, err := matches(doc, pred)
		if err != nil {
			// A record that fails to decode is dropped from the result,
			// not fatal to the query.
			if logger != nil {
				logger.Warn("Skipping undecodable record",
					zap.String("namespace", namespace),
					zap.String("key", key),
					zap.Error(err),
				)
			}
			continue
		}
		if !match {
			continue
		}
		out := make([]byte, len(doc))
		copy(out, doc)
		records = append(records, Record{Key: key, Value: out})
	}
	return records, nil
}

// matches evaluates equality predicates against top-level JSON fields.
func matches(doc []byte, pred Predicate) (bool, error) {
	if len(pred.Equals) == 0 {
		return true, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false, err
	}
	for name, want := range pred.Equals {
		got, ok := fields[name]
		if !ok {
			return false, nil
		}
		s, ok := got.(string)
		if !ok {
			s = fmt.Sprint(got)
		}
		if s != want {
			return false, nil
		}
	}
	return true, nil
}
