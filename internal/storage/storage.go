package storage

import "context"

// Namespaces known to both adapter variants. The postgres variant maps each
// to its own table; the local variant to its own file.
const (
	NamespaceAccounts = "accounts"
	NamespaceProfiles = "profiles"
	NamespaceProducts = "products"
	NamespaceCarts    = "carts"
	NamespaceOrders   = "orders"
	NamespaceSessions = "sessions"
)

// Namespaces lists every namespace the adapters accept.
var Namespaces = []string{
	NamespaceAccounts,
	NamespaceProfiles,
	NamespaceProducts,
	NamespaceCarts,
	NamespaceOrders,
	NamespaceSessions,
}

// Record is one stored document.
type Record struct {
	Key   string
	Value []byte
}

// Predicate filters Query results by equality on top-level JSON fields of the
// stored document. A zero Predicate matches every record.
type Predicate struct {
	Equals map[string]string
}

// View is the read side shared by the adapter and its transactions.
type View interface {
	// Load returns the document stored under key, or a not-found fault.
	Load(ctx context.Context, namespace, key string) ([]byte, error)
	// Query returns matching records ordered by key ascending. Records that
	// fail to decode are omitted, not fatal.
	Query(ctx context.Context, namespace string, pred Predicate) ([]Record, error)
}

// Tx adds the write side. Writes inside a Transaction become visible to other
// callers only at commit.
type Tx interface {
	View
	Store(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// Adapter abstracts where state lives. Components above this interface never
// know which variant backs them.
type Adapter interface {
	Tx
	// Transaction runs fn against a consistent snapshot and commits its
	// writes atomically. An error from fn aborts with nothing applied.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

func validNamespace(ns string) bool {
	for _, known := range Namespaces {
		if ns == known {
			return true
		}
	}
	return false
}
