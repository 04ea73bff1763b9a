package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"market-core/internal/fault"
)

const (
	txMaxRetries = 3
	txBackoff    = 50 * time.Millisecond
)

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PostgresStore is the remote adapter variant: one table per namespace, each
// row a (key, jsonb doc) pair with last-write-wins semantics. Server-side row
// policies are the real authorization boundary; the client gate only saves a
// round-trip.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore wraps an open connection pool. Schema setup is the
// migration runner's job.
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Load returns the document stored under key.
func (s *PostgresStore) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	return pgLoad(ctx, s.db, namespace, key)
}

// Query returns matching records ordered by key ascending.
func (s *PostgresStore) Query(ctx context.Context, namespace string, pred Predicate) ([]Record, error) {
	return pgQuery(ctx, s.db, namespace, pred, s.logger)
}

// Store upserts the document under key. Last write wins.
func (s *PostgresStore) Store(ctx context.Context, namespace, key string, value []byte) error {
	return pgStore(ctx, s.db, namespace, key, value)
}

// Delete removes the document under key.
func (s *PostgresStore) Delete(ctx context.Context, namespace, key string) error {
	return pgDelete(ctx, s.db, namespace, key)
}

// Transaction runs fn inside a serializable SQL transaction, retrying with
// jittered backoff when the database reports a serialization or deadlock
// failure.
func (s *PostgresStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	backoff := txBackoff

	for attempt := 0; attempt <= txMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fault.Transient("transaction cancelled", ctx.Err())
		default:
		}

		sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return classify("begin transaction", err)
		}

		err = fn(&pgTx{tx: sqlTx, logger: s.logger})
		if err == nil {
			err = sqlTx.Commit()
			if err == nil {
				return nil
			}
			err = classify("commit transaction", err)
		} else {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("Transaction rollback failed", zap.Error(rbErr))
			}
		}

		if !retryableTx(err) || attempt == txMaxRetries {
			return err
		}
		lastErr = err

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return fault.Transient("transaction cancelled", ctx.Err())
		}
		backoff *= 2
	}

	return lastErr
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx     *sql.Tx
	logger *zap.Logger
}

func (t *pgTx) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	return pgLoad(ctx, t.tx, namespace, key)
}

func (t *pgTx) Query(ctx context.Context, namespace string, pred Predicate) ([]Record, error) {
	return pgQuery(ctx, t.tx, namespace, pred, t.logger)
}

func (t *pgTx) Store(ctx context.Context, namespace, key string, value []byte) error {
	return pgStore(ctx, t.tx, namespace, key, value)
}

func (t *pgTx) Delete(ctx context.Context, namespace, key string) error {
	return pgDelete(ctx, t.tx, namespace, key)
}

func pgLoad(ctx context.Context, ex executor, namespace, key string) ([]byte, error) {
	table, err := tableFor(namespace)
	if err != nil {
		return nil, err
	}

	var doc []byte
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE key = $1`, table)
	if err := ex.QueryRowContext(ctx, query, key).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.NotFound(fmt.Sprintf("%s/%s", namespace, key))
		}
		return nil, classify("load record", err)
	}
	return doc, nil
}

func pgStore(ctx context.Context, ex executor, namespace, key string, value []byte) error {
	table, err := tableFor(namespace)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, table)
	if _, err := ex.ExecContext(ctx, query, key, value); err != nil {
		return classify("store record", err)
	}
	return nil
}

func pgDelete(ctx context.Context, ex executor, namespace, key string) error {
	table, err := tableFor(namespace)
	if err != nil {
		return err
	}

	result, err := ex.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table), key)
	if err != nil {
		return classify("delete record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classify("delete record", err)
	}
	if affected == 0 {
		return fault.NotFound(fmt.Sprintf("%s/%s", namespace, key))
	}
	return nil
}

func pgQuery(ctx context.Context, ex executor, namespace string, pred Predicate, logger *zap.Logger) ([]Record, error) {
	table, err := tableFor(namespace)
	if err != nil {
		return nil, err
	}

	where := ""
	args := []any{}
	if len(pred.Equals) > 0 {
		// Deterministic clause order keeps query plans stable.
		names := make([]string, 0, len(pred.Equals))
		for name := range pred.Equals {
			names = append(names, name)
		}
		sort.Strings(names)

		for i, name := range names {
			if !fieldNamePattern.MatchString(name) {
				return nil, fault.Invalidf("invalid predicate field %q", name)
			}
			if i == 0 {
				where = "WHERE "
			} else {
				where += " AND "
			}
			where += fmt.Sprintf("doc->>'%s' = $%d", name, i+1)
			args = append(args, pred.Equals[name])
		}
	}

	query := fmt.Sprintf(`SELECT key, doc FROM %s %s ORDER BY key ASC`, table, where)
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query records", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			if logger != nil {
				logger.Warn("Skipping unscannable record",
					zap.String("namespace", namespace),
					zap.Error(err),
				)
			}
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate records", err)
	}
	return records, nil
}

// tableFor maps a namespace to its table, refusing anything outside the
// allowlist so namespace strings can never reach SQL unchecked.
func tableFor(ns string) (string, error) {
	if !validNamespace(ns) {
		return "", fault.Invalidf("unknown namespace %q", ns)
	}
	return ns, nil
}

// classify maps a driver error onto the fault taxonomy.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fault.Transient(op, err)
		case "23505":
			return fault.Conflict(pgErr.Detail)
		case "53100", "53200", "53300":
			return fault.Permanent(op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.Transient(op, err)
	}

	return fault.Permanent(op, err)
}

func retryableTx(err error) bool {
	return fault.IsRetryable(err)
}
