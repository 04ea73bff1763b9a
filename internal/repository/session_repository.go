package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/storage"
)

// sessionKey is the single slot the client process persists its session in.
const sessionKey = "current"

// SessionRepository persists the current session token so a restart can
// resolve it back to a profile before anything renders.
type SessionRepository interface {
	Save(ctx context.Context, session *domain.Session) error
	Load(ctx context.Context) (*domain.Session, error)
	Clear(ctx context.Context) error
}

type sessionRepository struct {
	store storage.Tx
}

// NewSessionRepository binds the repository to a storage adapter.
func NewSessionRepository(store storage.Tx) SessionRepository {
	return &sessionRepository{store: store}
}

func (r *sessionRepository) Save(ctx context.Context, session *domain.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.store.Store(ctx, storage.NamespaceSessions, sessionKey, doc); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (r *sessionRepository) Load(ctx context.Context) (*domain.Session, error) {
	doc, err := r.store.Load(ctx, storage.NamespaceSessions, sessionKey)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil, fault.NotFound("no persisted session")
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session := &domain.Session{}
	if err := json.Unmarshal(doc, session); err != nil {
		return nil, fault.Permanent("session record is corrupted", err)
	}
	return session, nil
}

func (r *sessionRepository) Clear(ctx context.Context) error {
	if err := r.store.Delete(ctx, storage.NamespaceSessions, sessionKey); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil
		}
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
