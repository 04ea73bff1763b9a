package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/storage"
)

// AccountRepository defines the interface for account data access.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type accountRepository struct {
	store storage.Tx
}

// NewAccountRepository binds the repository to a storage adapter or to a
// transaction in flight.
func NewAccountRepository(store storage.Tx) AccountRepository {
	return &accountRepository{store: store}
}

// Create inserts a new account. The email is stored lowercased; a second
// account with the same email is a conflict.
func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	account.Email = strings.ToLower(account.Email)

	existing, err := r.store.Query(ctx, storage.NamespaceAccounts, storage.Predicate{
		Equals: map[string]string{"email": account.Email},
	})
	if err != nil {
		return fmt.Errorf("failed to check existing account: %w", err)
	}
	if len(existing) > 0 {
		return fault.Conflict("account with this email already exists")
	}

	doc, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	if err := r.store.Store(ctx, storage.NamespaceAccounts, account.ID.String(), doc); err != nil {
		if fault.IsKind(err, fault.KindConflict) {
			return fault.Conflict("account with this email already exists")
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindByEmail retrieves an account by email, case-insensitively.
func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	records, err := r.store.Query(ctx, storage.NamespaceAccounts, storage.Predicate{
		Equals: map[string]string{"email": strings.ToLower(email)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	if len(records) == 0 {
		return nil, fault.NotFound("account not found")
	}

	account := &domain.Account{}
	if err := json.Unmarshal(records[0].Value, account); err != nil {
		return nil, fault.Permanent("account record is corrupted", err)
	}
	return account, nil
}

// FindByID retrieves an account by its id.
func (r *accountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	doc, err := r.store.Load(ctx, storage.NamespaceAccounts, id.String())
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil, fault.NotFound("account not found")
		}
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}

	account := &domain.Account{}
	if err := json.Unmarshal(doc, account); err != nil {
		return nil, fault.Permanent("account record is corrupted", err)
	}
	return account, nil
}
