package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/storage"
)

// ProfileRepository defines the interface for profile data access. There is
// exactly one profile row per account; role never changes after creation.
type ProfileRepository interface {
	Create(ctx context.Context, profile *domain.Profile) error
	Get(ctx context.Context, accountID uuid.UUID) (*domain.Profile, error)
	FindOne(ctx context.Context, fields map[string]string) (*domain.Profile, error)
	Update(ctx context.Context, accountID uuid.UUID, patch domain.ProfilePatch) (*domain.Profile, error)
}

type profileRepository struct {
	store storage.Tx
}

// NewProfileRepository binds the repository to a storage adapter or to a
// transaction in flight.
func NewProfileRepository(store storage.Tx) ProfileRepository {
	return &profileRepository{store: store}
}

// Create inserts the profile for an account. A second profile for the same
// account is a conflict.
func (r *profileRepository) Create(ctx context.Context, profile *domain.Profile) error {
	key := profile.AccountID.String()

	if _, err := r.store.Load(ctx, storage.NamespaceProfiles, key); err == nil {
		return fault.Conflict("profile already exists for this account")
	} else if !fault.IsKind(err, fault.KindNotFound) {
		return fmt.Errorf("failed to check existing profile: %w", err)
	}

	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := r.store.Store(ctx, storage.NamespaceProfiles, key, doc); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// Get retrieves the profile keyed by account id.
func (r *profileRepository) Get(ctx context.Context, accountID uuid.UUID) (*domain.Profile, error) {
	doc, err := r.store.Load(ctx, storage.NamespaceProfiles, accountID.String())
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil, fault.NotFound("profile not found")
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	profile := &domain.Profile{}
	if err := json.Unmarshal(doc, profile); err != nil {
		return nil, fault.Permanent("profile record is corrupted", err)
	}
	return profile, nil
}

// FindOne returns the first profile whose fields all equal the given values,
// e.g. {"name": ..., "phone": ...} for the quick login.
func (r *profileRepository) FindOne(ctx context.Context, fields map[string]string) (*domain.Profile, error) {
	records, err := r.store.Query(ctx, storage.NamespaceProfiles, storage.Predicate{Equals: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to search profiles: %w", err)
	}
	if len(records) == 0 {
		return nil, fault.NotFound("profile not found")
	}

	profile := &domain.Profile{}
	if err := json.Unmarshal(records[0].Value, profile); err != nil {
		return nil, fault.Permanent("profile record is corrupted", err)
	}
	return profile, nil
}

// Update applies a patch to the profile. The patch type carries no role
// field, so role immutability holds by construction.
func (r *profileRepository) Update(ctx context.Context, accountID uuid.UUID, patch domain.ProfilePatch) (*domain.Profile, error) {
	profile, err := r.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		profile.Name = *patch.Name
	}
	if patch.Phone != nil {
		profile.Phone = *patch.Phone
	}
	if patch.PromptPayID != nil {
		profile.PromptPayID = *patch.PromptPayID
	}
	if patch.LineID != nil {
		profile.LineID = *patch.LineID
	}
	profile.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := r.store.Store(ctx, storage.NamespaceProfiles, accountID.String(), doc); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return profile, nil
}
