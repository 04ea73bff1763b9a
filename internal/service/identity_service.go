package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"market-core/internal/authz"
	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/repository"
	"market-core/internal/storage"
	"market-core/internal/validation"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing.
	BcryptCost = 10

	defaultSessionExpiry = 24 * time.Hour
)

// Listener receives the new (session, profile) pair on every identity change.
// It runs synchronously on the goroutine that performed the change.
type Listener func(session *domain.Session, profile *domain.Profile)

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	Phone       string
	Role        string
	PromptPayID string
	LineID      string
}

// IdentityService is the authoritative source of "who is acting right now".
// It holds the single process-wide (session, profile) pair.
type IdentityService interface {
	Register(ctx context.Context, input RegisterInput) (*domain.Profile, error)
	Login(ctx context.Context, email, password string) (*domain.Session, *domain.Profile, error)
	LoginByNameAndPhone(ctx context.Context, name, phone string) (*domain.Session, *domain.Profile, error)
	Logout(ctx context.Context) error
	Restore(ctx context.Context) error
	UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (*domain.Profile, error)
	Current() (*domain.Session, *domain.Profile)
	Subscribe(listener Listener) (unsubscribe func())
	// CartKey is the key the cart is staged under for the current identity:
	// the account id for a full session, otherwise a process-local
	// anonymous token.
	CartKey() string
	// AnonymousCartKey is the stable pre-login staging key; it survives
	// login so the merge can find the staged cart.
	AnonymousCartKey() string
	ValidateToken(token string) (*domain.Session, *domain.Profile, error)
}

type identityService struct {
	store         storage.Adapter
	accountRepo   repository.AccountRepository
	profileRepo   repository.ProfileRepository
	sessionRepo   repository.SessionRepository
	jwtSecret     string
	sessionExpiry time.Duration
	logger        *zap.Logger

	mu        sync.RWMutex
	session   *domain.Session
	profile   *domain.Profile
	anonKey   string
	listeners map[int]Listener
	nextID    int
}

// NewIdentityService creates the identity service. expiryMinutes <= 0 falls
// back to 24 hours.
func NewIdentityService(store storage.Adapter, jwtSecret string, expiryMinutes int, logger *zap.Logger) IdentityService {
	expiry := defaultSessionExpiry
	if expiryMinutes > 0 {
		expiry = time.Duration(expiryMinutes) * time.Minute
	}
	return &identityService{
		store:         store,
		accountRepo:   repository.NewAccountRepository(store),
		profileRepo:   repository.NewProfileRepository(store),
		sessionRepo:   repository.NewSessionRepository(store),
		jwtSecret:     jwtSecret,
		sessionExpiry: expiry,
		logger:        logger,
		anonKey:       "anon-" + uuid.New().String(),
		listeners:     make(map[int]Listener),
	}
}

type sessionClaims struct {
	AccountID     uuid.UUID `json:"account_id"`
	Role          string    `json:"role"`
	Informational bool      `json:"informational"`
	jwt.RegisteredClaims
}

// Register atomically creates the account and its profile, then signs the
// new user in. The adapter transaction guarantees no account ever exists
// without its profile.
func (s *identityService) Register(ctx context.Context, input RegisterInput) (*domain.Profile, error) {
	email, err := validation.Email(input.Email)
	if err != nil {
		return nil, err
	}
	if err := validation.Password(input.Password); err != nil {
		return nil, err
	}
	phone, err := validation.Phone(input.Phone)
	if err != nil {
		return nil, err
	}
	name, err := validation.BuyerName(input.Name)
	if err != nil {
		return nil, err
	}
	if input.Role != domain.RoleBuyer && input.Role != domain.RoleSeller {
		return nil, fault.Invalid("role", "must be buyer or seller")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hashed),
		CreatedAt:    now,
	}
	profile := &domain.Profile{
		AccountID:   account.ID,
		Name:        name,
		Phone:       phone,
		Role:        input.Role,
		PromptPayID: input.PromptPayID,
		LineID:      input.LineID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.Transaction(ctx, func(tx storage.Tx) error {
		if err := repository.NewAccountRepository(tx).Create(ctx, account); err != nil {
			return err
		}
		return repository.NewProfileRepository(tx).Create(ctx, profile)
	})
	if err != nil {
		return nil, err
	}

	session, err := s.issueSession(ctx, account.ID, profile.Role, false)
	if err != nil {
		// The account exists; the next login picks it up.
		s.logger.Warn("Registered but failed to issue session", zap.Error(err))
		return profile, nil
	}
	s.setCurrent(session, profile)
	return profile, nil
}

// Login authenticates by email and password.
func (s *identityService) Login(ctx context.Context, email, password string) (*domain.Session, *domain.Profile, error) {
	account, err := s.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil, nil, fault.Unauthorized("invalid email or password")
		}
		return nil, nil, fmt.Errorf("failed to find account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, fault.Unauthorized("invalid email or password")
	}

	profile, err := s.profileRepo.Get(ctx, account.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profile: %w", err)
	}

	session, err := s.issueSession(ctx, account.ID, profile.Role, false)
	if err != nil {
		return nil, nil, err
	}
	s.setCurrent(session, profile)
	return session, profile, nil
}

// LoginByNameAndPhone is the reduced-friction sign-in. The session it
// produces is informational: the gate refuses every write for it, so it can
// only pre-fill forms and show profile-scoped reads.
func (s *identityService) LoginByNameAndPhone(ctx context.Context, name, phone string) (*domain.Session, *domain.Profile, error) {
	normalized, err := validation.Phone(phone)
	if err != nil {
		return nil, nil, err
	}

	profile, err := s.profileRepo.FindOne(ctx, map[string]string{
		"name":  name,
		"phone": normalized,
	})
	if err != nil {
		return nil, nil, err
	}

	session, err := s.issueSession(ctx, profile.AccountID, profile.Role, true)
	if err != nil {
		return nil, nil, err
	}
	s.setCurrent(session, profile)
	return session, profile, nil
}

// Logout clears the in-process pair and the persisted token.
func (s *identityService) Logout(ctx context.Context) error {
	if err := s.sessionRepo.Clear(ctx); err != nil {
		return err
	}
	s.setCurrent(nil, nil)
	return nil
}

// Restore resolves any persisted session to a profile. It is called once at
// startup, before anything renders. A stale or undecodable session is
// cleared, not fatal.
func (s *identityService) Restore(ctx context.Context) error {
	persisted, err := s.sessionRepo.Load(ctx)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil
		}
		if fault.IsKind(err, fault.KindPermanent) {
			s.logger.Warn("Persisted session is unreadable; clearing it", zap.Error(err))
			return s.sessionRepo.Clear(ctx)
		}
		return err
	}

	if !persisted.Informational {
		if _, err := s.parseToken(persisted.Token); err != nil {
			s.logger.Info("Persisted session expired; clearing it")
			return s.sessionRepo.Clear(ctx)
		}
	}

	profile, err := s.profileRepo.Get(ctx, persisted.AccountID)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			s.logger.Warn("Persisted session has no profile; clearing it")
			return s.sessionRepo.Clear(ctx)
		}
		return err
	}

	s.setCurrent(persisted, profile)
	return nil
}

// UpdateProfile patches the current user's profile. The patch type cannot
// carry a role, so the role is immutable here by construction. The in-process
// pair is refreshed and listeners notified so profile-bound views re-read.
func (s *identityService) UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (*domain.Profile, error) {
	session, profile := s.Current()
	subject := authz.SubjectFrom(session, profile)
	if err := authz.Authorize(subject, authz.ActionUpdateProfile, nil); err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name, err := validation.BuyerName(*patch.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if patch.Phone != nil {
		phone, err := validation.Phone(*patch.Phone)
		if err != nil {
			return nil, err
		}
		patch.Phone = &phone
	}

	updated, err := s.profileRepo.Update(ctx, session.AccountID, patch)
	if err != nil {
		return nil, err
	}

	s.setCurrent(session, updated)
	return updated, nil
}

// Current returns the in-process (session, profile) pair; both nil when
// signed out.
func (s *identityService) Current() (*domain.Session, *domain.Profile) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.profile
}

// Subscribe registers a listener for identity changes and returns its
// unsubscribe function. Each change notifies each listener at most once.
func (s *identityService) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *identityService) CartKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session != nil && !s.session.Informational {
		return s.session.AccountID.String()
	}
	return s.anonKey
}

func (s *identityService) AnonymousCartKey() string {
	return s.anonKey
}

// ValidateToken checks a presented token against the current session. The
// process holds exactly one session, so anything else is rejected.
func (s *identityService) ValidateToken(token string) (*domain.Session, *domain.Profile, error) {
	s.mu.RLock()
	session, profile := s.session, s.profile
	s.mu.RUnlock()

	if session == nil || session.Token != token {
		return nil, nil, fault.Unauthorized("invalid session token")
	}
	if !session.Informational {
		if _, err := s.parseToken(token); err != nil {
			return nil, nil, fault.Unauthorized("session expired")
		}
	}
	return session, profile, nil
}

func (s *identityService) issueSession(ctx context.Context, accountID uuid.UUID, role string, informational bool) (*domain.Session, error) {
	now := time.Now().UTC()
	claims := &sessionClaims{
		AccountID:     accountID,
		Role:          role,
		Informational: informational,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	session := &domain.Session{
		AccountID:     accountID,
		Token:         token,
		IssuedAt:      now,
		Informational: informational,
	}
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *identityService) parseToken(tokenString string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, fault.Unauthorized("invalid token")
	}
	return claims, nil
}

// setCurrent swaps the pair and fans out to listeners synchronously, outside
// the lock so a listener may call back into the service.
func (s *identityService) setCurrent(session *domain.Session, profile *domain.Profile) {
	s.mu.Lock()
	s.session = session
	s.profile = profile
	notify := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		notify = append(notify, l)
	}
	s.mu.Unlock()

	for _, l := range notify {
		l(session, profile)
	}
}
