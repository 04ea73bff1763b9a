package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"market-core/internal/domain"
	"market-core/internal/middleware"
	"market-core/internal/service"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	Name        string `json:"name" validate:"required"`
	Phone       string `json:"phone" validate:"required,mobilephone"`
	Role        string `json:"role" validate:"required,oneof=buyer seller"`
	PromptPayID string `json:"prompt_pay_id"`
	LineID      string `json:"line_id"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// QuickLoginRequest represents the reduced-friction sign-in payload
type QuickLoginRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required,mobilephone"`
}

// UpdateProfileRequest carries optional profile field updates
type UpdateProfileRequest struct {
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	PromptPayID *string `json:"prompt_pay_id,omitempty"`
	LineID      *string `json:"line_id,omitempty"`
}

// ProfileResponse represents profile data returned to clients
type ProfileResponse struct {
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
	PromptPayID string `json:"prompt_pay_id,omitempty"`
	LineID      string `json:"line_id,omitempty"`
}

// LoginResponse represents a successful sign-in
type LoginResponse struct {
	Token         string          `json:"token"`
	Informational bool            `json:"informational"`
	IssuedAt      string          `json:"issued_at"`
	Profile       ProfileResponse `json:"profile"`
}

// AuthHandler handles HTTP requests for identity operations
type AuthHandler struct {
	identity service.IdentityService
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(identity service.IdentityService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, logger: logger}
}

// RegisterRoutes registers all auth routes. Extra middleware (rate limiting)
// wraps the whole group.
func (h *AuthHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler, extra ...func(http.Handler) http.Handler) {
	r.Route("/api/auth", func(r chi.Router) {
		for _, mw := range extra {
			r.Use(mw)
		}
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/quick-login", h.QuickLogin)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
			r.Put("/profile", h.UpdateProfile)
		})
	})
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Registration validation failed", zap.Error(err))
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.identity.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		Phone:       req.Phone,
		Role:        req.Role,
		PromptPayID: req.PromptPayID,
		LineID:      req.LineID,
	})
	if err != nil {
		h.logger.Debug("Registration failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	h.logger.Info("User registered", zap.String("account_id", profile.AccountID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// Login handles email and password authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Login validation failed", zap.Error(err))
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, profile, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Debug("Login failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	h.logger.Info("User logged in", zap.String("account_id", session.AccountID.String()))
	middleware.RespondWithJSON(w, http.StatusOK, toLoginResponse(session, profile))
}

// QuickLogin handles name and phone sign-in. The resulting session is
// informational: it can pre-fill forms but every write is refused.
func (h *AuthHandler) QuickLogin(w http.ResponseWriter, r *http.Request) {
	var req QuickLoginRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Quick login validation failed", zap.Error(err))
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, profile, err := h.identity.LoginByNameAndPhone(r.Context(), req.Name, req.Phone)
	if err != nil {
		h.logger.Debug("Quick login failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toLoginResponse(session, profile))
}

// Logout handles sign-out
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.Logout(r.Context()); err != nil {
		h.logger.Error("Logout failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// Me returns the current profile
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	_, profile := h.identity.Current()
	if profile == nil {
		middleware.RespondWithError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, toProfileResponse(profile))
}

// UpdateProfile patches the current profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.identity.UpdateProfile(r.Context(), domain.ProfilePatch{
		Name:        req.Name,
		Phone:       req.Phone,
		PromptPayID: req.PromptPayID,
		LineID:      req.LineID,
	})
	if err != nil {
		h.logger.Debug("Profile update failed", zap.Error(err))
		middleware.RespondWithFault(w, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toProfileResponse(profile))
}

func toProfileResponse(p *domain.Profile) ProfileResponse {
	return ProfileResponse{
		AccountID:   p.AccountID.String(),
		Name:        p.Name,
		Phone:       p.Phone,
		Role:        p.Role,
		PromptPayID: p.PromptPayID,
		LineID:      p.LineID,
	}
}

func toLoginResponse(s *domain.Session, p *domain.Profile) LoginResponse {
	return LoginResponse{
		Token:         s.Token,
		Informational: s.Informational,
		IssuedAt:      s.IssuedAt.Format(time.RFC3339),
		Profile:       toProfileResponse(p),
	}
}
