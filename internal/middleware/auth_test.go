package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"market-core/internal/domain"
	"market-core/internal/fault"
)

// stubValidator accepts exactly one token and returns a fixed session pair.
type stubValidator struct {
	token   string
	session *domain.Session
	profile *domain.Profile
}

func (v *stubValidator) ValidateToken(token string) (*domain.Session, *domain.Profile, error) {
	if token != v.token {
		return nil, nil, fault.Unauthorized("session token does not match the current session")
	}
	return v.session, v.profile, nil
}

func newStubValidator(role string) *stubValidator {
	accountID := uuid.New()
	return &stubValidator{
		token: "good-token",
		session: &domain.Session{
			AccountID: accountID,
			Token:     "good-token",
			IssuedAt:  time.Now(),
		},
		profile: &domain.Profile{
			AccountID: accountID,
			Name:      "Nok",
			Phone:     "0812345678",
			Role:      role,
		},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestProperty_RequestsWithoutAuthorizationHeaderRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("requests without authorization header are rejected", prop.ForAll(
		func(pathSuffix string, method string) bool {
			logger := zap.NewNop()
			middleware := AuthMiddleware(newStubValidator(domain.RoleBuyer), logger)
			handler := middleware(okHandler())

			path := "/" + pathSuffix
			req := httptest.NewRequest(method, path, nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.AlphaString(),
		gen.OneConstOf("GET", "POST", "PUT", "DELETE"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_UnknownTokensRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("tokens the validator does not recognize get 401", prop.ForAll(
		func(token string) bool {
			logger := zap.NewNop()
			middleware := AuthMiddleware(newStubValidator(domain.RoleBuyer), logger)
			handler := middleware(okHandler())

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.RegexMatch(`[a-zA-Z0-9.]{1,40}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_MissingBearerPrefixRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("tokens without Bearer prefix are rejected", prop.ForAll(
		func(token string) bool {
			logger := zap.NewNop()
			middleware := AuthMiddleware(newStubValidator(domain.RoleBuyer), logger)
			handler := middleware(okHandler())

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", token)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.RegexMatch(`[a-zA-Z0-9]{1,40}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestAuthMiddleware_ValidTokenPutsSubjectOnContext(t *testing.T) {
	validator := newStubValidator(domain.RoleSeller)
	middleware := AuthMiddleware(validator, zap.NewNop())

	handlerCalled := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		subject, ok := GetSubject(r.Context())
		if !ok || !subject.Authenticated {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if subject.AccountID != validator.session.AccountID || subject.Role != domain.RoleSeller {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Fatal("handler was not called for a valid token")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	sellerOnly := RequireRole([]string{domain.RoleSeller}, zap.NewNop())

	serve := func(validator *stubValidator, token string) *httptest.ResponseRecorder {
		handler := AuthMiddleware(validator, zap.NewNop())(sellerOnly(okHandler()))
		req := httptest.NewRequest("POST", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := serve(newStubValidator(domain.RoleSeller), "good-token"); w.Code != http.StatusOK {
		t.Errorf("seller got %d, want 200", w.Code)
	}
	if w := serve(newStubValidator(domain.RoleBuyer), "good-token"); w.Code != http.StatusForbidden {
		t.Errorf("buyer got %d, want 403", w.Code)
	}

	// Informational sessions never pass a role gate.
	informational := newStubValidator(domain.RoleBuyer)
	informational.session.Informational = true
	if w := serve(informational, "good-token"); w.Code != http.StatusForbidden {
		t.Errorf("informational session got %d, want 403", w.Code)
	}
}

func TestRequireRole_WithoutSubject(t *testing.T) {
	handler := RequireRole([]string{domain.RoleBuyer}, zap.NewNop())(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("request without subject got %d, want 403", w.Code)
	}
}
