package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := []byte("test-secret-key-32bytes-long!!!!!")
	token, err := GenerateToken("ci-runner", RoleOperator, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Caller != "ci-runner" {
		t.Errorf("Caller = %q, want %q", claims.Caller, "ci-runner")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Error("IssuedAt and ExpiresAt should be set")
	}
	if claims.Subject != "ci-runner" || !claims.IsOperator() {
		t.Errorf("claims = %+v", claims)
	}
}

func TestClaimsRejectedAtParse(t *testing.T) {
	secret := []byte("test-secret")
	mismatched := NewClaims("agent-1", RoleAgent, time.Hour)
	mismatched.Subject = "someone-else"
	noExpiry := NewClaims("agent-1", RoleAgent, time.Hour)
	noExpiry.ExpiresAt = nil
	foreign := NewClaims("agent-1", RoleAgent, time.Hour)
	foreign.Issuer = "elsewhere"

	tests := []struct {
		name   string
		claims *Claims
	}{
		{"empty caller", NewClaims("", RoleAgent, time.Hour)},
		{"subject differs from caller", mismatched},
		{"no expiry", noExpiry},
		{"foreign issuer", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := tt.claims.Sign(secret)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := ValidateToken(tok, secret); err != ErrInvalidToken {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNoneAlgorithmRejected(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, NewClaims("agent-1", RoleOperator, time.Hour)).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(tok, []byte("test-secret")); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestClaimsAllows(t *testing.T) {
	agent := NewClaims("bot", RoleAgent, time.Hour)
	if !agent.Allows("POST", "/v1/authorize") || agent.Allows("POST", "/v1/batch/confirm") {
		t.Error("agent permissions wrong")
	}
	if !NewClaims("ops", RoleOperator, time.Hour).Allows("POST", "/v1/batch/confirm") {
		t.Error("operator must be allowed everywhere")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("agent-1", RoleAgent, secret, -time.Hour)
	_, err := ValidateToken(token, secret)
	if err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	_, err := ValidateToken("not-a-valid-jwt", secret)
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("agent-1", "root", secret, time.Hour)
	if _, err := ValidateToken(token, secret); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, _ := GenerateToken("agent-1", RoleAgent, []byte("secret-1"), time.Hour)
	_, err := ValidateToken(token, []byte("secret-2"))
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	valid, _ := GenerateToken("implementer", RoleAgent, secret, time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"invalid token", "Bearer invalid-token", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"valid token", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotClaims *Claims
			handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotClaims, _ = GetClaims(r)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/v1/breaker", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusOK && (gotClaims == nil || gotClaims.Caller != "implementer") {
				t.Fatal("claims not set in context")
			}
		})
	}
}

func TestAuthMiddleware_DevMode(t *testing.T) {
	handler := AuthMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/breaker/reset", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 in dev mode, got %d", w.Code)
	}
}

func TestGetClaims_NoClaims(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, err := GetClaims(req)
	if err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestGetJWTSecret(t *testing.T) {
	t.Setenv(JWTSecretEnv, "")
	if GetJWTSecret() != nil {
		t.Error("expected nil secret when unset")
	}
	t.Setenv(JWTSecretEnv, "s3cret")
	if string(GetJWTSecret()) != "s3cret" {
		t.Error("expected secret from environment")
	}
}
