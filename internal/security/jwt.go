package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no Authorization header is present.
	ErrMissingToken = errors.New("security: missing authorization token")
	// ErrInvalidToken is returned when the JWT is malformed, badly signed or
	// names no caller or an unknown role.
	ErrInvalidToken = errors.New("security: invalid token")
	// ErrExpiredToken is returned when the JWT has expired.
	ErrExpiredToken = errors.New("security: token expired")
	// ErrInsufficientRole is returned when the caller's role lacks permission.
	ErrInsufficientRole = errors.New("security: insufficient role")
)

// JWTSecretEnv names the environment variable holding the API signing secret.
const JWTSecretEnv = "TOOLGATE_JWT_SECRET"

const tokenIssuer = "toolgate"

// Claims identify an API caller. Caller is the name the gateway evaluates
// requests as, mirrored in the registered subject. Role selects the routes
// the token may use.
type Claims struct {
	Caller string `json:"caller"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// NewClaims returns claims for caller valid for expiry from now.
func NewClaims(caller, role string, expiry time.Duration) *Claims {
	now := time.Now()
	return &Claims{
		Caller: caller,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
}

// Validate runs after the registered claims are checked during parsing.
func (c *Claims) Validate() error {
	if strings.TrimSpace(c.Caller) == "" {
		return errors.New("no caller")
	}
	if c.Subject != "" && c.Subject != c.Caller {
		return fmt.Errorf("subject %q does not match caller %q", c.Subject, c.Caller)
	}
	if !IsValidRole(c.Role) {
		return fmt.Errorf("unknown role %q", c.Role)
	}
	return nil
}

var _ jwt.ClaimsValidator = (*Claims)(nil)

// IsOperator reports whether the token carries the operator role.
func (c *Claims) IsOperator() bool { return c.Role == RoleOperator }

// Allows reports whether the token's role may call method on path.
func (c *Claims) Allows(method, path string) bool {
	return CheckPermission(c.Role, method, path)
}

// Sign returns the HS256 token for c.
func (c *Claims) Sign(secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

// GenerateToken creates a signed JWT for the given caller and role.
func GenerateToken(caller, role string, secret []byte, expiry time.Duration) (string, error) {
	return NewClaims(caller, role, expiry).Sign(secret)
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(tokenIssuer),
	jwt.WithExpirationRequired(),
)

// ValidateToken parses tokenStr and returns its claims. Only HS256 tokens
// issued by toolgate with an expiry are accepted.
func ValidateToken(tokenStr string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims returns ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims stored by WithClaims.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// GetClaims extracts JWT claims from the request context.
func GetClaims(r *http.Request) (*Claims, error) {
	c, ok := ClaimsFrom(r.Context())
	if !ok {
		return nil, ErrMissingToken
	}
	return c, nil
}

// GetJWTSecret returns the JWT secret from environment or nil (dev mode).
func GetJWTSecret() []byte {
	if s := os.Getenv(JWTSecretEnv); s != "" {
		return []byte(s)
	}
	return nil
}

var devModeWarning sync.Once

// AuthMiddleware returns HTTP middleware that validates JWT Bearer tokens.
// A nil secret is dev mode: requests pass through without claims.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == nil {
				devModeWarning.Do(func() {
					slog.Warn("JWT authentication disabled (dev mode): " + JWTSecretEnv + " not set")
				})
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, err := bearerToken(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}
			claims, err := ValidateToken(tokenStr, secret)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errors.New("security: invalid authorization header")
	}
	return token, nil
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
