package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller is the authenticated identity behind a request
type Caller struct {
	UserID         types.ID  `json:"user_id"`
	Role           string    `json:"role"`
	OrganizationID *types.ID `json:"organization_id,omitempty"`
}

// HasRole reports whether the caller holds one of roles
func (c *Caller) HasRole(roles ...string) bool {
	return slices.Contains(roles, c.Role)
}

// BelongsTo reports whether the caller is staff of orgID
func (c *Caller) BelongsTo(orgID types.ID) bool {
	return c.OrganizationID != nil && *c.OrganizationID == orgID
}

// Claims extends JWT claims with the caller's role and organization
type Claims struct {
	jwt.RegisteredClaims
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// IssueToken signs an HS256 token for caller. Token issuance belongs to the
// identity service; this exists for the CLI and tests.
func IssueToken(cfg config.AuthConfig, caller Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: caller.Role,
	}
	if caller.OrganizationID != nil {
		claims.OrganizationID = caller.OrganizationID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// ParseToken validates tokenString and returns the caller it identifies
func ParseToken(cfg config.AuthConfig, tokenString string) (*Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	userID, err := types.ParseID(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	caller := &Caller{UserID: userID, Role: claims.Role}
	if claims.OrganizationID != "" {
		orgID, err := types.ParseID(claims.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("invalid organization: %w", err)
		}
		caller.OrganizationID = &orgID
	}
	return caller, nil
}

// Middleware creates JWT authentication middleware
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			caller, err := ParseToken(cfg, parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// WithCaller stores caller in ctx
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// GetCaller extracts the caller from request context
func GetCaller(ctx context.Context) *Caller {
	caller, ok := ctx.Value(callerContextKey).(*Caller)
	if !ok {
		return nil
	}
	return caller
}

// RequireRoles creates middleware that requires one of the given roles
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := GetCaller(r.Context())
			if caller == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !caller.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	code := "UNAUTHORIZED"
	if status == http.StatusForbidden {
		code = "FORBIDDEN"
	}
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
