// Package httpserver contains HTTP handlers and middleware for the job
// platform's ingest/status/vector surface.
package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/job-platform/internal/config"
)

// TokenManager issues and validates the thin HS256 bearer JWTs that carry a
// caller's org_id. Every job-platform endpoint is scoped to a tenant, so the
// org_id claim is mandatory rather than optional metadata.
type TokenManager struct {
	secret []byte
}

// NewTokenManager builds a TokenManager from the configured signing secret.
func NewTokenManager(cfg config.Config) *TokenManager {
	return &TokenManager{secret: []byte(cfg.AuthSigningSecret)}
}

// Claims is the decoded payload of a validated token.
type Claims struct {
	Subject string
	OrgID   string
	Expiry  time.Time
}

// IssueToken mints a compact JWT (HS256) binding subject to orgID for ttl.
func (tm *TokenManager) IssueToken(subject, orgID string, ttl time.Duration) (string, error) {
	if subject == "" || orgID == "" || ttl <= 0 {
		return "", fmt.Errorf("invalid token params")
	}
	now := time.Now().Unix()
	header := map[string]any{"alg": "HS256", "typ": "JWT"}
	claims := map[string]any{
		"sub":    subject,
		"org_id": orgID,
		"iat":    now,
		"exp":    time.Now().Add(ttl).Unix(),
		"iss":    "job-platform",
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding
	unsigned := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)

	mac := hmac.New(sha256.New, tm.secret)
	mac.Write([]byte(unsigned))
	return unsigned + "." + enc.EncodeToString(mac.Sum(nil)), nil
}

// ValidateToken verifies signature and expiry, returning the decoded claims.
func (tm *TokenManager) ValidateToken(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("invalid token")
	}
	enc := base64.RawURLEncoding
	unsigned := parts[0] + "." + parts[1]

	sig, err := enc.DecodeString(parts[2])
	if err != nil {
		return Claims{}, fmt.Errorf("bad signature encoding")
	}
	mac := hmac.New(sha256.New, tm.secret)
	mac.Write([]byte(unsigned))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Claims{}, fmt.Errorf("invalid signature")
	}

	claimsJSON, err := enc.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("bad claims encoding")
	}
	var raw map[string]any
	if err := json.Unmarshal(claimsJSON, &raw); err != nil {
		return Claims{}, fmt.Errorf("bad claims")
	}

	sub, _ := raw["sub"].(string)
	orgID, _ := raw["org_id"].(string)
	if sub == "" || orgID == "" {
		return Claims{}, fmt.Errorf("missing sub or org_id claim")
	}
	expF, ok := raw["exp"].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("missing exp claim")
	}
	exp := time.Unix(int64(expF), 0)
	if time.Now().After(exp) {
		return Claims{}, fmt.Errorf("token expired")
	}
	return Claims{Subject: sub, OrgID: orgID, Expiry: exp}, nil
}

type claimsKey struct{}

// RequireAuth validates the Authorization: Bearer header and injects Claims
// into the request context for downstream handlers.
func (tm *TokenManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := tm.ValidateToken(token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext recovers the Claims a RequireAuth middleware stashed.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
