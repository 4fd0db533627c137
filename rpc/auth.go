package rpc

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ScopeVaultAdmin is the JWT scope required by the admin surface.
const ScopeVaultAdmin = "vault.admin"

// AuthConfig configures the bearer-token guard for admin routes.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Authenticator validates HMAC-signed JWTs carrying a space-separated scope
// claim.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator constructs an authenticator. A nil logger falls back to
// the default slog logger.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Middleware enforces a valid token carrying every required scope. When the
// authenticator is disabled the handler chain proceeds untouched.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil || !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(token)
			if err != nil {
				a.logger.Warn("token validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims)
			if !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
	}
	if issuer := strings.TrimSpace(a.cfg.Issuer); issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(a.cfg.Audience); audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if len(a.secret) == 0 {
			return nil, fmt.Errorf("authenticator secret not configured")
		}
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func extractBearer(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func extractScopes(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"]
	if !ok {
		return nil
	}
	switch value := raw.(type) {
	case string:
		return strings.Fields(value)
	case []interface{}:
		scopes := make([]string, 0, len(value))
		for _, entry := range value {
			if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
				scopes = append(scopes, strings.TrimSpace(s))
			}
		}
		return scopes
	}
	return nil
}

func hasScopes(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	index := make(map[string]struct{}, len(have))
	for _, scope := range have {
		index[scope] = struct{}{}
	}
	for _, scope := range want {
		if _, ok := index[scope]; !ok {
			return false
		}
	}
	return true
}
