package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/httpx"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/requestctx"
)

// OIDCValidator validates Google-signed OIDC tokens using a JWKS cache.
type OIDCValidator struct {
	cache  *JWKSCache
	logger Logger
}

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, logger Logger) *OIDCValidator {
	return &OIDCValidator{cache: cache, logger: logger}
}

// Policy describes which tokens are accepted.
type Policy struct {
	Audience string
	Issuers  []string
	// Emails restricts callers to these service accounts; empty accepts any verified caller.
	Emails []string
}

// RequireOIDC rejects requests without a valid bearer token and stores the verified caller
// on the request context.
func (v *OIDCValidator) RequireOIDC(policy Policy) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(policy.Audience)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if audience == "" || v == nil || v.cache == nil {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc verification not configured", http.StatusServiceUnavailable))
				return
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "oidc token missing", http.StatusUnauthorized))
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrJWKSFetchFailed) {
					status = http.StatusServiceUnavailable
				}
				v.logf("auth: oidc verification failed: %v", err)
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc token verification failed", status))
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(policy.Issuers) > 0 && !slices.Contains(policy.Issuers, issuer) {
				v.logf("auth: oidc issuer mismatch, got %q", issuer)
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc issuer mismatch", http.StatusUnauthorized))
				return
			}
			if !claims.VerifyAudience(audience, true) {
				v.logf("auth: oidc audience mismatch, expected %q", audience)
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc audience mismatch", http.StatusUnauthorized))
				return
			}
			email, _ := claims["email"].(string)
			if len(policy.Emails) > 0 && !slices.Contains(policy.Emails, email) {
				httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "caller is not allowed", http.StatusForbidden))
				return
			}
			subject, _ := claims["sub"].(string)

			caller := requestctx.Caller{Subject: subject, Email: email, Issuer: issuer}
			next.ServeHTTP(w, r.WithContext(requestctx.WithCaller(ctx, caller)))
		})
	}
}

func (v *OIDCValidator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
