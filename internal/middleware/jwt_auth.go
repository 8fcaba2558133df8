package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/tokens"
)

type TokenValidator interface {
	Validate(tokenString string) (*tokens.Claims, error)
}

type OperatorAuth struct {
	tokens TokenValidator
}

// NewOperatorAuth returns nil for a nil validator; a nil *OperatorAuth
// lets every request through.
func NewOperatorAuth(t TokenValidator) *OperatorAuth {
	if t == nil {
		return nil
	}
	return &OperatorAuth{tokens: t}
}

// Require admits requests carrying a valid bearer token for one of roles.
func (a *OperatorAuth) Require(roles ...tokens.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := a.tokens.Validate(tok)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("operator token rejected")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed(claims.Role, roles) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := WithOperator(r.Context(), &Operator{Subject: claims.Subject, Role: claims.Role, TokenID: claims.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func allowed(role tokens.Role, roles []tokens.Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
