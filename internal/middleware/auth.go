package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

type contextKey string

const OperatorKey contextKey = "operator"

// Claims identify the operator calling the payout API.
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// RequireAuth accepts HS256 bearer tokens signed with jwtSecret. Unauthenticated
// requests fail with INVALID_SECRET before they reach a handler.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	key := []byte(jwtSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, domainErrors.CodeInvalidSecret, "missing authorization header", 0)
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, domainErrors.CodeInvalidSecret, "invalid authorization scheme", 0)
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, domainErrors.CodeInvalidSecret, "invalid token", 0)
				return
			}

			operator := claims.Operator
			if operator == "" {
				operator = claims.Subject
			}
			ctx := context.WithValue(r.Context(), OperatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperator returns the authenticated operator, if any.
func GetOperator(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(OperatorKey).(string)
	return op, ok
}
