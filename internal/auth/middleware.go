package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lodging/internal/db"
	apperr "lodging/internal/errors"
)

type ctxKey struct{}

// Claims carries the caller's id in Subject and its role flags.
type Claims struct {
	Host  bool `json:"host,omitempty"`
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for actor valid for ttl.
func IssueToken(secret string, actor db.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Host:  actor.IsHost,
		Admin: actor.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies the token and resolves the actor it names.
func ParseToken(secret, raw string) (db.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return db.Actor{}, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return db.Actor{}, errors.New("token subject is not a user id")
	}
	return db.Actor{ID: id, IsHost: claims.Host, IsAdmin: claims.Admin}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved actor on the request.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			actor, err := ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, actor)))
		})
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || !actor.IsAdmin {
			writeError(w, apperr.ToHTTP(apperr.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ActorFrom(ctx context.Context) (db.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(db.Actor)
	return actor, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, apperr.ErrUnauthorized(msg))
}

func writeError(w http.ResponseWriter, he *apperr.HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.Status)
	json.NewEncoder(w).Encode(he)
}
