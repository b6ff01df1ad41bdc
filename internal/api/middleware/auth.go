package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/api"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/getsentry/sentry-go"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is who a request authenticated as. UserID is set when the
// credential belongs to one end user, and scopes the request to that user's
// sessions; service keys leave it empty.
type Identity struct {
	Principal string
	UserID    string
}

type AuthValidator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// APIKeyAuth requires a bearer token. Browsers cannot set headers on a
// WebSocket upgrade, so the api_key query parameter is accepted as well.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("api_key")
			if token == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					api.Error(w, http.StatusUnauthorized, "missing authorization header")
					return
				}
				if !strings.HasPrefix(authHeader, "Bearer ") {
					api.Error(w, http.StatusUnauthorized, "invalid authorization format")
					return
				}
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			id, err := validator.Authenticate(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid credentials")
				return
			}

			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.Scope().SetUser(sentry.User{ID: id.Principal})
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity attaches an authenticated identity to ctx
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func GetPrincipal(ctx context.Context) string {
	id, _ := ctx.Value(identityKey).(Identity)
	return id.Principal
}

// GetUserID returns the end user the request is bound to, or "" for service
// credentials and unauthenticated routes
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(identityKey).(Identity)
	return id.UserID
}

// StaticKeyValidator accepts a single configured service key
type StaticKeyValidator struct {
	key       []byte
	principal string
}

func NewStaticKeyValidator(key, principal string) *StaticKeyValidator {
	return &StaticKeyValidator{key: []byte(key), principal: principal}
}

func (v *StaticKeyValidator) Authenticate(_ context.Context, token string) (Identity, error) {
	if len(v.key) == 0 || subtle.ConstantTimeCompare(v.key, []byte(token)) != 1 {
		return Identity{}, domain.ErrInvalidAPIKey
	}
	return Identity{Principal: v.principal}, nil
}

// accessClaims are the claims of an access token issued by the auth service
type accessClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// AccessTokenValidator verifies HS256 access tokens issued by the external
// auth service. The subject becomes the request's user.
type AccessTokenValidator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAccessTokenValidator(secret string, leeway time.Duration) *AccessTokenValidator {
	return &AccessTokenValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}
}

func (v *AccessTokenValidator) Authenticate(_ context.Context, token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, domain.ErrInvalidAPIKey
	}
	var claims accessClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, domain.NewDomainErrorWithCause(domain.ErrCodeUnauthorized, "invalid access token", err)
	}
	if claims.Type != "access" {
		return Identity{}, domain.NewDomainError(domain.ErrCodeUnauthorized, "not an access token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, domain.NewDomainError(domain.ErrCodeUnauthorized, "access token has no subject")
	}
	return Identity{Principal: "user:" + claims.Subject, UserID: claims.Subject}, nil
}

// AnyOf accepts a token when one of validators does, trying them in order
func AnyOf(validators ...AuthValidator) AuthValidator {
	return anyOf(validators)
}

type anyOf []AuthValidator

func (vs anyOf) Authenticate(ctx context.Context, token string) (Identity, error) {
	errs := make([]error, 0, len(vs))
	for _, v := range vs {
		id, err := v.Authenticate(ctx, token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Identity{}, domain.ErrInvalidAPIKey
	}
	return Identity{}, errors.Join(errs...)
}
