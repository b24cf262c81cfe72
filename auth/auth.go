// Package auth binds inbound connections and requests to a verified user identity.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingToken is returned when no bearer credential was supplied
	ErrMissingToken = errors.New("missing access token")

	// ErrInvalidToken is returned when the credential is malformed, expired or badly signed
	ErrInvalidToken = errors.New("invalid access token")
)

// AccessTokenParam is the query parameter carrying the bearer credential on websocket connects
const AccessTokenParam = "access_token"

// Identity is what a verified credential tells us about the caller
type Identity struct {
	UserID string
	Name   string
}

// Verifier turns a raw credential into identity claims
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier verifies HS256 signed tokens with issuer, audience and lifetime checks
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
}

// NewJWTVerifier creates a verifier for tokens signed with secret. Empty issuer or audience skip that check.
func NewJWTVerifier(secret, issuer, audience string) *JWTVerifier {
	return &JWTVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		skew:     30 * time.Second,
	}
}

// Verify parses and validates token, returning the identity in its claims
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(v.skew),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.Parse([]byte(token), options...)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}

	identity := Identity{
		UserID: parsed.Subject(),
		Name:   stringClaim(parsed, "name", "unique_name"),
	}
	if identity.UserID == "" {
		identity.UserID = stringClaim(parsed, "nameid")
	}
	if identity.UserID == "" {
		return Identity{}, errors.Wrap(ErrInvalidToken, "token has no subject")
	}
	return identity, nil
}

func stringClaim(token jwt.Token, names ...string) string {
	for _, name := range names {
		if value, ok := token.Get(name); ok {
			if s, ok := value.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Binder extracts a verified identity from a connection's credentials. A request either binds
// to exactly one identity or is rejected.
type Binder struct {
	verifier Verifier
}

// NewBinder creates a new binder backed by the passed in verifier
func NewBinder(verifier Verifier) *Binder {
	return &Binder{verifier: verifier}
}

// BindConnection verifies the credential passed as the access_token query parameter, falling
// back to the Authorization header for clients that can send one at connect time
func (b *Binder) BindConnection(r *http.Request) (Identity, error) {
	token := r.URL.Query().Get(AccessTokenParam)
	if token == "" {
		token = bearerToken(r)
	}
	return b.verifier.Verify(token)
}

// BindRequest verifies the credential in the Authorization header
func (b *Binder) BindRequest(r *http.Request) (Identity, error) {
	return b.verifier.Verify(bearerToken(r))
}

// Middleware rejects requests without a valid bearer credential and stores the identity in
// the request context for the handlers below
func (b *Binder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := b.BindRequest(r)
		if err != nil {
			logrus.WithField("comp", "auth").WithField("url", r.URL.Path).WithError(err).Debug("request rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying identity
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext returns the identity stored by Middleware
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}
