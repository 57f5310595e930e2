// Package middleware verifies bearer credentials against the identity
// provider and attaches the decoded identity to the request context. The
// rest of the system trusts that identity verbatim.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sealight/filecustody/internal/db"
	"github.com/sealight/filecustody/internal/keys"
	"github.com/sealight/filecustody/internal/models"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthHeader = errors.New("invalid authorization header format")
	// ErrInvalidCredential covers every verification failure: expired,
	// malformed, wrong signer.
	ErrInvalidCredential = errors.New("invalid or expired credential")
)

type contextKey string

const identityContextKey contextKey = "identity"

// Claims is the token payload issued by the identity provider. The subject
// is the opaque owner id.
type Claims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks bearer credentials.
type Verifier struct {
	Secret        []byte
	SigningMethod jwt.SigningMethod
	Expiration    time.Duration
}

// NewVerifier creates a verifier for HS256 credentials signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		Secret:        []byte(secret),
		SigningMethod: jwt.SigningMethodHS256,
		Expiration:    24 * time.Hour,
	}
}

// VerifyCredential decodes and validates a bearer credential, returning the
// identity claim it carries.
func (v *Verifier) VerifyCredential(credential string) (*models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != v.SigningMethod {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}
	if claims.Subject == "" {
		return nil, ErrInvalidCredential
	}

	return &models.Identity{
		UID:     claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

// IssueCredential signs a credential for an identity. The production issuer
// is external; this is used by tests and local tooling.
func (v *Verifier) IssueCredential(identity *models.Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:   identity.Email,
		Name:    identity.Name,
		Picture: identity.Picture,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.Expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "filecustody",
		},
	}
	token := jwt.NewWithClaims(v.SigningMethod, claims)
	return token.SignedString(v.Secret)
}

// Authenticator is the auth middleware plus the profile sync that mirrors
// each verified identity into the document store.
type Authenticator struct {
	verifier *Verifier
	store    *db.DB
	keys     *keys.Custodian
}

// NewAuthenticator wires the middleware.
func NewAuthenticator(verifier *Verifier, store *db.DB, custodian *keys.Custodian) *Authenticator {
	return &Authenticator{verifier: verifier, store: store, keys: custodian}
}

// Verifier exposes the underlying credential verifier.
func (a *Authenticator) Verifier() *Verifier {
	return a.verifier
}

// Middleware rejects requests without a valid bearer credential, syncs the
// user profile, and stores the identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, err := bearerCredential(r)
		if err != nil {
			writeAuthError(w, err.Error())
			return
		}

		identity, err := a.verifier.VerifyCredential(credential)
		if err != nil {
			writeAuthError(w, "invalid or expired token")
			return
		}

		if err := a.syncProfile(identity); err != nil {
			http.Error(w, "failed to sync user profile", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// syncProfile merges the claim into the users collection together with the
// server public key clients encrypt against.
func (a *Authenticator) syncProfile(identity *models.Identity) error {
	if err := a.keys.EnsureKeys(); err != nil {
		return err
	}
	publicKey, err := a.keys.PublicKeyPEM()
	if err != nil {
		return err
	}

	return a.store.SyncUserProfile(&models.UserProfile{
		UID:       identity.UID,
		Email:     identity.Email,
		Name:      identity.Name,
		Picture:   identity.Picture,
		PublicKey: publicKey,
		LastLogin: time.Now().UTC(),
	})
}

func bearerCredential(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrInvalidAuthHeader
	}
	return parts[1], nil
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, "{\"error\":%q}\n", message)
}

// WithIdentity stores the identity in the context.
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity placed by Middleware.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*models.Identity)
	return identity, ok
}
