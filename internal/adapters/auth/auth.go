// Package auth verifies caller identity tokens and issues host session
// tokens. Both are HS256 JWTs signed with the configured secret.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/okian/roomsync/internal/apperr"
)

const (
	kindIdentity = "identity"
	kindHost     = "host"
)

// Identity is a verified caller.
type Identity struct {
	UID       string
	Name      string
	ExpiresAt time.Time
}

// HostSession is a verified host session token.
type HostSession struct {
	UID       string
	RoomID    string
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Kind   string `json:"kind"`
	Name   string `json:"name,omitempty"`
	RoomID string `json:"room_id,omitempty"`
}

// Authenticator signs and verifies tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithNow overrides the time source used for issuing and expiry checks.
func WithNow(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an Authenticator for secret and issuer.
func New(secret, issuer string, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth secret is required")
	}
	a := &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Authenticator) sign(c claims, ttl time.Duration) (string, error) {
	now := a.now()
	c.Issuer = a.issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ID = uuid.NewString()
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

// IssueIdentity signs an identity token for uid. A zero ttl never expires.
func (a *Authenticator) IssueIdentity(uid, name string, ttl time.Duration) (string, error) {
	return a.sign(claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uid},
		Kind:             kindIdentity,
		Name:             name,
	}, ttl)
}

// IssueHostSession signs a short-lived token binding uid to the host seat of roomID.
func (a *Authenticator) IssueHostSession(uid, roomID string, ttl time.Duration) (string, error) {
	return a.sign(claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uid},
		Kind:             kindHost,
		RoomID:           roomID,
	}, ttl)
}

func (a *Authenticator) parse(token, kind string) (*claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "token is required")
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if parsed.Kind != kind {
		return nil, apperr.New(apperr.CodeUnauthorized, "token kind mismatch")
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "token subject is required")
	}
	return &parsed, nil
}

// VerifyIdentity validates an identity token.
func (a *Authenticator) VerifyIdentity(token string) (Identity, error) {
	c, err := a.parse(token, kindIdentity)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{UID: c.Subject, Name: c.Name}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

// VerifyHostSession validates a host session token for roomID.
func (a *Authenticator) VerifyHostSession(token, roomID string) (HostSession, error) {
	c, err := a.parse(token, kindHost)
	if err != nil {
		return HostSession{}, err
	}
	if c.RoomID != roomID {
		return HostSession{}, apperr.New(apperr.CodeForbidden, "host session is for another room")
	}
	hs := HostSession{UID: c.Subject, RoomID: c.RoomID}
	if c.ExpiresAt != nil {
		hs.ExpiresAt = c.ExpiresAt.Time
	}
	return hs, nil
}

// mapJWTError translates jwt library errors to coded errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Wrap(apperr.CodeUnauthorized, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperr.Wrap(apperr.CodeUnauthorized, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperr.Wrap(apperr.CodeUnauthorized, "token issuer mismatch", err)
	default:
		return apperr.Wrap(apperr.CodeUnauthorized, "token is invalid", err)
	}
}
