package security

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("token missing")
	ErrInvalidToken = errors.New("invalid token")
)

// AuthCookie carries the query token when no Authorization header is sent.
const AuthCookie = "pp_auth_token"

// Claims are the claims of a connector query token.
type Claims struct {
	ConnectorID string `json:"connector_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthenticator accepts HS256 tokens signed with the connector secret
// and, for older dashboards, the raw secret itself.
type TokenAuthenticator struct {
	connectorID string
	secret      []byte
	now         func() time.Time
}

// NewTokenAuthenticator returns an authenticator for one connector.
func NewTokenAuthenticator(connectorID, secret string) *TokenAuthenticator {
	return &TokenAuthenticator{
		connectorID: connectorID,
		secret:      []byte(secret),
		now:         time.Now,
	}
}

// Issue mints a token for subject valid for ttl.
func (a *TokenAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		ConnectorID: a.connectorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "postpipe-connector",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Authenticate accepts token if it is a valid signed token for this connector
// or equals the raw secret.
func (a *TokenAuthenticator) Authenticate(token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if _, err := a.parse(token); err == nil {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), a.secret) == 1 {
		return nil
	}
	return ErrInvalidToken
}

func (a *TokenAuthenticator) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ConnectorID != "" && claims.ConnectorID != a.connectorID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest reads the token from the auth cookie, else from a Bearer
// Authorization header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AuthCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
