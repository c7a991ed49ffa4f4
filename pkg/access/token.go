package access

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"doc-sync/pkg/errdefs"
)

// UserID accepts both numeric and string user ids in token claims.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*u = UserID(n.String())
	return nil
}

// Claims carried by session tokens.
type Claims struct {
	UserID UserID `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the user id claim, falling back to the subject.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return string(c.UserID)
	}
	return c.Subject
}

// TokenVerifier checks HS256 tokens against a secret loaded once at startup.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier. An empty issuer disables the issuer check.
func NewTokenVerifier(secret []byte, issuer string) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenVerifier{secret: key, issuer: issuer}, nil
}

// Verify returns the identity carried by token. Missing, malformed, badly
// signed and expired tokens all yield errdefs.ErrAuth.
func (v *TokenVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", errdefs.ErrAuth)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrAuth, err)
	}

	identity := claims.Identity()
	if identity == "" {
		return "", fmt.Errorf("%w: token carries no subject", errdefs.ErrAuth)
	}
	return identity, nil
}

// Issue signs a token for identity valid for ttl.
func (v *TokenVerifier) Issue(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: UserID(identity),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
