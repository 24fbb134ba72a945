// Package auth verifies bearer tokens of the API.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	binderr "github.com/opst/knitpipe/pkg/api-types-binding/errors"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims of bearer tokens. The subject is the id of the user.
type Claims struct {
	jwt.RegisteredClaims
}

// Keyring signs and verifies HS256 tokens issued by issuer.
type Keyring struct {
	key    []byte
	issuer string
}

func New(key []byte, issuer string) *Keyring {
	return &Keyring{key: key, issuer: issuer}
}

// Issue a token for the user, expiring after ttl.
func (k *Keyring) Issue(userId string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    k.issuer,
			Subject:   userId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(k.key)
}

// Verify the token.
//
// # Returns
//
// - *Claims
//
// - error: ErrInvalidToken joined with the reason, when the token is not acceptable.
func (k *Keyring) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(*jwt.Token) (any, error) { return k.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(k.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, errors.Join(ErrInvalidToken, errors.New("subject is empty"))
	}
	return claims, nil
}

const userKey = "knitpipe/user"

// Middleware rejects requests without a valid "Authorization: Bearer" token.
func (k *Keyring) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || token == "" {
				return binderr.Unauthorized("bearer token is required", nil)
			}
			claims, err := k.Verify(token)
			if err != nil {
				return binderr.Unauthorized("invalid token", err)
			}
			c.Set(userKey, claims.Subject)
			return next(c)
		}
	}
}

// UserOf returns id of the user authenticated by Middleware.
func UserOf(c echo.Context) string {
	u, _ := c.Get(userKey).(string)
	return u
}
