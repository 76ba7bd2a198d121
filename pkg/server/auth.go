package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/teslashibe/go-rehearse/pkg/store"
)

// localUser is the fiber local holding the caller identity.
const localUser = "user_id"

// ErrMissingSubject is returned for tokens without a sub claim.
var ErrMissingSubject = errors.New("server: token has no subject")

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns its subject.
func ParseToken(secret, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if strings.TrimSpace(sub) == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}

// authenticate resolves the caller identity from a bearer token, or the
// token query parameter for browser websockets, falling back to the
// guest user when allowed.
func (s *Server) authenticate(c *fiber.Ctx) error {
	token := bearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		token = c.Query("token")
	}

	if token == "" || s.opts.JWTSecret == "" {
		if !s.opts.AllowGuest {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		c.Locals(localUser, store.GuestUser)
		return c.Next()
	}

	sub, err := ParseToken(s.opts.JWTSecret, token)
	if err != nil {
		s.logger.Debug("rejected token", "error", err)
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals(localUser, sub)
	return c.Next()
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// userID returns the identity set by authenticate.
func userID(c *fiber.Ctx) string {
	if id, ok := c.Locals(localUser).(string); ok && id != "" {
		return id
	}
	return store.GuestUser
}
