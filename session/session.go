// Package session reads the portal's authentication session. Tokens are
// issued elsewhere; Sign exists for tooling and tests.
package session

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/nzlov/portalchat/actor"
)

const (
	claimAdmin   = "admin_user_id"
	claimStaff   = "staff_id"
	claimStudent = "student_id"

	contextKey = "portal_session"

	DefaultCookie = "portal_session"
)

// Middleware parses the session token when present. A missing or invalid
// token is not an error here: the request proceeds with an empty session and
// actor resolution decides what that means.
func Middleware(secret, cookie string) echo.MiddlewareFunc {
	if cookie == "" {
		cookie = DefaultCookie
	}
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:             []byte(secret),
		SigningMethod:          "HS256",
		ContextKey:             contextKey,
		TokenLookup:            "cookie:" + cookie + ",header:Authorization:Bearer ,query:token",
		ContinueOnIgnoredError: true,
		ErrorHandler: func(c echo.Context, err error) error {
			return nil
		},
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// FromContext returns the identity markers of the request's session.
func FromContext(c echo.Context) actor.Session {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return actor.Session{}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return actor.Session{}
	}
	return actor.Session{
		AdminID:   claimID(claims, claimAdmin),
		StaffID:   claimID(claims, claimStaff),
		StudentID: claimID(claims, claimStudent),
	}
}

// Sign issues a session token for the given markers.
func Sign(secret string, s actor.Session, expiresIn time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("session secret is required")
	}
	if expiresIn <= 0 {
		return "", fmt.Errorf("session expires in must be positive")
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if s.AdminID != nil {
		claims[claimAdmin] = *s.AdminID
	}
	if s.StaffID != nil {
		claims[claimStaff] = *s.StaffID
	}
	if s.StudentID != nil {
		claims[claimStudent] = *s.StudentID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Cookie wraps a signed token for browsers.
func Cookie(name, token string, expiresIn time.Duration) *http.Cookie {
	if name == "" {
		name = DefaultCookie
	}
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(expiresIn.Seconds()),
	}
}

func claimID(claims jwt.MapClaims, key string) *int64 {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return nil
	}
	var v int64
	switch x := raw.(type) {
	case float64:
		if x != math.Trunc(x) {
			return nil
		}
		v = int64(x)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil
		}
		v = n
	default:
		return nil
	}
	return &v
}
