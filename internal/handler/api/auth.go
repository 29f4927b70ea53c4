package api

import (
	"errors"
	"strings"

	xhttp "StockAlert/pkg/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	userIDKey    = "userID"
	userIDHeader = "X-User-ID"
)

// Claims is the bearer token payload. Subject carries the owner id.
type Claims struct {
	jwt.RegisteredClaims
}

// Owner resolves the caller. With a secret it requires an HS256 bearer token;
// without one it trusts the X-User-ID header, which suits a single-tenant
// deployment behind a gateway.
func Owner(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var (
				userID string
				err    error
			)
			if secret == "" {
				userID = strings.TrimSpace(c.Request().Header.Get(userIDHeader))
				if userID == "" {
					err = errors.New("X-User-ID header is required")
				}
			} else {
				userID, err = parseBearer(c.Request().Header.Get(echo.HeaderAuthorization), secret)
			}
			if err != nil {
				return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError(err.Error()))
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

func parseBearer(header, secret string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("bearer token is required")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func ownerID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
