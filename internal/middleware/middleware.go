package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/model"
)

// Identity headers set by the authenticating reverse proxy
const (
	HeaderRemoteUser      = "X-Remote-User"
	HeaderRemoteEmail     = "X-Remote-Email"
	HeaderRemoteFirstname = "X-Remote-Firstname"
	HeaderRemoteLastname  = "X-Remote-Lastname"

	HeaderAdminToken = "X-Admin-Token"
)

const userKey = "filez.user"

// SecurityHeaders adds security-related HTTP headers to responses
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
			h.Set("X-Frame-Options", "sameorigin")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'self'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Del("Server")

			return next(c)
		}
	}
}

// Identity reads the proxy identity headers and stores the requester, if any,
// in the context
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if u := userFromHeaders(c.Request().Header); u != nil {
				c.Set(userKey, u)
			}
			return next(c)
		}
	}
}

func userFromHeaders(h http.Header) *model.User {
	id := strings.TrimSpace(h.Get(HeaderRemoteUser))
	email := strings.TrimSpace(h.Get(HeaderRemoteEmail))
	if id == "" && email == "" {
		return nil
	}
	return &model.User{
		ID:        id,
		Email:     email,
		FirstName: strings.TrimSpace(h.Get(HeaderRemoteFirstname)),
		LastName:  strings.TrimSpace(h.Get(HeaderRemoteLastname)),
	}
}

// UserFrom returns the requester set by Identity, or nil when anonymous
func UserFrom(c echo.Context) *model.User {
	u, _ := c.Get(userKey).(*model.User)
	return u
}

// RequireUser rejects anonymous requests with 401
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserFrom(c) == nil {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"status":     "error",
					"statusText": "you must be logged in",
				})
			}
			return next(c)
		}
	}
}

// AdminToken guards operator endpoints. An empty token disables them.
func AdminToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			supplied := c.Request().Header.Get(HeaderAdminToken)
			if token == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				return c.JSON(http.StatusForbidden, map[string]any{
					"status":     "error",
					"statusText": "forbidden",
				})
			}
			return next(c)
		}
	}
}

// RequestLogger logs every request through zap
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	logger = logger.Named("http")

	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/favicon.ico"
		},
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency.Round(time.Microsecond)),
				zap.String("client_ip", v.RemoteIP),
				zap.String("user_agent", v.UserAgent),
			}
			if u := UserFrom(c); u != nil {
				fields = append(fields, zap.String("user", u.Email))
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}

			switch {
			case v.Status >= http.StatusInternalServerError:
				logger.Error("HTTP request", fields...)
			case v.Status >= http.StatusBadRequest:
				logger.Warn("HTTP request", fields...)
			default:
				logger.Info("HTTP request", fields...)
			}
			return nil
		},
	})
}
