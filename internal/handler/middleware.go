package handler

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vibewell/internal/domain"
)

const (
	ctxRequestID = "request_id"
	ctxLogger    = "logger"
	ctxProfile   = "profile"
)

// RequestID tags each request with X-Request-ID, generating one when absent,
// and stores a request-scoped logger.
func RequestID(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Set(ctxLogger, log.WithField("request_id", id))
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		requestLogger(c).WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
		}).Info("http request")
	}
}

func bearer(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

// RequireToken guards internal endpoints with a shared bearer token.
func RequireToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, found := bearer(c)
		if !found || len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			fail(c, domain.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

type supabaseClaims struct {
	Email        string              `json:"email"`
	UserMetadata domain.UserMetadata `json:"user_metadata"`
	AppMetadata  domain.AppMetadata  `json:"app_metadata"`
	jwt.RegisteredClaims
}

// ParseAccessToken verifies a Supabase HS256 access token and maps it to a Profile.
func ParseAccessToken(token string, secret []byte) (domain.Profile, error) {
	var claims supabaseClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience("authenticated"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Profile{}, domain.ErrUnauthorized.With("access token rejected").Wrap(err)
	}
	return domain.ProfileFromClaims(domain.AuthClaims{
		Subject:      claims.Subject,
		Email:        claims.Email,
		UserMetadata: claims.UserMetadata,
		AppMetadata:  claims.AppMetadata,
	})
}

// Authenticate attaches the caller profile when a bearer token is present.
// Requests without one pass through anonymously; a bad token is rejected.
// With no secret configured every request is anonymous.
func Authenticate(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.Next()
			return
		}
		tok, found := bearer(c)
		if !found {
			c.Next()
			return
		}
		p, err := ParseAccessToken(tok, key)
		if err != nil {
			fail(c, err)
			return
		}
		c.Set(ctxProfile, p)
		c.Next()
	}
}

func profileFrom(c *gin.Context) (domain.Profile, bool) {
	v, found := c.Get(ctxProfile)
	if !found {
		return domain.Profile{}, false
	}
	p, isProfile := v.(domain.Profile)
	return p, isProfile
}
