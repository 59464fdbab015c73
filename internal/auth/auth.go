package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrUnauthorized is returned when the capability check fails
var ErrUnauthorized = errors.New("unauthorized")

const (
	APIKeyHeader = "X-API-Key"
	// PrincipalKey is the gin context key holding the authorized *Principal
	PrincipalKey = "principal"
)

// Principal identifies the caller that passed the check
type Principal struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"anonymous"`
}

// Authorizer is the gateway capability check
type Authorizer interface {
	Authorize(r *http.Request) (*Principal, error)
}

// KeyAuthorizer accepts requests carrying one of the configured keys, either
// in X-API-Key or as a bearer token. With no keys configured every request
// is let through as anonymous.
type KeyAuthorizer struct {
	keys [][]byte
}

func NewKeyAuthorizer(keys []string, logger *logrus.Logger) *KeyAuthorizer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	a := &KeyAuthorizer{}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			a.keys = append(a.keys, []byte(key))
		}
	}
	if len(a.keys) == 0 {
		logger.Warn("No API keys configured, API is open to anonymous access")
	}
	return a
}

func (a *KeyAuthorizer) Authorize(r *http.Request) (*Principal, error) {
	if len(a.keys) == 0 {
		return &Principal{ID: "anonymous", Anonymous: true}, nil
	}

	presented := credential(r)
	if presented == "" {
		return nil, ErrUnauthorized
	}
	for _, key := range a.keys {
		if subtle.ConstantTimeCompare([]byte(presented), key) == 1 {
			return &Principal{ID: fingerprint(presented)}, nil
		}
	}
	return nil, ErrUnauthorized
}

func credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// fingerprint identifies a key in logs without revealing it
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:])[:8]
}

// Middleware rejects requests that fail the capability check
func Middleware(authorizer Authorizer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := authorizer.Authorize(c.Request)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Debug("Rejected unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}
