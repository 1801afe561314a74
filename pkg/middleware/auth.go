package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aziende/editorbridge/internal/models"
)

const (
	ClaimsKey    = "claims"
	RequesterKey = "requester"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// AuthMiddleware verifies the Bearer token and stores both the raw claims
// and the derived models.Requester on the context.
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		scheme, token, ok := strings.Cut(auth, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		idToken, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var claims map[string]interface{}
		if err := idToken.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}
		req, ok := models.RequesterFromClaims(claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(RequesterKey, req)
		c.Next()
	}
}

// RejectUnauthenticated stands in for AuthMiddleware when no verifier is
// configured: every request is unauthenticated.
func RejectUnauthenticated(reason string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
	}
}

// RequesterFrom returns the requester stored by AuthMiddleware.
func RequesterFrom(c *gin.Context) (models.Requester, bool) {
	v, ok := c.Get(RequesterKey)
	if !ok {
		return models.Requester{}, false
	}
	r, ok := v.(models.Requester)
	return r, ok
}

// limitKey prefers the authenticated subject, falling back to the client IP.
func limitKey(c *gin.Context) string {
	if r, ok := RequesterFrom(c); ok && r.ID != "" {
		return "sub:" + r.ID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
