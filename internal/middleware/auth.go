package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chainpass/core/internal/pkg/identity"
	"github.com/chainpass/core/internal/pkg/jwt"
	"github.com/chainpass/core/internal/pkg/response"
)

const identityKey = "cp.identity"

// Auth verifies the bearer token and resolves the caller's identity into
// the request context. Requests without a valid token are rejected.
func Auth(verifier *jwt.Verifier, resolver identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			response.Unauthorized(c)
			return
		}

		claims, err := verifier.Parse(raw)
		if err != nil {
			response.Unauthorized(c)
			return
		}

		ident, err := resolver.Resolve(c.Request.Context(), claims.UserID, claims.Role)
		if err != nil {
			response.Fail(c, err)
			return
		}

		c.Set(identityKey, ident)
		c.Next()
	}
}

// Identity returns the resolved caller, if any.
func Identity(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return identity.Identity{}, false
	}
	ident, ok := v.(identity.Identity)
	return ident, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	// QR deep links cannot set headers.
	return strings.TrimSpace(c.Query("token"))
}
