package middleware

import (
	"strings"

	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/gin-gonic/gin"
)

// Identity reads the caller identity resolved by the upstream auth
// layer from trusted headers and stores it in the request context.
// Anonymous callers are keyed by client IP and get the free tier.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
		tier := strings.TrimSpace(c.GetHeader("X-Tier"))

		if tier == "" {
			tier = models.TierFree
		}

		c.Set("user_id", userID)
		c.Set("tenant_id", tenantID)
		c.Set("tier", tier)

		c.Next()
	}
}
