package middleware

import (
	"net/http"
	"strconv"

	"github.com/aman-churiwal/admission-engine/internal/admission"
	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/ratelimit"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Admission gates every request on the engine's decision. Denials
// return 429 with the structured denial body; a counter store outage
// under fail-closed configuration returns 503.
func Admission(engine *admission.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := admission.Request{
			UserID:   c.GetString("user_id"),
			TenantID: c.GetString("tenant_id"),
			Tier:     c.GetString("tier"),
			Path:     c.Request.URL.Path,
			Method:   c.Request.Method,
			ClientIP: c.ClientIP(),
		}

		decision, err := engine.Admit(c.Request.Context(), req)
		if err != nil {
			log.Errorf("admission check unavailable (user=%s path=%s): %v", req.UserID, req.Path, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "admission check unavailable, retry later",
			})
			c.Abort()
			return
		}

		setRateLimitHeaders(c, decision.Rate)

		if !decision.Allowed {
			d := decision.Denial
			if d.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
			}
			c.JSON(http.StatusTooManyRequests, d)
			c.Abort()
			return
		}

		// Finish must run on every exit path, panics included, so the
		// concurrency slot is released and the outcome recorded.
		defer func() {
			decision.Ticket.Finish(c.Writer.Status())
		}()

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, rate ratelimit.Result) {
	if rate.Limit == 0 || rate.Limit == models.NoLimit {
		return
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(rate.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(rate.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(rate.ResetAt.Unix(), 10))
}
