package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/pkg/auth"
	"github.com/clinicflow/clinicflow/pkg/metrics"
)

const (
	ctxActorKey     = "actor"
	ctxRequestIDKey = "request_id"
)

// RequestID assigns a request id used for correlation in logs and audit entries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestLogger logs every request with latency and status.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestIDKey)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// Metrics records request counts, latency, and in-flight gauge.
func Metrics(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.InFlightGauge.Inc()
		start := time.Now()
		c.Next()
		m.InFlightGauge.Dec()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Authenticate validates the bearer token and places the acting user, as a
// domain.Actor, on the request context.
func Authenticate(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing or malformed authorization header"})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"})
			return
		}

		c.Set(ctxActorKey, domain.NewActor(claims.UserID, claims.Roles))
		c.Next()
	}
}

// RequireRole aborts with 403 unless the actor holds at least one of the roles.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if actor == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "not authenticated"})
			return
		}
		for _, r := range roles {
			switch r {
			case domain.RoleDoctor:
				if actor.IsDoctor() {
					c.Next()
					return
				}
			case domain.RoleClinicHead:
				if actor.IsClinicHead() {
					c.Next()
					return
				}
			case domain.RoleStaff:
				if actor.IsStaff() {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
	}
}

func actorFrom(c *gin.Context) *domain.Actor {
	v, ok := c.Get(ctxActorKey)
	if !ok {
		return nil
	}
	actor, _ := v.(*domain.Actor)
	return actor
}
