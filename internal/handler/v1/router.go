package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/pkg/auth"
	"github.com/clinicflow/clinicflow/pkg/metrics"
)

type RouterDeps struct {
	Appointments    *AppointmentHandler
	Patients        *PatientHandler
	ClinicalRecords *ClinicalRecordHandler
	Auth            *AuthHandler

	JWTManager *auth.JWTManager
	Metrics    *metrics.Collector
	Log        *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(deps.Log), Metrics(deps.Metrics))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1")

	api.POST("/auth/login", deps.Auth.Login)
	api.POST("/auth/refresh", deps.Auth.Refresh)

	authed := api.Group("", Authenticate(deps.JWTManager))
	authed.POST("/auth/change-password", deps.Auth.ChangePassword)

	appts := authed.Group("/appointments")
	{
		appts.POST("", deps.Appointments.Create)
		appts.GET("", deps.Appointments.List)
		appts.GET("/:id", deps.Appointments.Get)
		appts.PATCH("/:id", deps.Appointments.Update)
		appts.POST("/:id/complete", deps.Appointments.Complete)
		appts.POST("/:id/cancel", deps.Appointments.Cancel)
		appts.DELETE("/:id", deps.Appointments.Delete)
	}

	patients := authed.Group("/patients")
	{
		patients.POST("", deps.Patients.Create)
		patients.GET("", deps.Patients.List)
		patients.GET("/:id", deps.Patients.Get)
		patients.DELETE("/:id", RequireRole(domain.RoleClinicHead), deps.Patients.Deactivate)
	}

	records := authed.Group("/records", RequireRole(domain.RoleDoctor, domain.RoleClinicHead))
	{
		records.POST("", deps.ClinicalRecords.Create)
		records.GET("", deps.ClinicalRecords.List)
		records.GET("/:id", deps.ClinicalRecords.Get)
	}

	return r
}
