package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-booking-api/internal/handler"
	"github.com/noah-isme/studio-booking-api/internal/middleware"
	"github.com/noah-isme/studio-booking-api/internal/models"
	"github.com/noah-isme/studio-booking-api/pkg/config"
)

type routeDeps struct {
	auth     *handler.AuthHandler
	classes  *handler.ClassHandler
	bookings *handler.BookingHandler
	profile  *handler.ProfileHandler
	ops      *handler.MetricsHandler
	tokens   middleware.TokenValidator
	audit    middleware.AuditWriter
	logger   *zap.Logger
}

func registerRoutes(r *gin.Engine, cfg *config.Config, d routeDeps) {
	r.GET("/health", d.ops.Health)
	r.GET("/ready", d.ops.Ready)
	r.GET("/metrics", d.ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authRequired := middleware.JWT(d.tokens)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(d.audit, d.logger, action, resource)
	}

	auth := api.Group("/auth")
	auth.POST("/register", d.auth.Register)
	auth.POST("/login", d.auth.Login)
	auth.GET("/me", authRequired, d.auth.Me)

	classes := api.Group("/classes", middleware.OptionalJWT(d.tokens))
	classes.GET("", d.classes.List)
	classes.GET("/search", d.classes.Search)
	classes.GET("/:id", d.classes.Get)
	classes.POST("", authRequired, staff, audit(models.AuditActionClassCreate, "class"), d.classes.Create)
	classes.PUT("/:id", authRequired, staff, audit(models.AuditActionClassUpdate, "class"), d.classes.Update)
	classes.DELETE("/:id", authRequired, staff, audit(models.AuditActionClassDelete, "class"), d.classes.Delete)

	bookings := api.Group("/bookings", authRequired)
	bookings.GET("", d.bookings.List)
	bookings.GET("/history", d.bookings.History)
	bookings.POST("", audit(models.AuditActionBook, "booking"), d.bookings.Create)
	bookings.DELETE("/cancel/:classId", audit(models.AuditActionCancel, "booking"), d.bookings.Cancel)
	bookings.GET("/class/:classId", staff, d.bookings.ClassRoster)
	bookings.GET("/class/:classId/export", staff, audit(models.AuditActionExport, "roster"), d.bookings.ExportRoster)

	profile := api.Group("/profile", authRequired)
	profile.GET("", d.profile.Profile)
	profile.PUT("", d.profile.UpdateProfile)
	profile.PUT("/preferences", d.profile.UpdatePreferences)
	profile.GET("/dashboard", d.profile.Dashboard)
	profile.GET("/stats", d.profile.Stats)
}
