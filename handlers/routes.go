package handlers

import (
	"contact_flow_app_go/config"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the public, staff and panel routes. The config
// middleware must already be installed on e.
func RegisterRoutes(e *echo.Echo, cfg *config.Config) {
	store := throttleStore()
	loginLimiter := middleware.NewLoginRateLimiter(store).Middleware()
	accessLimiter := middleware.NewAccessRateLimiter(store).Middleware()
	apiLimiter := middleware.NewAPIRateLimiter(store).Middleware()

	e.Use(middleware.RequestAccess(cfg.SessionSecret, cfg.AccessGrantLifetime))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Public routes
	e.GET("/feed", PublicFeedHandler)
	e.POST("/submit", SubmitRequestHandler, middleware.LoadUser())
	e.GET("/my-requests", MyRequestsHandler)
	e.POST("/access", AccessGateHandler, accessLimiter)
	e.GET("/r/:id", ViewRequestHandler, accessLimiter, middleware.LoadUser())
	e.POST("/r/:id", PublicUpdateHandler, accessLimiter, middleware.LoadUser())
	e.POST("/r/:id/delete", PublicDeleteHandler, accessLimiter, middleware.LoadUser())
	e.GET("/attachments/:id", DownloadAttachmentHandler, accessLimiter, middleware.LoadUser())

	// Staff sign-in
	e.POST("/login", LoginHandler, loginLimiter)
	e.POST("/logout", LogoutHandler, middleware.RequireAuth(), middleware.AuditContext(), middleware.CSRF())

	staff := e.Group("/staff", middleware.RequireAuth(), middleware.RequireStaff(), middleware.AuditContext(), middleware.CSRF(), apiLimiter)
	{
		staff.GET("/me", CurrentStaffHandler)
		staff.GET("/csrf", CSRFTokenHandler)
		staff.GET("/requests", StaffListRequestsHandler)
		staff.GET("/requests/:id", StaffRequestDetailHandler)
		staff.POST("/requests/:id", StaffUpdateRequestHandler)

		// Admin-only routes
		admin := staff.Group("", middleware.RequireRole(models.RoleAdmin))
		{
			admin.GET("/users", ListStaffHandler)
			admin.POST("/users", CreateStaffHandler)
			admin.POST("/users/:id/profile", AssignProfileHandler)
			admin.POST("/users/:id/active", SetStaffActiveHandler)
			admin.GET("/departments", ListDepartmentsHandler)
			admin.POST("/departments", CreateDepartmentHandler)
			admin.GET("/audit-logs", GetAuditLogsHandler)
		}
	}

	panel := e.Group("/panel", middleware.RequireAuth(), middleware.RequireStaff(), middleware.RequireRole(models.RoleAdmin), middleware.AuditContext(), middleware.CSRF())
	{
		panel.GET("", PanelHandler)
		panel.POST("", PanelActionHandler)
	}
}
