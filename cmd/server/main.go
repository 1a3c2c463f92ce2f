package main

import (
	"log"
	"strconv"
	"time"

	"contact_flow_app_go/config"
	"contact_flow_app_go/db"
	"contact_flow_app_go/handlers"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	if err := db.Initialize(db.Options{
		Path:        cfg.DBPath,
		TursoURL:    cfg.TursoDatabaseURL,
		TursoToken:  cfg.TursoAuthToken,
		Environment: cfg.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Shared providers
	services.InitializeStorage(cfg)
	services.Tokens = services.NewTokenService(cfg.AccessTokenTTL, cfg.AccessTokenLength, cfg.AccessTokenHashCost)
	services.Mail = services.NewResendMailer(cfg)
	throttle := services.NewDBThrottleStore(db.DB)
	services.Throttle = throttle
	services.InitSecurityMonitor()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(echomiddleware.RequestLogger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowHeaders:     []string{echo.HeaderContentType, middleware.CSRFHeader, middleware.AccessTokenHeader},
		AllowCredentials: true,
	}))
	e.Use(echomiddleware.BodyLimit(bodyLimit(cfg)))
	e.Use(middleware.Metrics())

	// Make config available to handlers
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("config", cfg)
			return next(c)
		}
	})

	handlers.RegisterRoutes(e, cfg)

	// Start background cleanup jobs (runs every hour)
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			// Clean up expired sessions
			if err := services.CleanupExpiredSessions(db.DB); err != nil {
				log.Printf("Error cleaning up expired sessions: %v", err)
			}

			// Drop expired throttle entries
			if err := throttle.Prune(); err != nil {
				log.Printf("Error pruning throttle entries: %v", err)
			}
			services.Monitor.Prune()
		}
	}()

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// bodyLimit leaves room for the form fields next to the largest allowed attachments
func bodyLimit(cfg *config.Config) string {
	mb := cfg.AttachMaxSizeMB + 2
	if mb < 4 {
		mb = 4
	}
	return strconv.Itoa(mb) + "M"
}
