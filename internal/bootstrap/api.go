package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	httpin "mailsense/adapter/in/http"
	"mailsense/infra/middleware"
)

// Version is stamped at build time.
var Version = "dev"

// NewAPI builds the fiber app on an initialized dependency record.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config
	logger := deps.Logger

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(logger),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
		ServerHeader:          "",
	})

	app.Use(middleware.Recover(logger))
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(logger))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if cfg.IsProduction() && (allowOrigins == "" || allowOrigins == "*") {
		// Credentials with a wildcard origin is never acceptable.
		allowOrigins = ""
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID,X-User-ID",
		ExposeHeaders:    "X-Request-ID,Retry-After",
		AllowCredentials: allowOrigins != "",
	}))

	httpin.NewHealthHandler(deps.DB, deps.LLMClient, Version).Register(app)

	api := app.Group("/api/v1")
	authed := api.Group("", middleware.CallerAuth(cfg.CallerTokenSecret, cfg.IsProduction(), logger))

	// /classify charges its own request+email budget in one limiter call;
	// the middleware covers the rest of the authed surface.
	classifyHandler := httpin.NewClassifyHandler(
		deps.ClassifyPool, deps.Limiter, deps.Debouncer,
		cfg.MaxEmailsPerBatch, cfg.DedupeWindow, logger)
	classifyHandler.Register(authed)

	limited := authed.Group("", middleware.RateLimit(deps.Limiter))
	httpin.NewDigestHandler(deps.Digest, cfg.TestMode).Register(limited)
	httpin.NewFeedbackHandler(deps.Learner).Register(limited)
	httpin.NewVerifyHandler(deps.LLMClient, deps.Breaker, deps.Runtime).Register(limited)

	adminHandler := httpin.NewAdminHandler(deps.RuleRepo, deps.RuleStore, deps.Runtime, logger)
	adminHandler.RegisterConfig(limited)
	adminHandler.Register(api.Group("", middleware.AdminAuth(cfg.AdminKey)))

	return app
}
