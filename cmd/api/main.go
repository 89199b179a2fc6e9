package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"securedocs/docs"
	"securedocs/internal/auth"
	"securedocs/internal/cache"
	"securedocs/internal/config"
	"securedocs/internal/database"
	"securedocs/internal/database/migration"
	handlers "securedocs/internal/http/handler"
	"securedocs/internal/http/middleware"
	"securedocs/internal/logging"
	"securedocs/internal/otel"
	"securedocs/internal/render"
	"securedocs/internal/repository/postgres"
	"securedocs/internal/service"
	"securedocs/internal/storage"
	"securedocs/internal/watermark"
)

// @title Secure Document API
// @version 1.0
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.Location())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, log)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run wires and serves the API until ctx is cancelled. Failures are logged
// and returned after the deferred cleanups have run.
func run(ctx context.Context, cfg *config.AppConfig, log *logging.Logger) error {
	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return failed(log, "tracing_init_failed", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return failed(log, "database_connect_failed", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		return failed(log, "migration_failed", err)
	}

	objStore, err := newStorage(cfg)
	if err != nil {
		return failed(log, "storage_init_failed", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := database.RegisterStats(reg, db, cfg.Database.Name); err != nil {
		return failed(log, "metrics_init_failed", err)
	}
	renderMetrics, err := render.NewMetrics(reg)
	if err != nil {
		return failed(log, "metrics_init_failed", err)
	}
	httpMetrics, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return failed(log, "metrics_init_failed", err)
	}

	renderCache, err := cache.NewDiskCache(cfg.Render.CacheDir)
	if err != nil {
		return failed(log, "render_cache_init_failed", err)
	}
	rasterizer := render.NewRasterizer(renderCache, objStore, &render.Poppler{Binary: cfg.Render.PdftoppmPath}, render.Options{
		DPI:              cfg.Render.DPI,
		Timeout:          cfg.Render.Timeout,
		VerifySourceHash: cfg.Render.VerifySourceHash,
		Metrics:          renderMetrics,
		Logger:           log,
	})

	// Initialize repositories and services
	docRepo := postgres.NewDocumentPostgres(db)
	userRepo := postgres.NewPrincipalPostgres(db)
	docSvc := service.NewDocumentService(objStore, docRepo, renderCache)
	viewerSvc := service.NewViewerService(docSvc, rasterizer, watermark.New(cfg.Watermark.Text), log)
	authn := auth.NewAuthenticator(userRepo, auth.NewSessionStore(cfg.Session.TTL))

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger(log))
	app.Use(httpMetrics.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	handlers.RegisterRoutes(app, handlers.Deps{
		DB:        db,
		Documents: docSvc,
		Viewer:    viewerSvc,
		Auth:      authn,
		Session: handlers.SessionSettings{
			CookieName: cfg.Session.CookieName,
			TTL:        cfg.Session.TTL,
			Secure:     cfg.Session.SecureCookie,
		},
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(cfg.Render.Timeout + 5*time.Second)
	}()

	addr := ":" + cfg.Port
	log.Info("server_starting", map[string]any{
		"addr":            addr,
		"storage_backend": cfg.Storage.Backend,
		"render_dpi":      cfg.Render.DPI,
		"verify_source":   cfg.Render.VerifySourceHash,
	})
	if err := app.Listen(addr); err != nil {
		return failed(log, "server_failed", err)
	}
	return nil
}

func newStorage(cfg *config.AppConfig) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "local":
		return storage.NewLocal(cfg.Storage.LocalDir)
	default:
		// S3-compatible object storage (MinIO-supported)
		return storage.NewMinIO(cfg.MinIO)
	}
}

func failed(log *logging.Logger, event string, err error) error {
	log.Error(event, err, nil)
	return fmt.Errorf("%s: %w", event, err)
}
