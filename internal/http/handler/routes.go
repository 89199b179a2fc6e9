package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"securedocs/internal/http/middleware"
	"securedocs/internal/service"
)

// Deps carries everything RegisterRoutes wires into handlers.
type Deps struct {
	DB        *sql.DB
	Documents service.DocumentService
	Viewer    service.ViewerService
	Auth      Authenticator
	Session   SessionSettings
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Everything except health checks and login/logout requires a session.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/health", HealthCheck(d.DB))
	app.Get("/healthz", Liveness())

	app.Post("/login", Login(d.Auth, d.Session))
	app.Post("/logout", Logout(d.Auth, d.Session))

	requireSession := middleware.RequireSession(d.Auth, d.Session.CookieName)

	app.Get("/secure-document/:docID/", requireSession, SecureDocumentView(d.Viewer))
	app.Get("/secure-document/:docID/page/:pageNo/", requireSession, SecureDocumentPage(d.Viewer))

	app.Get("/dashboard", requireSession, Dashboard(d.Documents))
	app.Get("/me", requireSession, Me())
	app.Post("/documents", requireSession, UploadDocument(d.Documents))
	app.Delete("/documents/:id", requireSession, DeleteDocument(d.Documents))
}
