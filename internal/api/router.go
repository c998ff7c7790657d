// Package api exposes the engine, account linking and sign-in over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pysugar/area-nexus/internal/auth/identity"
	"github.com/pysugar/area-nexus/internal/auth/session"
	"github.com/pysugar/area-nexus/internal/db/models"
	"github.com/pysugar/area-nexus/internal/engine"
	"github.com/pysugar/area-nexus/internal/providers"
)

// Engine is the part of *engine.Engine the API serves.
type Engine interface {
	BindAction(ctx context.Context, userID, action, reaction string, opts ...engine.BindOption) (string, error)
	DeactivateArea(ctx context.Context, areaID string) error
	GetArea(ctx context.Context, areaID string) (*models.Area, error)
	GetUserAreas(ctx context.Context, userID string) ([]models.Area, error)
	GetAvailableActions() []engine.CatalogEntry
	GetAvailableReactions() []engine.CatalogEntry
	TriggerAreaExecution(ctx context.Context) (engine.SweepReport, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Identity is the part of *identity.Service the API serves.
type Identity interface {
	SignInWithIDToken(ctx context.Context, provider, idToken string) (*identity.Login, error)
	LoginURL(provider string) (string, error)
	CompleteLogin(ctx context.Context, provider, state, code string) (*identity.Login, error)
	LinkURL(provider, userID string) (string, error)
	CompleteLink(ctx context.Context, provider, state, code string) (string, error)
}

// Links lists and removes linked accounts. *token.Store implements it.
type Links interface {
	ListLinked(ctx context.Context, userID string) ([]string, error)
	Unlink(ctx context.Context, userID, provider string) error
}

// Events reads the audit trail. *eventlog.Recorder implements it.
type Events interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]models.EventLog, error)
	ListForArea(ctx context.Context, areaID string, limit int) ([]models.EventLog, error)
	Recent(limit int) []models.EventLog
	Stats() models.EventStats
}

// Deps are the collaborators of the router.
type Deps struct {
	Engine        Engine
	Identity      Identity
	Sessions      *session.Manager
	Registry      *providers.Registry
	Links         Links
	Events        Events
	AdminPassword string
	CORSOrigins   []string
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/actions", h.listActions)
		r.Get("/reactions", h.listReactions)
		r.Get("/providers", h.listProviders)

		r.Group(func(r chi.Router) {
			r.Use(SessionAuth(d.Sessions))
			r.Get("/me", h.me)
			r.Delete("/me", h.deleteMe)
			r.Get("/areas", h.listAreas)
			r.Post("/areas", h.createArea)
			r.Get("/areas/{id}", h.getArea)
			r.Delete("/areas/{id}", h.deleteArea)
			r.Get("/areas/{id}/events", h.listAreaEvents)
			r.Get("/events", h.listEvents)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(d.AdminPassword))
			r.Post("/trigger", h.trigger)
			r.Get("/stats", h.stats)
			r.Get("/events", h.recentEvents)
		})
	})

	r.Route("/auth/{provider}", func(r chi.Router) {
		r.Post("/token", h.signInWithIDToken)
		r.Get("/login", h.login)
		r.Get("/login/callback", h.loginCallback)
		r.Get("/link/callback", h.linkCallback)

		r.Group(func(r chi.Router) {
			r.Use(SessionAuth(d.Sessions))
			r.Get("/link", h.link)
			r.Delete("/link", h.unlink)
		})
	})

	return r
}
