package api

import (
	"net/http"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/api/handler"
	customMiddleware "github.com/Rrens/sales-copilot/internal/api/middleware"
	"github.com/Rrens/sales-copilot/internal/security"
	"github.com/Rrens/sales-copilot/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the components the HTTP surface is built on
type Dependencies struct {
	JWT           *security.JWTManager
	Agents        *agent.Router
	Conversations *service.ConversationService
	Registry      *service.Registry

	// optional
	RateLimiter customMiddleware.RateLimiter
	TurnLock    handler.TurnLocker
	Ready       map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	turnHandler := handler.NewTurnHandler(deps.Registry, deps.TurnLock)
	sessionHandler := handler.NewSessionHandler(deps.Conversations, deps.Registry)

	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			if deps.RateLimiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
			}

			r.Get("/agents", handler.ListAgents(deps.Agents))
			r.Post("/agents/{mode}/turns", turnHandler.Submit)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/messages", sessionHandler.Messages)
					r.Delete("/", sessionHandler.Delete)
				})
			})
		})
	})

	return r
}
