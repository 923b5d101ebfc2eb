package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"communitysync/application/session"
	"communitysync/interfaces/http/rest/handlers"
	"communitysync/interfaces/http/rest/middleware"
	"communitysync/pkg/errors"
)

// RouterConfig holds the gateway's HTTP settings
type RouterConfig struct {
	EnableCORS     bool
	AllowedOrigins []string
	// Debug adds stack traces and raw messages to error responses.
	Debug bool
}

// Router creates and configures the HTTP router
type Router struct {
	sessions  *session.Manager
	validator middleware.TokenValidator
	limiter   middleware.ViewerLimiter
	cfg       RouterConfig
	logger    *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	sessions *session.Manager,
	validator middleware.TokenValidator,
	limiter middleware.ViewerLimiter,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		sessions:  sessions,
		validator: validator,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	errHandler := errors.NewErrorHandler(rt.logger, rt.cfg.Debug)
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errHandler.Middleware)
	router.Use(versionMiddleware)

	if rt.cfg.EnableCORS {
		origins := rt.cfg.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", handlers.SessionHeader},
			ExposedHeaders:   []string{"X-Request-ID", handlers.SessionHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)

	router.Route("/api/v2", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, errHandler, rt.logger))
		r.Use(middleware.Logger(rt.logger))
		r.Use(middleware.LimitMutations(rt.limiter, errHandler, rt.logger))

		sessionHandler := handlers.NewSessionHandler(rt.sessions, errHandler, rt.logger)
		r.Post("/sessions", sessionHandler.OpenSession)
		r.Delete("/sessions", sessionHandler.CloseSession)

		r.Route("/feeds/{feed}", func(r chi.Router) {
			feedHandler := handlers.NewFeedHandler(rt.sessions, errHandler, rt.logger)
			r.Get("/", feedHandler.GetFeed)
			r.Post("/load", feedHandler.LoadFeed)
			r.Post("/search", feedHandler.SearchFeed)
			r.Post("/reset", feedHandler.ResetFeed)
		})

		r.Route("/library", func(r chi.Router) {
			libraryHandler := handlers.NewLibraryHandler(rt.sessions, errHandler, rt.logger)
			r.Post("/", libraryHandler.CreateNode)
			r.Get("/navigation", libraryHandler.GetNavigation)
			r.Post("/back", libraryHandler.GoBack)
			r.Get("/available-parents", libraryHandler.AvailableParents)
			r.Get("/{id}", libraryHandler.GetNode)
			r.Patch("/{id}", libraryHandler.UpdateNode)
			r.Delete("/{id}", libraryHandler.DeleteNode)
			r.Get("/{id}/available-parents", libraryHandler.AvailableParents)
		})

		r.Route("/reactions", func(r chi.Router) {
			reactionHandler := handlers.NewReactionHandler(rt.sessions, errHandler, rt.logger)
			r.Post("/refresh", reactionHandler.RefreshReactions)
			r.Post("/reconcile", reactionHandler.ReconcilePending)
			r.Get("/{type}/{id}", reactionHandler.GetReaction)
			r.Post("/{type}/{id}", reactionHandler.ToggleReaction)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// versionMiddleware adds API version headers to all responses
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", "v2")
		next.ServeHTTP(w, r)
	})
}
