package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voicebridge/relay/internal/config"
	"github.com/voicebridge/relay/internal/storage/sqlite"
	"github.com/voicebridge/relay/internal/telephony"
	"github.com/voicebridge/relay/internal/translation"
	"github.com/voicebridge/relay/internal/websocket"
	"github.com/voicebridge/relay/pkg/logger"
)

// Router wires the API handlers into an HTTP route tree
type Router struct {
	handler *Handler
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(manager *translation.Manager, callStorage *sqlite.CallStorage, wsServer *websocket.Server, telServer *telephony.Server, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(manager, callStorage, wsServer, telServer, cfg, log),
		config:  cfg,
		logger:  log.Named("api-router"),
	}
}

// Routes returns the HTTP handler with all routes registered
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)

		r.Route("/calls", func(r chi.Router) {
			r.Post("/", rt.handler.CreateCall)
			r.Get("/", rt.handler.GetCalls)
			r.Get("/{callID}", rt.handler.GetCall)
			r.Delete("/{callID}", rt.handler.DeleteCall)
			r.Get("/{callID}/ws", rt.handler.ClientWebSocket)
		})

		r.Get("/telephony/{callID}/stream", rt.handler.TelephonyStream)
	})

	return r
}

// corsMiddleware applies the configured CORS policy
func (rt *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && rt.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rt *Router) originAllowed(origin string) bool {
	for _, allowed := range rt.config.Server.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
