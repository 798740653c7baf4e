package api

import (
	"net/http"
	"time"

	"strikeball/internal/sim"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// MatchManager defines the match lifecycle methods used by the API.
// This interface enables mocking for tests without spinning up real
// tick loops. Keep this minimal - only include methods the API layer
// actually calls.
type MatchManager interface {
	// SubmitInput routes an input to the owning match and returns the verdict
	SubmitInput(matchID string, in sim.InputEvent) (sim.Verdict, error)
	// Snapshot returns the latest committed snapshot for a match
	Snapshot(matchID string) (*sim.Snapshot, error)
	// Terminate force-finishes a running match
	Terminate(matchID, reason string) error
	// MatchIDs lists currently running matches
	MatchIDs() []string
}

// MatchQueue defines the matchmaking methods used by the API.
type MatchQueue interface {
	// Enqueue registers an actor; pairing may fire synchronously
	Enqueue(actorID string, rating int, sessionHandle string) error
	// Remove withdraws an actor from the queue
	Remove(actorID string) bool
	// Len reports the current queue depth
	Len() int
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Manager: mockManager,
//	    Queue:   mockQueue,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Manager owns the running matches (required)
	Manager MatchManager

	// Queue is the matchmaking queue (required)
	Queue MatchQueue

	// Hub fans snapshots out to WebSocket spectators.
	// If nil, the /ws routes are not registered.
	Hub *WebSocketHub

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses localhost-only defaults.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
// This is used internally to pass handlers to route setup.
type routerHandlers struct {
	manager MatchManager
	queue   MatchQueue
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started
//   - No network listeners are opened
//   - No background workers are launched
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Create handlers struct
	h := &routerHandlers{
		manager: cfg.Manager,
		queue:   cfg.Queue,
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Matchmaking
		r.Post("/queue/join", h.handleQueueJoin)
		r.Delete("/queue/{actorID}", h.handleQueueLeave)
		r.Get("/queue/status", h.handleQueueStatus)

		// Matches
		r.Get("/matches", h.handleListMatches)
		r.Get("/matches/{matchID}/state", h.handleMatchState)
		r.Get("/matches/{matchID}/events", h.handleMatchEvents)
		r.Post("/matches/{matchID}/inputs", h.handleSubmitInput)
		r.Post("/matches/{matchID}/terminate", h.handleTerminateMatch)
	})

	// Spectator stream
	if cfg.Hub != nil {
		r.Get("/ws/matches/{matchID}", func(w http.ResponseWriter, req *http.Request) {
			cfg.Hub.HandleWebSocket(chi.URLParam(req, "matchID"), w, req)
		})
	}

	// Health check for load balancers (debug server has its own)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// metricsMiddleware records latency and status per route pattern. The
// pattern keeps metric cardinality bounded regardless of what clients
// put in the URL.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		RecordRequest(r.Method, endpoint, ww.Status(), time.Since(start))
	})
}
