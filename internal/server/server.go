// Package server provides HTTP server initialization and lifecycle
// management for the Caligo API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/caligo-app/caligo/internal/audit"
	"github.com/caligo-app/caligo/internal/config"
	"github.com/caligo-app/caligo/internal/export"
	"github.com/caligo-app/caligo/internal/jobs"
	"github.com/caligo-app/caligo/internal/session"
	"github.com/caligo-app/caligo/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Deps bundles the components the server exposes.
type Deps struct {
	Sessions  *session.Manager
	Runner    *jobs.Runner
	Exporter  *export.Coordinator
	Audit     audit.Store
	Hub       *handlers.WebSocketHub
	NERHealth func(context.Context) error
}

// Routes builds the API mux. Exposed separately so tests can drive the
// full routing table without a listener.
func Routes(deps Deps) *http.ServeMux {
	api := handlers.NewAPIHandlers(deps.Sessions, deps.Runner, deps.Exporter, deps.Audit)
	if deps.NERHealth != nil {
		api.SetNERHealthCheck(deps.NERHealth)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", api.CreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", api.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", api.DeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/analyze", api.Analyze)
	mux.HandleFunc("POST /api/sessions/{id}/apply", api.Apply)
	mux.HandleFunc("GET /api/sessions/{id}/audit", api.ListAuditRuns)

	mux.HandleFunc("GET /api/sessions/{id}/entities", api.ListEntities)
	mux.HandleFunc("POST /api/sessions/{id}/entities", api.CreateEntity)
	mux.HandleFunc("POST /api/sessions/{id}/entities/bulk", api.BulkEntities)
	mux.HandleFunc("POST /api/sessions/{id}/entities/search", api.SearchEntities)
	mux.HandleFunc("GET /api/sessions/{id}/entities/{entityID}", api.GetEntity)
	mux.HandleFunc("PATCH /api/sessions/{id}/entities/{entityID}", api.UpdateEntity)
	mux.HandleFunc("DELETE /api/sessions/{id}/entities/{entityID}", api.DeleteEntity)

	mux.HandleFunc("GET /api/sessions/{id}/source-filters", api.GetSourceFilters)
	mux.HandleFunc("PUT /api/sessions/{id}/source-filters", api.SetSourceFilter)

	mux.HandleFunc("GET /api/sessions/{id}/groups", api.ListGroups)
	mux.HandleFunc("POST /api/sessions/{id}/groups", api.CreateGroup)
	mux.HandleFunc("GET /api/sessions/{id}/groups/{groupID}", api.GetGroup)
	mux.HandleFunc("PATCH /api/sessions/{id}/groups/{groupID}", api.UpdateGroup)
	mux.HandleFunc("DELETE /api/sessions/{id}/groups/{groupID}", api.DeleteGroup)
	mux.HandleFunc("POST /api/sessions/{id}/groups/{groupID}/members", api.AddGroupMember)
	mux.HandleFunc("DELETE /api/sessions/{id}/groups/{groupID}/members/{entityID}", api.RemoveGroupMember)

	mux.HandleFunc("GET /api/sessions/{id}/grouping-candidates", api.ListCandidates)
	mux.HandleFunc("POST /api/sessions/{id}/grouping-candidates/{entityID}", api.ToggleCandidate)

	mux.HandleFunc("GET /api/jobs/{id}", api.GetJob)
	mux.HandleFunc("GET /api/health", api.Health)

	return mux
}

// Start builds the middleware chain and serves until ctx is canceled.
// Returns the actual address being listened on (useful for testing with
// port 0).
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, error) {
	apiMux := Routes(deps)

	mux := http.NewServeMux()
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg.Security.APIToken))
	if deps.Hub != nil {
		// Origin validation handles websocket security.
		mux.Handle("/ws", deps.Hub)
	}

	rateLimiter := handlers.NewRateLimiter(cfg.Security.RateLimit, cfg.Security.RateBurst)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		if deps.Hub != nil {
			deps.Hub.Stop()
		}
	}()

	log.Printf("server: listening on %s", actualAddr)
	return actualAddr, nil
}
