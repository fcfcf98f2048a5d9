package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"homebridge/internal/config"
	"homebridge/internal/remoteconfig"
	"homebridge/internal/server"
	"homebridge/pkg/plugin"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// configureTimeout bounds how long a configuration request waits for the
// platform to respond.
const configureTimeout = 10 * time.Second

// maxRequestBodySize limits request bodies to 1 MB.
const maxRequestBodySize = 1 << 20

// Backend is the bridge the API reports on.
type Backend interface {
	Status() server.Status
	Accessories() []server.AccessoryInfo
	RemoteConfig() *remoteconfig.Channel
}

// Server provides the management HTTP API of the bridge
type Server struct {
	backend Backend
	hub     *Hub
	logger  *zap.Logger
	router  chi.Router
	server  *http.Server
}

// NewServer creates a new API server listening on addr. hub may be nil, in
// which case the event stream is not offered.
func NewServer(backend Backend, hub *Hub, logger *zap.Logger, addr string) *Server {
	s := &Server{
		backend: backend,
		hub:     hub,
		logger:  logger.Named("api"),
	}
	s.router = s.buildRouter()

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 10 * time.Second,
		// No write timeout: the event stream is long lived.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/", s.handleSitemap)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/bridge", s.handleBridge)
		r.Get("/accessories", s.handleAccessories)
		r.Post("/config/{kind}", s.handleApplyConfig)
		r.Post("/platforms/{name}/configure", s.handleConfigurePlatform)
		if s.hub != nil {
			r.Get("/events", s.hub.ServeHTTP)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no such endpoint, see / for a list")
	})
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in HTTP handler",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path))
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.backend.Status()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  st.State.String(),
	})
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleAccessories(w http.ResponseWriter, r *http.Request) {
	accs := s.backend.Accessories()
	if accs == nil {
		accs = []server.AccessoryInfo{}
	}
	writeJSON(w, http.StatusOK, accs)
}

// ApplyConfigRequest is the body of POST /api/config/{kind}.
type ApplyConfigRequest struct {
	// Name identifies the entry to replace, "plugin.Type" or "Type".
	Name    string        `json:"name"`
	Replace bool          `json:"replace"`
	Config  plugin.Config `json:"config"`
}

func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	var req ApplyConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Config == nil {
		writeBadRequest(w, "config is required")
		return
	}

	err := s.backend.RemoteConfig().Apply(kind, req.Name, req.Replace, req.Config)
	switch {
	case errors.Is(err, config.ErrUnknownKind):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to apply configuration", zap.String("kind", kind), zap.Error(err))
		writeInternalError(w, "failed to save configuration")
		return
	}

	s.logger.Info("Configuration applied",
		zap.String("kind", kind),
		zap.String("name", req.Name),
		zap.String("remote_addr", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigurePlatform(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	request := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeBadRequest(w, "invalid JSON body: "+err.Error())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), configureTimeout)
	defer cancel()

	response, err := s.backend.RemoteConfig().Request(ctx, name, request)
	switch {
	case errors.Is(err, remoteconfig.ErrUnknownPlatform):
		writeNotFound(w, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "platform did not respond in time")
		return
	case err != nil:
		writeInternalError(w, err.Error())
		return
	}

	if response == nil {
		response = map[string]any{}
	}
	writeJSON(w, http.StatusOK, response)
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

func (s *Server) endpoints() []Endpoint {
	endpoints := []Endpoint{
		{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
		{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
		{Path: "/api/bridge", Method: "GET", Description: "Bridge state, setup URI, pending platforms and plugins"},
		{Path: "/api/accessories", Method: "GET", Description: "Bridged and external accessories"},
		{Path: "/api/config/{kind}", Method: "POST", Description: "Add or replace an accessories/platforms entry in config.json"},
		{Path: "/api/platforms/{name}/configure", Method: "POST", Description: "Send a configuration request to a platform"},
	}
	if s.hub != nil {
		endpoints = append(endpoints, Endpoint{Path: "/api/events", Method: "GET", Description: "WebSocket stream of process events"})
	}
	return endpoints
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	endpoints := s.endpoints()
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Homebridge API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Homebridge API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Homebridge API\n")
		fmt.Fprintf(w, "==============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-32s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.hub != nil {
		_ = s.hub.Close()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
