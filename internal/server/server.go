package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/internal/mcp"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Hostname     string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         4096,
		Hostname:     "127.0.0.1",
		CORSOrigins:  []string{"*"},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// ConfigFromSettings builds a server config from the app settings.
func ConfigFromSettings(s *types.ServerSettings) *Config {
	cfg := DefaultConfig()
	if s == nil {
		return cfg
	}
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if s.Hostname != "" {
		cfg.Hostname = s.Hostname
	}
	if len(s.CORSOrigins) > 0 {
		cfg.CORSOrigins = s.CORSOrigins
	}
	return cfg
}

// Deps are the components the API exposes.
type Deps struct {
	AppConfig *types.Config
	Registry  *mcp.Registry
	Chat      *chat.Orchestrator
	Providers *provider.Registry
	Secrets   secrets.Store
	Bus       *event.Bus

	// ConfigPath is where imported servers are saved. Empty disables
	// saving.
	ConfigPath string
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	log     zerolog.Logger

	cfgMu      sync.Mutex
	appConfig  *types.Config
	configPath string

	registry  *mcp.Registry
	chat      *chat.Orchestrator
	providers *provider.Registry
	secrets   secrets.Store
	bus       *event.Bus
}

// New creates a new Server instance.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	appConfig := deps.AppConfig
	if appConfig == nil {
		appConfig = &types.Config{}
	}
	bus := deps.Bus
	if bus == nil {
		bus = event.Default()
	}

	s := &Server{
		config:     cfg,
		router:     chi.NewRouter(),
		log:        logging.Component("server"),
		appConfig:  appConfig,
		configPath: deps.ConfigPath,
		registry:   deps.Registry,
		chat:       deps.Chat,
		providers:  deps.Providers,
		secrets:    deps.Secrets,
		bus:        bus,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ConnectConfigured connects every enabled server of the app config.
// Failures are logged and reported through status events; the error
// lists the ids that failed.
func (s *Server) ConnectConfigured(ctx context.Context) error {
	s.cfgMu.Lock()
	servers := make([]types.ServerConfig, 0, len(s.appConfig.MCP))
	for id, srv := range s.appConfig.MCP {
		if srv.ID == "" {
			srv.ID = id
		}
		servers = append(servers, srv)
	}
	s.cfgMu.Unlock()
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })

	var failed []string
	for _, srv := range servers {
		if srv.Disabled {
			continue
		}
		if _, err := s.registry.Connect(ctx, srv); err != nil {
			s.log.Warn().Err(err).Str("server", srv.ID).Msg("failed to connect server")
			failed = append(failed, srv.ID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to connect %d server(s): %v", len(failed), failed)
	}
	return nil
}

// ApplyConfig replaces the app config, connecting servers that are new
// or changed and disconnecting servers that were removed or disabled.
func (s *Server) ApplyConfig(ctx context.Context, cfg *types.Config) {
	s.cfgMu.Lock()
	old := s.appConfig
	s.appConfig = cfg
	s.cfgMu.Unlock()

	for id, prev := range old.MCP {
		next, ok := cfg.MCP[id]
		if !ok || next.Disabled {
			if !prev.Disabled {
				_ = s.registry.Disconnect(ctx, id)
			}
		}
	}
	for id, next := range cfg.MCP {
		if next.Disabled {
			continue
		}
		prev, existed := old.MCP[id]
		if existed && !prev.Disabled && sameServer(prev, next) {
			continue
		}
		if next.ID == "" {
			next.ID = id
		}
		if _, err := s.registry.Connect(ctx, next); err != nil {
			s.log.Warn().Err(err).Str("server", id).Msg("failed to connect server after reload")
		}
	}
}

func sameServer(a, b types.ServerConfig) bool {
	return reflect.DeepEqual(a, b)
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// requestLogger logs each request through zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Hostname, strconv.Itoa(s.config.Port))
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and disconnects all servers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	if s.registry != nil {
		s.registry.DisconnectAll(ctx)
	}
	return err
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) currentConfig() *types.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.appConfig
}
