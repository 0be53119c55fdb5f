// Package server wires the terminal engine, REST handlers, and WebSocket
// streams into one HTTP server.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/plue/termcore/internal/api/http"
	"github.com/plue/termcore/internal/api/middleware"
	"github.com/plue/termcore/internal/config"
	"github.com/plue/termcore/internal/logging"
	"github.com/plue/termcore/internal/monitoring"
	"github.com/plue/termcore/internal/term"
	"github.com/plue/termcore/internal/ws"
)

// Server wraps the HTTP router and the session manager.
type Server struct {
	router  *gin.Engine
	manager *term.Manager
	log     *logging.Logger
}

// New creates a server from configuration.
func New(cfg *config.Config, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefault()
	}

	metrics := monitoring.NewMetrics()
	manager := term.NewManager(cfg.Terminal, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(manager, logger)
	wsHandler := ws.NewHandler(manager, logger, metrics, cfg.Terminal.PollInterval)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	router.POST("/terminals", handlers.Create)
	router.GET("/terminals", handlers.List)
	router.GET("/terminals/:id", handlers.Get)
	router.DELETE("/terminals/:id", handlers.Delete)
	router.POST("/terminals/:id/input", handlers.Input)
	router.GET("/terminals/:id/output", handlers.Output)
	router.POST("/terminals/:id/resize", handlers.Resize)
	router.POST("/terminals/:id/stop", handlers.Stop)
	router.GET("/terminals/:id/stream", wsHandler.HandleConnection)

	return &Server{
		router:  router,
		manager: manager,
		log:     logger.Named("server"),
	}
}

// Manager exposes the session manager, mainly for tests.
func (s *Server) Manager() *term.Manager {
	return s.manager
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the server on addr and blocks.
func (s *Server) Run(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close tears down every live session.
func (s *Server) Close() error {
	s.manager.CloseAll()
	return nil
}
