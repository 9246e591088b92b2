package control

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/rovas-connector/internal/session"
	"github.com/goodtune/rovas-connector/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultReferenceCacheSize bounds the number of reported references remembered.
const DefaultReferenceCacheSize = 256

// Config holds the control server configuration.
type Config struct {
	ListenAddr         string
	ReferenceCacheSize int
}

// Server is the local HTTP API used by editors and scripts to drive a session.
type Server struct {
	config    Config
	session   *session.Session
	history   storage.SubmissionStore
	reported  *lru.Cache[int64, string] // reference id -> submission id
	router    *gin.Engine
	server    *http.Server
	listener  net.Listener
	startTime time.Time
	logger    zerolog.Logger

	// Submissions outlive the requests that start them.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer creates a new control server.
func NewServer(cfg Config, sess *session.Session, history storage.SubmissionStore, logger zerolog.Logger) (*Server, error) {
	if cfg.ReferenceCacheSize <= 0 {
		cfg.ReferenceCacheSize = DefaultReferenceCacheSize
	}
	reported, err := lru.New[int64, string](cfg.ReferenceCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference cache: %w", err)
	}

	logger = logger.With().Str("component", "control").Logger()
	if logger.GetLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router without default middleware (we use custom JSON logging)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(logger))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		session:   sess,
		history:   history,
		reported:  reported,
		router:    router,
		startTime: time.Now(),
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // submit waits for the pipeline
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/activity", s.handleActivity)
	api.GET("/status", s.handleStatus)
	api.POST("/submit", s.handleSubmit)
	api.POST("/reset", s.handleReset)
	api.GET("/previous", s.handleGetPrevious)
	api.POST("/previous", s.handlePrevious)
	api.GET("/submissions", s.handleSubmissions)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the control server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting control server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated control listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control server error")
		}
	}()
	return nil
}

// Stop gracefully stops the control server. Running submissions are cancelled if they
// have not yet created a work report.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("Stopping control server")
	s.cancel()
	return s.server.Shutdown(ctx)
}
