package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/harunnryd/mcpchat/pkg/chat"
	"github.com/harunnryd/mcpchat/pkg/session"
)

type Config struct {
	Addr              string
	WSPath            string
	CORSOrigins       []string
	ReadHeaderTimeout time.Duration
	Debug             bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	return c
}

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Store     *session.Store
	WebSocket http.Handler
	Presets   []chat.ServerPreset
	Logger    *slog.Logger
}

// Server is the gin HTTP front door: health, websocket upgrade and a
// read-only session inspection API.
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

func New(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	s := &Server{cfg: cfg, deps: deps, engine: r}
	s.attachRoutes(r)
	return s
}

func (s *Server) attachRoutes(r *gin.Engine) {
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
		}))
	}

	h := handlers{store: s.deps.Store, presets: s.deps.Presets}
	r.GET("/health", h.Health)
	if s.deps.WebSocket != nil {
		r.GET(s.cfg.WSPath, gin.WrapH(s.deps.WebSocket))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/:id/tools", h.SessionTools)
		v1.GET("/sessions/:id/history", h.SessionHistory)
		v1.GET("/mcp/servers", h.Servers)
	}
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Addr() string { return s.cfg.Addr }

// Start listens on the configured address and serves until ctx ends or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		Handler:           s.engine,
	}
	go func() {
		<-ctx.Done()
		_ = s.http.Close()
	}()
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("http_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
