package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"screenpilot/internal/config"
	"screenpilot/internal/models"
	"screenpilot/internal/rag"
)

// Service is the pipeline the HTTP handlers drive. *rag.RAG implements it.
type Service interface {
	Ask(ctx context.Context, req rag.AskRequest) (*models.PromptResponse, error)
	Upload(ctx context.Context, filename string, data []byte) (*rag.UploadResult, error)
	ListDocuments(ctx context.Context) []models.Document
	DeleteDocument(ctx context.Context, id string) error
	Health(ctx context.Context) rag.Health
}

// Server holds the gin router and the service behind it.
type Server struct {
	cfg     config.ServerConfig
	router  *gin.Engine
	service Service
}

func New(cfg config.ServerConfig, service Service) *Server {
	switch cfg.Mode {
	case gin.ReleaseMode, "production":
		gin.SetMode(gin.ReleaseMode)
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.DefaultUploadLimitBytes
	}

	s := &Server{
		cfg:     cfg,
		router:  gin.New(),
		service: service,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(accessLogMiddleware())
	s.router.Use(corsMiddleware(s.cfg.AllowedOrigins))
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.root)
	s.router.GET("/health", s.health)
	s.router.POST("/upload", s.upload)
	s.router.POST("/ask", s.ask(models.ProviderFriendli))
	s.router.POST("/ask-async", s.ask(models.ProviderFriendli))
	s.router.POST("/ask-gemini", s.ask(models.ProviderGemini))

	docs := s.router.Group("/documents")
	{
		docs.GET("", s.listDocuments)
		docs.DELETE("/:id", s.deleteDocument)
	}
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer builds the http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	if addr == "" {
		addr = s.cfg.Addr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
