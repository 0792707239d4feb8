// Package api serves canvas images and pixel attribution over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"graffio/internal/storage"
)

const DefaultListenAddress = "0.0.0.0:7645"

// Config configures the HTTP listener.
type Config struct {
	ListenAddress string
}

// Server is the HTTP API. Either storage may be nil, in which case its
// routes are not registered.
type Server struct {
	cfg      Config
	pixels   storage.PixelStorage
	metadata storage.MetadataStorage
	logger   *zap.Logger
	handler  http.Handler
}

func NewServer(cfg Config, pixels storage.PixelStorage, metadata storage.MetadataStorage, logger *zap.Logger) *Server {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, pixels: pixels, metadata: metadata, logger: logger.Named("api")}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	r.GET("/", root)
	r.GET("/v1", root)
	r.GET("/healthz", healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if pixels != nil {
		r.GET("/v1/pixels/:address", s.getImage)
		r.GET("/media/:address", s.getImage)
	}
	if metadata != nil {
		r.GET("/v1/metadata/attribution/:canvas/:index", s.getAttribution)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	s.handler = c.Handler(r)
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info("shutting down the http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown http server", zap.Error(err))
		}
	}()

	s.logger.Info("starting http server", zap.String("addr", lis.Addr().String()))
	err := srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return ctx.Err()
	}
	return err
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}
