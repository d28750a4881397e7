package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/metrics"
)

type Routes struct {
	Auth      *AuthMiddleware
	Positions *PositionHandler
	Health    *HealthChecker
	// AlertFeed serves the live alert websocket; nil disables it.
	AlertFeed http.Handler
}

func NewRouter(routes Routes, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	routes.Health.Register(r)
	r.GET("/metrics", gin.WrapF(metrics.HandleMetrics))

	v1 := r.Group("/v1")
	if routes.AlertFeed != nil {
		v1.GET("/alerts/ws", gin.WrapH(routes.AlertFeed))
	}

	devices := v1.Group("", routes.Auth.Handle)
	routes.Positions.Register(devices)
	return r
}

// Server wraps http.Server so it can run under an errgroup and stop with
// its context.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

func NewServer(port string, handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
