// Package api serves the tutoring operations over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/sensei/internal/logger"
	"github.com/abhisek/sensei/internal/metrics"
	"github.com/abhisek/sensei/internal/rubric"
)

type RouterConfig struct {
	Service Service
	Goals   rubric.Source
	Logger  *logger.Logger

	// ServiceName names request spans. A nil TracerProvider uses the
	// global one.
	ServiceName    string
	TracerProvider trace.TracerProvider
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sensei"
	}
	tracing := []otelgin.Option{}
	if cfg.TracerProvider != nil {
		tracing = append(tracing, otelgin.WithTracerProvider(cfg.TracerProvider))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName, tracing...))
	r.Use(RequestID())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(Metrics(metrics.Get()))

	r.GET("/healthcheck", HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewSessionHandler(cfg.Service, cfg.Goals)
	v1 := r.Group("/api/v1")
	{
		v1.POST("/sessions", h.Start)
		v1.POST("/sessions/:id/turns", h.SubmitTurn)
		v1.DELETE("/sessions/:id", h.End)
		v1.GET("/progress/:user/:goal", h.Progress)
		v1.POST("/handoffs", h.Handoff)
		if cfg.Goals != nil {
			v1.GET("/goals", h.Goals)
		}
	}
	return r
}

type Server struct {
	Engine *gin.Engine
	log    *logger.Logger
}

func NewServer(cfg RouterConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{Engine: NewRouter(cfg), log: log.With("service", "http")}
}

// Run serves on addr until ctx ends, then drains in-flight requests for up
// to shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down", "timeout", shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
