package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/guarzo/commentproxy/modules/comments"
	"github.com/guarzo/commentproxy/modules/moderation"
	"github.com/guarzo/commentproxy/modules/threads"
	"github.com/guarzo/commentproxy/modules/widget"
)

const (
	ServiceName    = "Comment Widget Proxy"
	ServiceVersion = "1.0.0"
)

// Services bundles the domain services the routes dispatch to.
type Services struct {
	Comments   comments.CommentService
	Threads    threads.ThreadService
	Moderation moderation.ModerationService
	Widget     widget.WidgetService
}

// Options carries the values reported by the informational endpoints.
type Options struct {
	Instance         string
	APIKeyConfigured bool
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Server is the HTTP front of the proxy.
type Server struct {
	services Services
	opts     Options
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time

	handler http.Handler
	server  *http.Server
}

// NewServer builds the route table. metrics may be nil, which disables /metrics.
func NewServer(services Services, opts Options, metrics *Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		services: services,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.With().Str("component", "api").Logger(),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = chain(mux,
		requestID(s.logger),
		accessLog(metrics),
		recoverPanics,
		securityHeaders,
		cors,
	)
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("GET /comments", s.handleListComments)
	mux.HandleFunc("GET /api/comments", s.handleListComments)
	mux.HandleFunc("POST /comments", s.handleCreateComment)
	mux.HandleFunc("POST /comments/moderate", s.handleBulkModerateComments)
	mux.HandleFunc("GET /comments/{id}", s.handleGetComment)
	mux.HandleFunc("DELETE /comments/{id}", s.handleDeleteComment)
	mux.HandleFunc("PUT /comments/{id}/moderate", s.handleModerateComment)

	mux.HandleFunc("GET /threads", s.handleListThreads)
	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	mux.HandleFunc("PUT /threads/{id}", s.handleUpdateThread)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	mux.HandleFunc("GET /threads/{id}/stats", s.handleThreadStats)

	mux.HandleFunc("GET /moderation/comments", s.handleModerationQueue)
	mux.HandleFunc("GET /moderation/stats", s.handleModerationStats)
	mux.HandleFunc("POST /moderation/bulk", s.handleModerationBulk)
	mux.HandleFunc("POST /moderation/{id}", s.handleModerationSingle)

	mux.HandleFunc("GET /widget/comments/{thread_id}", s.handleWidgetComments)
	mux.HandleFunc("GET /widget/demo/thread", s.handleDemoThread)
	mux.HandleFunc("GET /widget/config", s.handleWidgetConfig)
	mux.HandleFunc("POST /widget/config", s.handleUpdateWidgetConfig)
	mux.HandleFunc("GET /widget/themes", s.handleWidgetThemes)
	mux.HandleFunc("GET /widget/embed/{thread_id}", s.handleWidgetEmbed)
	mux.HandleFunc("POST /widget/preview", s.handleWidgetPreview)
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests
// for up to shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
