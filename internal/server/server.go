package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/analysis"
	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/logging"
	"github.com/KaramelBytes/equiplens-cli/internal/metrics"
	"github.com/KaramelBytes/equiplens-cli/internal/store"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// Datasets is the storage the API serves from.
type Datasets interface {
	Create(ctx context.Context, up store.Upload) (*store.Dataset, error)
	Get(id int) (*store.Dataset, error)
	List(owner string) ([]store.Entry, error)
	Delete(id int) error
}

// Options wires the server's collaborators. Only Datasets and Engine are required.
type Options struct {
	Datasets Datasets
	Engine   *analysis.Engine
	// Annotate fills AI insights on upload when set.
	Annotate func(ctx context.Context, s equipment.Summary) string
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// MaxUploadBytes caps the request body; 0 leaves it to the store.
	MaxUploadBytes int64
	Now            func() time.Time
}

// Server is the HTTP API over a dataset store and comparison engine.
type Server struct {
	opts   Options
	log    *slog.Logger
	router *gin.Engine
}

// New builds the router. Call Handler or Run to serve it.
func New(opts Options) (*Server, error) {
	if opts.Datasets == nil || opts.Engine == nil {
		return nil, errors.New("server needs a dataset store and an engine")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts, log: opts.Logger}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.log, s.opts.Metrics))

	h := &handler{
		datasets: s.opts.Datasets,
		engine:   s.opts.Engine,
		annotate: s.opts.Annotate,
		metrics:  s.opts.Metrics,
		log:      s.log,
		maxBody:  s.opts.MaxUploadBytes,
		now:      s.opts.Now,
	}
	api := r.Group("/api")
	api.GET("/", h.health)
	api.POST("/upload/", h.upload)
	api.GET("/summary/:id/", h.summary)
	api.GET("/compare/", h.compare)
	api.GET("/report/compare/", h.compareReport)
	api.GET("/report/:id/", h.report)
	api.GET("/history/", h.history)
	api.DELETE("/datasets/:id/", h.delete)

	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
