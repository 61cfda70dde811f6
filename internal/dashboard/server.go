// Package dashboard serves Quill's local HTTP API and the live event stream.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/session"
	"gorm.io/gorm"
)

var log = logging.New("dashboard")

// Enhancer is the orchestrator surface the API drives.
type Enhancer interface {
	Enhance(ctx context.Context, sessionID string, opts enhance.Options) (*enhance.Result, error)
	Cancel(sessionID string) bool
	Progress(sessionID string) (float64, bool)
	Pending(sessionID string) bool
}

// Stager records the template picked when a recording stops.
type Stager interface {
	Stage(sessionID string, ref enhance.TemplateRef)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB       *gorm.DB
	Port     int
	Out      io.Writer
	Store    *session.Store
	Enhancer Enhancer
	Hub      *events.Hub
	Stager   Stager // optional; nil disables template staging
}

func (o StartOpts) validate() error {
	var errs []error
	if o.DB == nil {
		errs = append(errs, errors.New("db is required"))
	}
	if o.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if o.Enhancer == nil {
		errs = append(errs, errors.New("enhancer is required"))
	}
	if o.Hub == nil {
		errs = append(errs, errors.New("hub is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("dashboard: %w", errors.Join(errs...))
	}
	return nil
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 7313
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}
	log.Info("listening", "addr", srv.Addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
