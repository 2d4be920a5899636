package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/marianozunino/filez/internal/config"
	"github.com/marianozunino/filez/internal/db"
	"github.com/marianozunino/filez/internal/expiration"
	"github.com/marianozunino/filez/internal/handler"
	"github.com/marianozunino/filez/internal/lifecycle"
	"github.com/marianozunino/filez/internal/metrics"
	middie "github.com/marianozunino/filez/internal/middleware"
	"github.com/marianozunino/filez/internal/notify"
)

const (
	shutdownTimeout = 10 * time.Second

	// room for multipart boundaries and form fields around the largest upload
	multipartOverhead = 1 << 20
)

// App represents the application
type App struct {
	server   *echo.Echo
	sweeper  *expiration.Sweeper
	config   *config.Config
	db       *db.DB
	logger   *zap.Logger
	registry *prometheus.Registry
}

// Option customizes an App
type Option func(*options)

type options struct {
	now    func() time.Time
	mailer notify.Mailer
}

// WithClock replaces the wall clock used for lifecycle decisions
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMailer replaces the mail transport built from the SMTP settings
func WithMailer(m notify.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// NewLogger builds the zap logger for level. "debug" gets the development
// console logger, anything else the production JSON logger.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "" || level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// NewEngine builds the lifecycle engine from the configured policy
func NewEngine(cfg *config.Config) *lifecycle.Engine {
	return lifecycle.NewEngine(lifecycle.Policy{
		MaxExtendCount:  cfg.MaxExtendCount,
		ExtensionUnit:   cfg.ExtensionUnit,
		DefaultLifetime: cfg.DefaultLifetime,
	})
}

// New creates a new application instance
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setup(cfg); err != nil {
		return nil, err
	}

	store, err := db.NewDB(cfg, logger.Named("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	mailer := o.mailer
	if mailer == nil {
		mailer = notify.NewMailer(cfg.SMTP, logger.Named("mail"))
	}
	engine := NewEngine(cfg)
	dispatcher := notify.NewDispatcher(mailer, cfg.SMTP.From, cfg.BaseURL, logger.Named("notify"), o.now)
	sweeper := expiration.NewSweeper(store, engine, dispatcher, m, logger, expiration.Options{
		Enabled:            cfg.SweeperEnabled,
		Interval:           cfg.CheckIntervalDuration(),
		NotificationWindow: cfg.NotificationWindow(),
	}, o.now)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Configure timeouts for large file uploads
	e.Server.ReadTimeout = 10 * time.Minute
	e.Server.WriteTimeout = 10 * time.Minute
	e.Server.IdleTimeout = 15 * time.Minute
	e.Server.ReadHeaderTimeout = 30 * time.Second

	app := &App{
		server:   e,
		sweeper:  sweeper,
		config:   cfg,
		db:       store,
		logger:   logger,
		registry: registry,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit(cfg)))
	e.Use(middie.SecurityHeaders())
	e.Use(middie.Identity())
	e.Use(middie.RequestLogger(logger))

	h := handler.NewHandler(cfg, store, engine, dispatcher, sweeper, m, logger, o.now)
	registerRoutes(e, app, h)

	return app, nil
}

// Run serves HTTP and runs the sweeper until ctx is done or either fails
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%d", a.config.Port)
	g.Go(func() error {
		a.logger.Info("server started", zap.String("addr", addr), zap.String("base_url", a.config.BaseURL))
		if err := a.server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sweeper.Run(ctx)
	})

	<-ctx.Done()

	a.logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", zap.Error(err))
		return err
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

// Sweep runs a single expiration sweep
func (a *App) Sweep(ctx context.Context) expiration.Report {
	return a.sweeper.Sweep(ctx)
}

// ServeHTTP serves a request through the echo router
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.server.ServeHTTP(w, r)
}

// Close releases the database
func (a *App) Close() error {
	return a.db.Close()
}

// bodyLimit is the echo BodyLimit size for cfg, in KiB
func bodyLimit(cfg *config.Config) string {
	limit := cfg.MaxSizeToBytes() + multipartOverhead
	return fmt.Sprintf("%dK", (limit+1023)/1024)
}

// setup ensures all necessary directories and files exist
func setup(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.UploadPath, 0o755); err != nil {
		return err
	}

	return nil
}

// registerRoutes registers all HTTP routes
func registerRoutes(e *echo.Echo, app *App, h *handler.Handler) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))
	h.RegisterRoutes(e)
}

// errorHandler renders echo errors in the same JSON shape as the handlers
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.Error("unhandled error", zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]any{
				"status":     "error",
				"statusText": msg,
			})
		}
		if err != nil {
			logger.Error("failed to write error response", zap.Error(err))
		}
	}
}
