package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/handler/api"
	"MarketHub/internal/hub"
	"MarketHub/internal/middleware"
	"MarketHub/internal/usecase"
	"MarketHub/pkg/config"
	xhttp "MarketHub/pkg/http"
	applogger "MarketHub/pkg/logger"
)

// Sinks groups the downstream pipelines fed by the hub. Any of them may be nil.
type Sinks struct {
	Messages  []*middleware.SinkPipeline[models.Message]
	Snapshots *middleware.SinkPipeline[models.Snapshot]
	Events    *middleware.SinkPipeline[models.Event]
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	logger   *applogger.Logger
	hub      *hub.Hub
	sinks    Sinks
	binder   *usecase.SinkBinder
	analysis *usecase.AnalysisService
	feeds    *api.FeedsEchoHandler
	http     *xhttp.Server

	// sinks and the hub outlive the run context so Shutdown can drain them in order
	sinkCancel context.CancelFunc
	hubCancel  context.CancelFunc
	hubDone    chan struct{}
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	h *hub.Hub,
	sinks Sinks,
	analysis *usecase.AnalysisService,
	feeds *api.FeedsEchoHandler,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:      cfg,
		logger:   l,
		hub:      h,
		sinks:    sinks,
		binder:   usecase.NewSinkBinder(h, l),
		analysis: analysis,
		feeds:    feeds,
		http:     httpServer,
	}
}

func (a *App) consumers() []hub.Callback {
	out := make([]hub.Callback, 0, len(a.sinks.Messages))
	for _, p := range a.sinks.Messages {
		out = append(out, p.OnMessage)
	}
	return out
}

// Start brings up sinks, feeds, the hub loop, analytics and the HTTP server. ctx
// bounds the analytics timer only.
func (a *App) Start(ctx context.Context) error {
	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	a.sinkCancel = sinkCancel
	for _, p := range a.sinks.Messages {
		p.Start(sinkCtx)
	}
	if p := a.sinks.Snapshots; p != nil {
		p.Start(sinkCtx)
		a.hub.OnSnapshot(func(s models.Snapshot) {
			if err := p.Consume(s); err != nil && !errors.Is(err, middleware.ErrBufferFull) {
				a.logger.Debug("snapshot not cached", applogger.String("symbol", s.Symbol), applogger.Error(err))
			}
		})
	}
	if p := a.sinks.Events; p != nil {
		p.Start(sinkCtx)
	}

	feeds := a.cfg.FeedConfigs()
	consumers := a.consumers()
	if len(consumers) > 0 {
		if err := a.binder.Bind(feeds, a.cfg.Analytics.Symbols, consumers...); err != nil {
			return err
		}
		a.feeds.OnFeedStarted(func(fc models.FeedConfig) {
			if err := a.binder.Bind([]models.FeedConfig{fc}, nil, consumers...); err != nil {
				a.logger.Warn("sink bind failed", applogger.String("feed", fc.Name), applogger.Error(err))
			}
		})
	}

	for _, fc := range feeds {
		if err := a.hub.StartFeed(fc); err != nil {
			a.logger.Error("feed start failed", applogger.String("feed", fc.Name), applogger.Error(err))
		}
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	a.hubCancel = hubCancel
	a.hubDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		a.hub.Run(hubCtx)
	}(a.hubDone)

	if a.analysis != nil {
		a.analysis.Start(ctx)
	}

	if err := a.http.Start(); err != nil {
		return err
	}
	a.logger.Info("markethub started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("feeds", len(feeds)),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Bool("analytics", a.analysis != nil),
	)
	return nil
}

// Run starts the application and blocks until interrupted or the HTTP server fails.
func (a *App) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		cancel()
		a.Shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-a.http.Err():
		a.logger.Error("http server failed", applogger.Error(runErr))
	}
	cancel()
	a.Shutdown()
	return runErr
}

// Shutdown stops intake first, then drains the sinks. Infrastructure clients are
// closed by the cleanup returned from the injector.
func (a *App) Shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.http.Stop(ctx); err != nil {
		a.logger.Warn("http shutdown error", applogger.Error(err))
	}
	if a.analysis != nil {
		a.analysis.Stop()
	}

	a.hub.Shutdown()
	if a.hubCancel != nil {
		a.hubCancel()
		select {
		case <-a.hubDone:
		case <-ctx.Done():
			a.logger.Warn("hub loop did not stop in time")
		}
	}
	a.binder.Unbind()

	for _, p := range a.sinks.Messages {
		if err := p.Stop(ctx); err != nil {
			a.logger.Warn("sink drain error", applogger.String("sink", p.Name()), applogger.Error(err))
		}
	}
	if p := a.sinks.Snapshots; p != nil {
		if err := p.Stop(ctx); err != nil {
			a.logger.Warn("snapshot sink drain error", applogger.Error(err))
		}
	}
	if p := a.sinks.Events; p != nil {
		if err := p.Stop(ctx); err != nil {
			a.logger.Warn("event sink drain error", applogger.Error(err))
		}
	}
	if a.sinkCancel != nil {
		a.sinkCancel()
	}
	a.logger.Info("shutdown complete")
}
