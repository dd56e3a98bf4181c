package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/internal/hub"
	"MarketHub/pkg/config"
	xhttp "MarketHub/pkg/http"
	xlogger "MarketHub/pkg/logger"

	"github.com/labstack/echo/v4"
)

// FeedHub is the part of the hub the control API drives.
type FeedHub interface {
	StartFeed(cfg models.FeedConfig) error
	StopFeed(name string) error
	RestartFeed(name string) error
	Status(name string) (models.FeedStatus, error)
	StatusAll() map[string]models.FeedStatus
	FeedConfig(name string) (models.FeedConfig, error)
	Buffer(feed string, limit int) ([]models.Message, error)
	Snapshot(symbol string) (models.Snapshot, bool)
	Snapshots() []models.Snapshot
}

// RecommendationReader serves the latest analyzer output per symbol.
type RecommendationReader interface {
	Latest(symbol string) []models.Recommendation
}

// HistoryReader queries archived messages, newest first.
type HistoryReader interface {
	Query(ctx context.Context, feed, channel string, from, to time.Time, limit int) ([]models.Message, error)
}

// FeedRequest is the body of POST /api/feeds.
type FeedRequest struct {
	Name                 string   `json:"name" validate:"required,max=64"`
	Transport            string   `json:"transport" default:"websocket" validate:"oneof=websocket kafka nats mqtt sim"`
	Endpoint             string   `json:"endpoint" validate:"required"`
	Codec                string   `json:"codec" default:"envelope" validate:"oneof=envelope finnhub"`
	ReconnectInterval    string   `json:"reconnect_interval" default:"5s"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts" default:"10" validate:"min=0"`
	Channels             []string `json:"channels" validate:"unique,dive,required"`
	Kinds                []string `json:"kinds"`
	BufferSize           int      `json:"buffer_size" validate:"min=0"`
}

// FeedView is a feed's status together with its configuration.
type FeedView struct {
	models.FeedStatus
	Config models.FeedConfig `json:"config"`
}

// FeedsEchoHandler serves feed control, buffers, snapshots and analysis over Echo.
type FeedsEchoHandler struct {
	logger   *xlogger.Logger
	hub      FeedHub
	analysis RecommendationReader
	cfg      *config.Config
	history  HistoryReader
	onStart  []func(models.FeedConfig)
}

func NewFeedsEchoHandler(logger *xlogger.Logger, h FeedHub, analysis RecommendationReader, cfg *config.Config) *FeedsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &FeedsEchoHandler{logger: logger, hub: h, analysis: analysis, cfg: cfg}
}

// SetHistory enables GET /api/feeds/:name/history.
func (h *FeedsEchoHandler) SetHistory(r HistoryReader) { h.history = r }

// OnFeedStarted registers fn to run after a feed is started through the API.
func (h *FeedsEchoHandler) OnFeedStarted(fn func(models.FeedConfig)) {
	h.onStart = append(h.onStart, fn)
}

func (h *FeedsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/api")
	g.GET("/feeds", h.ListFeeds)
	g.POST("/feeds", h.CreateFeed)
	g.GET("/feeds/:name", h.GetFeed)
	g.DELETE("/feeds/:name", h.DeleteFeed)
	g.POST("/feeds/:name/restart", h.RestartFeed)
	g.GET("/feeds/:name/buffer", h.FeedBuffer)
	g.GET("/feeds/:name/history", h.FeedHistory)
	g.GET("/snapshots", h.ListSnapshots)
	g.GET("/snapshots/:symbol", h.GetSnapshot)
	g.GET("/analysis/:symbol", h.GetAnalysis)
}

func (h *FeedsEchoHandler) ListFeeds(c echo.Context) error {
	all := h.hub.StatusAll()
	rows := make([]models.FeedStatus, 0, len(all))
	for _, st := range all {
		rows = append(rows, st)
	}
	sortStatuses(rows)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *FeedsEchoHandler) GetFeed(c echo.Context) error {
	name := c.Param("name")
	st, err := h.hub.Status(name)
	if err != nil {
		return h.feedError(c, name, err)
	}
	cfg, err := h.hub.FeedConfig(name)
	if err != nil {
		return h.feedError(c, name, err)
	}
	return xhttp.SuccessResponse(c, FeedView{FeedStatus: st, Config: cfg})
}

func (h *FeedsEchoHandler) CreateFeed(c echo.Context) error {
	req := &FeedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	fc, err := h.feedConfig(req)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if err := h.hub.StartFeed(fc); err != nil {
		return h.feedError(c, fc.Name, err)
	}
	for _, fn := range h.onStart {
		fn(fc)
	}
	h.logger.Info("feed started via api", xlogger.String("feed", fc.Name), xlogger.String("transport", fc.Transport))

	st, err := h.hub.Status(fc.Name)
	if err != nil {
		return h.feedError(c, fc.Name, err)
	}
	return xhttp.CreatedResponse(c, FeedView{FeedStatus: st, Config: fc})
}

func (h *FeedsEchoHandler) DeleteFeed(c echo.Context) error {
	name := c.Param("name")
	if err := h.hub.StopFeed(name); err != nil {
		return h.feedError(c, name, err)
	}
	h.logger.Info("feed stopped via api", xlogger.String("feed", name))
	return xhttp.NoContentResponse(c)
}

func (h *FeedsEchoHandler) RestartFeed(c echo.Context) error {
	name := c.Param("name")
	if err := h.hub.RestartFeed(name); err != nil {
		return h.feedError(c, name, err)
	}
	st, err := h.hub.Status(name)
	if err != nil {
		return h.feedError(c, name, err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *FeedsEchoHandler) FeedBuffer(c echo.Context) error {
	name := c.Param("name")
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)
	if limit <= 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("limit must be positive, got %d", limit))
	}
	msgs, err := h.hub.Buffer(name, limit)
	if err != nil {
		return h.feedError(c, name, err)
	}
	return xhttp.ListResponse(c, msgs, int64(len(msgs)))
}

// FeedHistory reads the archive. from and to accept RFC3339 or unix time and default
// to the last hour.
func (h *FeedsEchoHandler) FeedHistory(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("archive disabled"))
	}
	name := c.Param("name")
	channel := c.QueryParam("channel")
	if channel == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("channel is required"))
	}
	now := time.Now().UTC()
	to := xhttp.ParseTimeDefault(c.QueryParam("to"), now)
	from := xhttp.ParseTimeDefault(c.QueryParam("from"), to.Add(-time.Hour))
	if !from.Before(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be before to"))
	}
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 500)
	if limit <= 0 || limit > 10000 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("limit must be in 1..10000, got %d", limit))
	}

	msgs, err := h.history.Query(c.Request().Context(), name, channel, from, to, limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.String("feed", name), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history query failed").WithError(err))
	}
	return xhttp.ListResponse(c, msgs, int64(len(msgs)))
}

func (h *FeedsEchoHandler) ListSnapshots(c echo.Context) error {
	snaps := h.hub.Snapshots()
	return xhttp.ListResponse(c, snaps, int64(len(snaps)))
}

func (h *FeedsEchoHandler) GetSnapshot(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	snap, ok := h.hub.Snapshot(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no snapshot for %s", symbol))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, snap)
}

func (h *FeedsEchoHandler) GetAnalysis(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if h.analysis == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("analytics disabled"))
	}
	recs := h.analysis.Latest(symbol)
	if len(recs) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no analysis for %s", symbol))
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

// Healthz reports 200 when every feed is healthy and 503 otherwise.
func (h *FeedsEchoHandler) Healthz(c echo.Context) error {
	all := h.hub.StatusAll()
	unhealthy := make([]string, 0)
	for name, st := range all {
		if !st.Healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	body := map[string]interface{}{
		"feeds":     len(all),
		"unhealthy": sortedStrings(unhealthy),
	}
	if len(unhealthy) > 0 {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *FeedsEchoHandler) feedConfig(req *FeedRequest) (models.FeedConfig, error) {
	interval, err := time.ParseDuration(req.ReconnectInterval)
	if err != nil || interval < 0 {
		return models.FeedConfig{}, errors.New("reconnect_interval must be a non-negative duration")
	}
	f := config.Feed{
		Name:                 req.Name,
		Transport:            req.Transport,
		Endpoint:             req.Endpoint,
		Codec:                req.Codec,
		ReconnectInterval:    interval,
		MaxReconnectAttempts: req.MaxReconnectAttempts,
		Channels:             req.Channels,
		Kinds:                req.Kinds,
		BufferSize:           req.BufferSize,
	}
	if err := config.ValidateFeed(f); err != nil {
		return models.FeedConfig{}, err
	}
	fc := h.cfg.FeedConfig(f)
	return fc, fc.Validate()
}

func (h *FeedsEchoHandler) feedError(c echo.Context, name string, err error) error {
	switch {
	case errors.Is(err, hub.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("feed %s not found", name))
	case errors.Is(err, hub.ErrAlreadyStarted):
		return xhttp.AppErrorResponse(c, xhttp.ConflictErrorf("feed %s already started", name))
	}
	h.logger.Error("feed operation failed", xlogger.String("feed", name), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("feed operation failed").WithError(err))
}
