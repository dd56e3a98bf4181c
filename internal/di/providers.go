package di

import (
	"context"
	"fmt"
	"time"

	"MarketHub/internal/domain/models"
	domsvc "MarketHub/internal/domain/service"
	"MarketHub/internal/handler/api"
	"MarketHub/internal/handler/ws"
	"MarketHub/internal/hub"
	mid "MarketHub/internal/middleware"
	internalrepo "MarketHub/internal/repository"
	"MarketHub/internal/service/cache"
	"MarketHub/internal/service/codec"
	imetrics "MarketHub/internal/service/metrics"
	"MarketHub/internal/service/transport"
	"MarketHub/internal/services/analytics"
	"MarketHub/internal/usecase"
	pkgch "MarketHub/pkg/clickhouse"
	"MarketHub/pkg/config"
	xhttp "MarketHub/pkg/http"
	pkgkafka "MarketHub/pkg/kafka"
	"MarketHub/pkg/logger"
	"MarketHub/pkg/metrics"
	"MarketHub/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideRegistry creates the Prometheus registry served on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the hub metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func ProvideAnalyticsMetrics(reg *prometheus.Registry) *imetrics.Analytics {
	return imetrics.NewAnalytics(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithAsync(p.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With Kafka and a log topic configured,
// errors are also aggregated and shipped to that topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, nil, err
	}
	if producer == nil || cfg.Kafka.LogTopic == "" {
		return l, func() {}, nil
	}
	l.AddCollector(&logger.CollectionConfig{
		Interval:  30 * time.Second,
		Topic:     cfg.Kafka.LogTopic,
		Service:   "markethub",
		Publisher: producer,
	})
	return l, l.RemoveCollector, nil
}

// ProvideKafkaPublisher creates the message and event publisher, or nil without Kafka.
func ProvideKafkaPublisher(producer *pkgkafka.Producer, rec *metrics.Recorder, cfg *config.Config) *internalrepo.KafkaPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic, cfg.Kafka.EventTopic, rec)
}

// ProvideClickHouseArchive opens ClickHouse and ensures the archive table exists, or
// returns nil when the archive is disabled.
func ProvideClickHouseArchive(cfg *config.Config, l *logger.Logger) (*internalrepo.ClickHouseArchive, func(), error) {
	c := cfg.ClickHouse
	if !c.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(c.Host, c.Port),
		pkgch.WithDatabase(c.Database),
		pkgch.WithCredentials(c.User, c.Password),
		pkgch.WithHTTP(c.UseHTTP),
		pkgch.WithPool(10, 5, 0),
		pkgch.WithTimeouts(c.DialTimeout, c.ReadTimeout),
		pkgch.WithAsyncInsert(c.AsyncInsert, c.WaitForAsync),
		pkgch.WithMaxExecutionTime(c.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+c.Database); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	archive := internalrepo.NewClickHouseArchive(client.DB(), c.Database+"."+c.Table, l.With("component", "clickhouse"))
	if err := archive.Init(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, func() { _ = archive.Close() }, nil
}

// ProvideBytesCache uses Redis when enabled and an in-process TTL cache otherwise.
func ProvideBytesCache(cfg *config.Config, l *logger.Logger) (cache.BytesCache, func(), error) {
	if !cfg.Redis.Enabled {
		return cache.NewTTLCache(), func() {}, nil
	}
	rc := cache.NewRedisCache(cache.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	l.Info("redis snapshot cache ready", logger.String("addr", cfg.Redis.Addr))
	return rc, func() { _ = rc.Close() }, nil
}

func ProvideSnapshotCache(c cache.BytesCache, cfg *config.Config) *internalrepo.SnapshotCache {
	return internalrepo.NewSnapshotCache(c, cfg.Redis.Prefix, cfg.Redis.SnapshotTTL)
}

func pipelineOptions(cfg *config.Config) []mid.PipelineOption {
	p := cfg.Pipeline
	return []mid.PipelineOption{
		mid.WithMaxRPS(p.MaxRPS),
		mid.WithBufferSize(p.BufferSize),
		mid.WithBatch(p.BatchSize, p.BatchFlush),
	}
}

// ProvideSinks builds one pipeline per enabled downstream.
func ProvideSinks(
	cfg *config.Config,
	publisher *internalrepo.KafkaPublisher,
	archive *internalrepo.ClickHouseArchive,
	snapshots *internalrepo.SnapshotCache,
	rec *metrics.Recorder,
	l *logger.Logger,
) server.Sinks {
	var s server.Sinks
	opts := pipelineOptions(cfg)
	if publisher != nil {
		s.Messages = append(s.Messages, mid.NewSinkPipeline[models.Message](publisher, mid.MessageKey, mid.ValidateMessage, rec, l.With("sink", "kafka"), opts...))
		s.Events = mid.NewSinkPipeline[models.Event](usecase.EventSink("kafka_events", publisher), usecase.EventKey, nil, rec, l.With("sink", "kafka_events"), opts...)
	}
	if archive != nil {
		// the archive keeps every tick, so it is not throttled
		archiveOpts := append(append([]mid.PipelineOption(nil), opts...), mid.WithMaxRPS(0))
		s.Messages = append(s.Messages, mid.NewSinkPipeline[models.Message](archive, mid.MessageKey, mid.ValidateMessage, rec, l.With("sink", "clickhouse"), archiveOpts...))
	}
	s.Snapshots = mid.NewSinkPipeline[models.Snapshot](snapshots, mid.SnapshotKey, mid.ValidateSnapshot, rec, l.With("sink", "snapshot_cache"), opts...)
	return s
}

// ProvideHub creates the hub with every built-in transport and codec.
func ProvideHub(cfg *config.Config, rec *metrics.Recorder, sinks server.Sinks, l *logger.Logger) *hub.Hub {
	opts := []hub.Option{
		hub.WithLogger(l.With("component", "hub")),
		hub.WithMetrics(rec),
		hub.WithHealth(hub.HealthConfig{
			HeartbeatInterval:      cfg.Hub.HeartbeatInterval,
			StalenessCheckInterval: cfg.Hub.StalenessCheckInterval,
			StalenessThreshold:     cfg.Hub.StalenessThreshold,
		}),
		hub.WithBufferCleanInterval(cfg.Hub.BufferCleanInterval),
		hub.WithSnapshotHistory(cfg.Hub.SnapshotHistory),
	}
	if sinks.Events != nil {
		opts = append(opts, hub.WithEventSink(usecase.NewEventForwarder(sinks.Events, l)))
	}
	mux := transport.NewDefaultMux(10*time.Second, l)
	return hub.New(mux, codec.Lookup, opts...)
}

// ProvideAnalyzers returns the local momentum analyzer plus the remote one when a
// service URL is configured.
func ProvideAnalyzers(cfg *config.Config) []domsvc.Analyzer {
	a := cfg.Analytics
	out := []domsvc.Analyzer{analytics.NewMomentumAnalyzer(a.Momentum.BuyThresholdPct, a.Momentum.SellThresholdPct)}
	if a.ServiceURL != "" {
		out = append(out, analytics.NewHTTPAnalyzer(a.ServiceURL, a.Timeout))
	}
	return out
}

func ProvideAnalysisService(
	cfg *config.Config,
	h *hub.Hub,
	analyzers []domsvc.Analyzer,
	am *imetrics.Analytics,
	l *logger.Logger,
) *usecase.AnalysisService {
	a := cfg.Analytics
	return usecase.NewAnalysisService(h, h, analyzers, a.Interval, a.Timeout, a.Symbols, am, l)
}

func ProvideFeedsHandler(
	cfg *config.Config,
	h *hub.Hub,
	analysis *usecase.AnalysisService,
	archive *internalrepo.ClickHouseArchive,
	l *logger.Logger,
) *api.FeedsEchoHandler {
	handler := api.NewFeedsEchoHandler(l.With("handler", "feeds"), h, analysis, cfg)
	if archive != nil {
		handler.SetHistory(archive)
	}
	return handler
}

func ProvideStreamHandler(h *hub.Hub, l *logger.Logger) *ws.StreamHandler {
	return ws.NewStreamHandler(h, l.With("handler", "ws"))
}

// ProvideHTTPServer registers every handler on one Echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	reg *prometheus.Registry,
	feeds *api.FeedsEchoHandler,
	stream *ws.StreamHandler,
	l *logger.Logger,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg))
	}
	return xhttp.NewServer(l, []xhttp.Handler{feeds, stream}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	h *hub.Hub,
	sinks server.Sinks,
	analysis *usecase.AnalysisService,
	feeds *api.FeedsEchoHandler,
	httpServer *xhttp.Server,
) *server.App {
	return server.New(cfg, l, h, sinks, analysis, feeds, httpServer)
}
