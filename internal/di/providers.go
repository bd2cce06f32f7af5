package di

import (
	"context"
	"fmt"
	"time"

	"BrentBreaks/internal/domain/repository"
	"BrentBreaks/internal/handler/api"
	mid "BrentBreaks/internal/middleware"
	internalrepo "BrentBreaks/internal/repository"
	svcmetrics "BrentBreaks/internal/service/metrics"
	"BrentBreaks/internal/service/ratelimit"
	"BrentBreaks/internal/usecase"
	"BrentBreaks/pkg/cache"
	pkgch "BrentBreaks/pkg/clickhouse"
	"BrentBreaks/pkg/config"
	xhttp "BrentBreaks/pkg/http"
	pkgkafka "BrentBreaks/pkg/kafka"
	xlogger "BrentBreaks/pkg/logger"
	"BrentBreaks/pkg/metrics"
	"BrentBreaks/pkg/queue"
	"BrentBreaks/pkg/server"
	"BrentBreaks/pkg/tracing"

	"github.com/segmentio/kafka-go"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(false),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// digestPublisher adapts the producer to the log collector.
type digestPublisher struct {
	p *pkgkafka.Producer
}

func (d digestPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return d.p.Publish(ctx, topic, nil, payload)
}

// ProvideLogger builds the application logger. With a producer and the
// digest enabled, repeated warn/error lines are also shipped to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*xlogger.Logger, error) {
	l, err := xlogger.New(&xlogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Digest.Enabled && producer != nil {
		l.AddCollector(&xlogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Digest.Interval,
			CountThreshold: cfg.Logging.Digest.MaxItems,
			Topic:          cfg.Logging.Digest.Topic,
			Publisher:      digestPublisher{p: producer},
		})
	}
	return l.With(xlogger.String("env", cfg.Environment)), nil
}

// ProvideTracing installs the tracer provider.
func ProvideTracing(cfg *config.Config) (tracing.ShutdownFunc, error) {
	shutdown, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "brentbreaks",
		Environment: cfg.Environment,
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	return shutdown, nil
}

// ProvideMetrics creates the Prometheus recorders.
func ProvideMetrics() repository.Metrics {
	svcmetrics.Register()
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse and creates the price and
// event tables. It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(cfg.ClickHouse.PriceTable, cfg.ClickHouse.EventTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers an in-process L1 over Redis when Redis is available.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemorySize))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MemorySize),
		cache.WithLayeredMemoryTTL(cfg.Cache.SnapshotTTL),
	)
}

// ProvideSnapshotArchive opens the SQLite archive, or returns nil.
func ProvideSnapshotArchive(cfg *config.Config, l *xlogger.Logger) (repository.SnapshotArchive, error) {
	if !cfg.SQLite.Enabled {
		return nil, nil
	}
	a, err := internalrepo.NewSQLiteArchive(cfg.SQLite.Path, l)
	if err != nil {
		return nil, fmt.Errorf("sqlite archive: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Init(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return a, nil
}

func ProvideSnapshotStore(cfg *config.Config, c cache.Service, archive repository.SnapshotArchive, m repository.Metrics, l *xlogger.Logger) repository.SnapshotStore {
	opts := []internalrepo.SnapshotStoreOption{
		internalrepo.WithSnapshotTTL(cfg.Cache.SnapshotTTL),
		internalrepo.WithStoreMetrics(m),
		internalrepo.WithStoreLogger(l),
	}
	if archive != nil {
		opts = append(opts, internalrepo.WithArchive(archive))
	}
	return internalrepo.NewCachedSnapshotStore(c, opts...)
}

func ProvidePriceSource(cfg *config.Config, ch *pkgch.Client, l *xlogger.Logger) (repository.PriceSource, error) {
	switch cfg.Data.PriceSource {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("price source clickhouse: client not configured")
		}
		return internalrepo.NewCHPriceSource(ch, cfg.ClickHouse.PriceTable, l), nil
	default:
		opts := []internalrepo.FileOption{internalrepo.WithFileLogger(l)}
		if cfg.Data.PriceSheet != "" {
			opts = append(opts, internalrepo.WithSheet(cfg.Data.PriceSheet))
		}
		if len(cfg.Data.DateLayouts) > 0 {
			opts = append(opts, internalrepo.WithFileLayouts(cfg.Data.DateLayouts...))
		}
		return internalrepo.NewFilePriceSource(cfg.Data.PriceFile, opts...), nil
	}
}

func ProvideEventSource(cfg *config.Config, ch *pkgch.Client, l *xlogger.Logger) (repository.EventSource, error) {
	switch cfg.Data.EventSource {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("event source clickhouse: client not configured")
		}
		return internalrepo.NewCHEventSource(ch, cfg.ClickHouse.EventTable, l), nil
	case "http":
		return internalrepo.NewHTTPEventSource(cfg.Data.EventURL,
			internalrepo.WithHTTPClient(xhttp.NewClient(xhttp.WithTimeout(cfg.Server.ReadTimeout))),
			internalrepo.WithHTTPAttempts(3),
			internalrepo.WithHTTPLogger(l),
		), nil
	default:
		return internalrepo.NewYAMLEventSource(cfg.Data.EventFile, l), nil
	}
}

func ProvideDatasetService(cfg *config.Config, prices repository.PriceSource, l *xlogger.Logger) *usecase.DatasetService {
	return usecase.NewDatasetService(prices, cfg.Data.DateLayouts, cfg.Data.AllowPartial, cfg.Data.CacheTTL, l)
}

// ProvidePublisher announces runs on Kafka through the notification
// pipeline. Without a producer runs are only pushed to websocket clients.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer, m repository.Metrics, l *xlogger.Logger) repository.Publisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	p := mid.NewNotificationPipeline(
		internalrepo.NewKafkaPublisher(producer, cfg.Kafka.RunsTopic),
		m,
		mid.WithPipelineLogger(l),
	)
	p.Start(context.Background())
	return p
}

func ProvideRunFeed(l *xlogger.Logger) *api.RunFeed {
	return api.NewRunFeed(l)
}

func ProvideRunner(
	dataset *usecase.DatasetService,
	events repository.EventSource,
	store repository.SnapshotStore,
	pub repository.Publisher,
	feed *api.RunFeed,
	m repository.Metrics,
	l *xlogger.Logger,
) *usecase.Runner {
	return usecase.NewRunner(dataset, events, store,
		usecase.WithPublisher(pub),
		usecase.WithBroadcaster(feed),
		usecase.WithRunnerMetrics(m),
		usecase.WithRunnerLogger(l),
	)
}

// ProvideQueue backs analysis jobs with Redis when available so that runs
// survive a restart; otherwise jobs live in memory.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, l *xlogger.Logger) queue.Queue {
	qc := &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	if rc != nil {
		return queue.NewRedisQueue(l, qc, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":jobs"))
	}
	return queue.NewMemoryQueue(l, qc)
}

func ProvideScheduler(runner *usecase.Runner, q queue.Queue, c cache.Service, l *xlogger.Logger) *usecase.Scheduler {
	s := usecase.NewScheduler(runner, q, c, l)
	q.RegisterJob(s.Job())
	return s
}

func ProvideQueryService(
	cfg *config.Config,
	dataset *usecase.DatasetService,
	events repository.EventSource,
	store repository.SnapshotStore,
	runner *usecase.Runner,
	sched *usecase.Scheduler,
	l *xlogger.Logger,
) *usecase.QueryService {
	return usecase.NewQueryService(cfg.Analysis, dataset, events, store, runner,
		usecase.WithScheduler(sched),
		usecase.WithQueryLogger(l),
	)
}

// ProvideRateLimiter returns nil when rate limiting is disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.Server.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.Refill)
}

func ProvideBrentHandler(q *usecase.QueryService, rl *ratelimit.Limiter, l *xlogger.Logger) *api.BrentHandler {
	return api.NewBrentHandler(q, rl, l)
}

func ProvideHTTPServer(cfg *config.Config, h *api.BrentHandler, feed *api.RunFeed, l *xlogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h, feed},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(len(cfg.Server.CORSOrigins) > 0, cfg.Server.CORSOrigins...),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideKafkaConsumer creates the refresh consumer, or nil when Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, m repository.Metrics, l *xlogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(1),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(consumerHooks(m, l))
	l.Info("kafka consumer configured",
		xlogger.Strings("brokers", cfg.Kafka.Brokers),
		xlogger.String("group_id", cfg.Kafka.Consumer.GroupID),
		xlogger.String("topic", cfg.Kafka.RefreshTopic))
	return consumer, nil
}

// consumerHooks times each message and carries the producer's trace id.
func consumerHooks(m repository.Metrics, l *xlogger.Logger) pkgkafka.ConsumerHook {
	timing := pkgkafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			ctx = pkgkafka.WithStartTime(ctx, time.Now())
			return pkgkafka.WithTraceID(ctx, pkgkafka.ExtractTraceID(km)), km, data, nil
		},
		After: func(ctx context.Context, topic string, _ kafka.Message, _ []byte, err error) {
			started, _ := ctx.Value(pkgkafka.CtxStartTime).(time.Time)
			l.Debug("kafka message handled",
				xlogger.String("topic", topic),
				xlogger.String("trace_id", pkgkafka.TraceIDFrom(ctx)),
				xlogger.Duration("took", time.Since(started)),
				xlogger.Bool("ok", err == nil))
		},
		Err: func(context.Context, string, kafka.Message, []byte, error) {
			m.RecordError("kafka_consume")
		},
	}
	return pkgkafka.NewHookChain(timing)
}

func ProvideRefreshHandler(
	cfg *config.Config,
	dataset *usecase.DatasetService,
	runner *usecase.Runner,
	sched *usecase.Scheduler,
	m repository.Metrics,
	l *xlogger.Logger,
) *usecase.RefreshHandler {
	return usecase.NewRefreshHandler(cfg.Kafka.RefreshTopic, cfg.Analysis, dataset, runner, sched, m, l)
}

// ProvideApp assembles the server. Closers run after HTTP, the consumer and
// the queue have stopped, so in-flight runs can still publish and store.
func ProvideApp(
	cfg *config.Config,
	l *xlogger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	refresh *usecase.RefreshHandler,
	q queue.Queue,
	feed *api.RunFeed,
	pub repository.Publisher,
	c cache.Service,
	archive repository.SnapshotArchive,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	shutdownTracing tracing.ShutdownFunc,
) *server.App {
	opts := []server.Option{
		server.WithQueue(q),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithCloser("run_feed", func(context.Context) error { return feed.Close() }),
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, refresh))
	}
	if producer != nil {
		// flush the log digest while the producer is still open
		opts = append(opts, server.WithCloser("log_digest", func(context.Context) error {
			l.RemoveCollector()
			return nil
		}))
	}
	opts = append(opts,
		server.WithCloser("publisher", func(context.Context) error { return pub.Close() }),
		server.WithCloser("cache", func(context.Context) error { return c.Close() }),
	)
	if archive != nil {
		opts = append(opts, server.WithCloser("sqlite", func(context.Context) error { return archive.Close() }))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", func(context.Context) error { return ch.Close() }))
	}
	opts = append(opts, server.WithCloser("tracing", func(ctx context.Context) error { return shutdownTracing(ctx) }))
	return server.New(l, srv, opts...)
}
