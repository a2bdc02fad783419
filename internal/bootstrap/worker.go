package bootstrap

import (
	"context"
	"os"
	"sync"

	"caseroute/adapter/in/worker"
	"caseroute/config"
	"caseroute/internal/stream"
	"caseroute/pkg/logger"

	"github.com/rs/zerolog"
)

type Worker struct {
	pool           *worker.Pool
	consumer       *stream.Consumer
	retryScheduler *worker.RetryScheduler
	deps           *Dependencies
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	zlog           zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "caseroute-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	handler := worker.NewHandler(
		worker.NewClassifyProcessor(deps.RoutingService),
		worker.NewBackfillProcessor(deps.BackfillService),
		worker.NewReevalProcessor(deps.RoutingService),
	)

	defaultConfig := worker.DefaultPoolConfig()
	poolConfig := &worker.PoolConfig{
		MaxWorkers:       cfg.WorkerMax,
		WorkerChanSize:   cfg.WorkerQueueSize,
		JobTimeout:       defaultConfig.JobTimeout,
		JobTimeoutByType: defaultConfig.JobTimeoutByType,
		MaxJobRetries:    cfg.ConsumerMaxRetries,
	}
	if poolConfig.MaxWorkers == 0 {
		poolConfig.MaxWorkers = defaultConfig.MaxWorkers
	}
	if poolConfig.WorkerChanSize == 0 {
		poolConfig.WorkerChanSize = defaultConfig.WorkerChanSize
	}
	if poolConfig.MaxJobRetries == 0 {
		poolConfig.MaxJobRetries = defaultConfig.MaxJobRetries
	}

	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if deps.Stream != nil {
		w.consumer = stream.NewConsumer(deps.Stream, pool, cfg.WorkerID)
		logger.Info("Redis Stream consumer configured: consumer=%s", cfg.WorkerID)
	} else {
		logger.Warn("Redis not available, worker will only process direct submissions")
	}

	if cfg.SchedulerEnabled {
		w.retryScheduler = worker.NewRetryScheduler(deps.BackfillManager, cfg.RetryCheckInterval())
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	w.pool.Start()

	if w.consumer != nil {
		w.zlog.Info().Msg("starting Redis Stream consumer")
		w.consumer.Start(w.ctx)
	}

	if w.retryScheduler != nil {
		w.retryScheduler.Start()
		w.zlog.Info().Msg("started sync retry scheduler")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.retryScheduler != nil {
		w.retryScheduler.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
