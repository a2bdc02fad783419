package bootstrap

import (
	"context"

	"caseroute/adapter/out/lock"
	"caseroute/adapter/out/mongodb"
	"caseroute/adapter/out/persistence"
	"caseroute/adapter/out/provider"
	"caseroute/config"
	"caseroute/core/agent/llm"
	"caseroute/core/port/out"
	"caseroute/core/service/backfill"
	"caseroute/core/service/directory"
	"caseroute/core/service/ingest"
	"caseroute/core/service/privacy"
	"caseroute/core/service/routing"
	"caseroute/infra/database"
	"caseroute/internal/stream"
	"caseroute/pkg/cache"
	"caseroute/pkg/crypto"
	"caseroute/pkg/logger"
	"caseroute/pkg/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"
)

// consumerGroup is the shared Redis Stream consumer group; each worker
// instance joins it under its own consumer name.
const consumerGroup = "caseroute-workers"

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	MessageRepo   out.MessageRepository
	CaseRepo      out.CaseRepository
	ContactRepo   out.ContactRepository
	BindingRepo   out.BindingRepository
	SyncJobRepo   out.SyncJobRepository
	GrantRepo     *persistence.GrantAdapter
	PrincipalRepo *persistence.PrincipalAdapter
	BodyArchive   out.BodyArchive

	// Provider
	GmailProvider *provider.GmailAdapter
	TokenSource   out.TokenSource

	// Queue
	Stream   *stream.RedisStream
	Producer out.JobProducer
	Locker   out.JobLocker

	// AI fallback
	LLMClient *llm.Client
	Fallback  out.FallbackResolver

	// Services
	Directory       *directory.Service
	PrivacyGate     *privacy.Gate
	RoutingService  *routing.Service
	IngestService   *ingest.Service
	BackfillService *backfill.Service
	BackfillManager *backfill.Manager
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Database (pgxpool for health checks and pool stats)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the row-entity adapters)
	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis (job queue and leases)
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed, queue and leases disabled: %v", err)
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })

		deps.Stream = stream.NewRedisStream(redisClient, consumerGroup)
		deps.Producer = stream.NewProducer(deps.Stream)
		deps.Locker = lock.NewRedisLocker(redisClient)
	}

	// MongoDB (body archive)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, body archive disabled: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})

			bodyAdapter := mongodb.NewBodyAdapter(mongoClient.Database(cfg.MongoDBName))
			if err := bodyAdapter.EnsureIndexes(context.Background()); err != nil {
				logger.Warn("Failed to ensure body archive indexes: %v", err)
			}
			deps.BodyArchive = bodyAdapter
		}
	}

	// Token encryption for stored mailbox grants
	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			logger.Warn("Token encryption disabled: %v", err)
			encryptor = nil
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set, mailbox grant tokens stored in the clear")
	}

	// Repositories
	deps.MessageRepo = persistence.NewMessageAdapter(sqlDB)
	deps.CaseRepo = persistence.NewCaseAdapter(sqlDB)
	contactAdapter := persistence.NewContactAdapter(sqlDB)
	if deps.Redis != nil {
		contactAdapter.SetCache(cache.NewRedisCache(deps.Redis))
	}
	deps.ContactRepo = contactAdapter
	deps.BindingRepo = persistence.NewBindingAdapter(sqlDB)
	deps.SyncJobRepo = persistence.NewSyncJobAdapter(sqlDB)
	deps.GrantRepo = persistence.NewGrantAdapter(sqlDB, encryptor)
	deps.PrincipalRepo = persistence.NewPrincipalAdapter(sqlDB)

	// Gmail provider with DB-backed token source
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		deps.GmailProvider = provider.NewGmailAdapter(&provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		if deps.Redis != nil {
			deps.GmailProvider.SetRateLimiter(
				ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.ProviderRPS, cfg.ProviderBurst))
		}
		deps.TokenSource = provider.NewDBTokenSource(deps.GrantRepo, deps.GmailProvider.OAuthConfig())
	} else {
		logger.Warn("Google OAuth not configured, backfill provider disabled")
		deps.TokenSource = provider.NewDBTokenSource(deps.GrantRepo, &oauth2.Config{})
	}

	// AI fallback (optional; the engine degrades to Uncertain without it)
	if cfg.OpenAIAPIKey != "" {
		deps.LLMClient = llm.NewClient(llm.ClientConfig{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.LLMMaxTokens,
		})
		deps.Fallback = llm.NewResolver(deps.LLMClient)
		logger.Info("AI fallback resolver initialized: model=%s", cfg.LLMModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set, AI fallback disabled")
	}

	// Core services
	deps.Directory = directory.NewService(deps.ContactRepo)
	deps.PrivacyGate = privacy.NewGate(deps.MessageRepo, deps.PrincipalRepo)

	engine := routing.NewEngine(
		deps.MessageRepo,
		deps.ContactRepo,
		deps.Directory,
		routing.NewCandidateResolver(deps.CaseRepo),
		deps.Fallback,
		&routing.Config{
			MinGap:          cfg.RoutingMinGap,
			MinScore:        cfg.RoutingMinScore,
			FallbackTimeout: cfg.LLMTimeout(),
		},
	)

	deps.RoutingService = routing.NewService(
		engine,
		deps.MessageRepo,
		deps.CaseRepo,
		deps.ContactRepo,
		deps.BodyArchive,
		deps.PrivacyGate,
	)

	deps.IngestService = ingest.NewService(deps.MessageRepo, deps.BodyArchive)

	deps.BackfillService = backfill.NewService(
		deps.SyncJobRepo,
		deps.MessageRepo,
		deps.BodyArchive,
		deps.GmailProvider,
		deps.TokenSource,
		deps.Locker,
		deps.IngestService,
		deps.RoutingService,
		&backfill.Options{
			BatchSize:         cfg.BackfillBatchSize,
			LeaseTTL:          cfg.BackfillLease(),
			HeartbeatInterval: cfg.BackfillHeartbeat(),
			RetryBaseDelay:    backfill.DefaultOptions().RetryBaseDelay,
			RetryMaxDelay:     backfill.DefaultOptions().RetryMaxDelay,
		},
	)

	deps.BackfillManager = backfill.NewManager(deps.SyncJobRepo, deps.ContactRepo, deps.Producer, cfg.BackfillMaxRetries)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
