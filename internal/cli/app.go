package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
	"github.com/dmitrymomot/entitlekit/pkg/config"
	"github.com/dmitrymomot/entitlekit/pkg/environment"
	"github.com/dmitrymomot/entitlekit/pkg/httpserver"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/pg"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/pkg/queue"
	"github.com/dmitrymomot/entitlekit/pkg/ratelimiter"
	"github.com/dmitrymomot/entitlekit/pkg/redis"
	"github.com/dmitrymomot/entitlekit/pkg/requestid"
	"github.com/dmitrymomot/entitlekit/pkg/statestore"
	"github.com/dmitrymomot/entitlekit/svc/entitlements"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
	"github.com/dmitrymomot/entitlekit/svc/syncer"
	"github.com/dmitrymomot/entitlekit/svc/telemetry"
)

const serviceName = "entitlekit"

type logConfig struct {
	Level  slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	Format logger.Format `env:"LOG_FORMAT" envDefault:"json"`
}

// app is the wired process: storage, platform clients and services.
type app struct {
	env   environment.Environment
	log   *slog.Logger
	pool  *pgxpool.Pool
	redis *goredis.Client

	tasks    *queue.PostgresStorage
	limiter  ratelimiter.Limiter
	store    mirror.Store
	platform platform.Config
	syncer   *syncer.Syncer
	ent      *entitlements.Service
	syncCfg  syncer.Config
	queueCfg queue.Config
}

func newLogger(opts *RootOptions) (*slog.Logger, environment.Environment, error) {
	var (
		envCfg environment.Config
		logCfg logConfig
	)
	if err := errors.Join(config.Load(&envCfg), config.Load(&logCfg)); err != nil {
		return nil, "", err
	}
	level := logCfg.Level
	if opts.Verbose {
		level = slog.LevelDebug
	}
	env := envCfg.Environment()
	log := logger.New(
		logger.WithLevel(level),
		logger.WithFormat(logCfg.Format),
		logger.WithOutput(os.Stderr),
		logger.WithEnvironment(env, serviceName),
		logger.WithContextExtractors(
			environment.LoggerExtractor(),
			requestid.LoggerExtractor(),
			logger.AccountExtractor(),
			logger.SyncJobExtractor(),
		),
	)
	return log, env, nil
}

// newApp connects to Postgres and, when the cache uses it, Redis. Callers
// must call close.
func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	log, env, err := newLogger(opts)
	if err != nil {
		return nil, err
	}

	var (
		pgCfg        pg.Config
		redisCfg     redis.Config
		cacheCfg     cache.Config
		platformCfg  platform.Config
		stateCfg     statestore.Config
		telemetryCfg telemetry.Config
		syncCfg      syncer.Config
		entCfg       entitlements.Config
		queueCfg     queue.Config
		limitCfg     ratelimiter.Config
	)
	if err := errors.Join(
		config.Load(&pgCfg),
		config.Load(&redisCfg),
		config.Load(&cacheCfg),
		config.Load(&platformCfg),
		config.Load(&stateCfg),
		config.Load(&telemetryCfg),
		config.Load(&syncCfg),
		config.Load(&entCfg),
		config.Load(&queueCfg),
		config.Load(&limitCfg),
	); err != nil {
		return nil, err
	}

	a := &app{env: env, log: log, platform: platformCfg, syncCfg: syncCfg, queueCfg: queueCfg}

	a.pool, err = pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, err
	}

	tier := cache.Tier(cache.NewMemory(cacheCfg.MemoryCapacity))
	if cacheCfg.RedisEnabled {
		a.redis, err = redis.Connect(ctx, redisCfg)
		if err != nil {
			a.close()
			return nil, err
		}
		tier = cache.NewTiered(tier, cache.NewRedis(a.redis, cacheCfg.RedisPrefix))
	}

	if limitCfg.Enabled {
		var store ratelimiter.Store = ratelimiter.NewMemoryStore(cacheCfg.MemoryCapacity)
		if a.redis != nil {
			store = ratelimiter.NewRedisStore(a.redis, limitCfg.RedisPrefix)
		}
		a.limiter, err = ratelimiter.NewBucket(store, limitCfg)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.tasks = queue.NewPostgresStorage(a.pool)
	enqueuer, err := queue.NewEnqueuer(a.tasks, queue.WithDefaultQueue(syncCfg.Queue))
	if err != nil {
		a.close()
		return nil, err
	}

	a.store = mirror.WithTracking(
		mirror.NewPostgresStore(a.pool),
		telemetry.New(telemetryCfg, log),
		mirror.WithTrackingLogger(log),
	)

	clients := platform.NewStripeClients(platformCfg)
	if len(clients) == 0 {
		log.WarnContext(ctx, "no platform secret keys configured, syncing is disabled", logger.Component("cli"))
	}

	entOpts := []entitlements.Option{
		entitlements.WithLogger(log),
		entitlements.WithConfig(entCfg),
		entitlements.WithCache(tier, cache.WithTTL(cacheCfg.FreshFor, cacheCfg.StaleFor)),
	}
	if stateCfg.Enabled() {
		states, err := statestore.NewS3Store(ctx, stateCfg)
		if err != nil {
			a.close()
			return nil, err
		}
		entOpts = append(entOpts, entitlements.WithStateStore(states))
	}

	// the syncer reports customer changes to the entitlements service, which
	// in turn syncs unknown customers through the syncer
	var ent *entitlements.Service
	a.syncer = syncer.New(a.store, clients, enqueuer,
		syncer.WithLogger(log),
		syncer.WithConfig(syncCfg),
		syncer.WithCache(tier),
		syncer.WithCustomerChanged(func(ctx context.Context, account, customer string) {
			ent.CustomerChanged(ctx, account, customer)
		}),
	)
	ent = entitlements.New(a.store, append(entOpts, entitlements.WithSyncer(a.syncer))...)
	a.ent = ent

	return a, nil
}

func (a *app) checks() []httpserver.Check {
	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(a.pool)}}
	if a.redis != nil {
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(a.redis)})
	}
	return checks
}

func (a *app) close() {
	if a.ent != nil {
		a.ent.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("failed to close redis client", logger.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
