// Package app wires configuration, storage, the scheduler and the operations API into runnable
// process entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autocommitor/autocommitor/internal/automation"
	"github.com/autocommitor/autocommitor/internal/config"
	"github.com/autocommitor/autocommitor/internal/content"
	"github.com/autocommitor/autocommitor/internal/db"
	"github.com/autocommitor/autocommitor/internal/github"
	"github.com/autocommitor/autocommitor/internal/http/api/admin"
	"github.com/autocommitor/autocommitor/internal/lock"
	"github.com/autocommitor/autocommitor/internal/logging"
	"github.com/autocommitor/autocommitor/internal/policy"
	"github.com/autocommitor/autocommitor/internal/retention"
	"github.com/autocommitor/autocommitor/internal/security"
	internalsettings "github.com/autocommitor/autocommitor/internal/settings"
	"github.com/autocommitor/autocommitor/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// services holds every component built from one configuration.
type services struct {
	cfg         config.Config
	conn        *gorm.DB
	gateway     *github.Client
	credentials *store.CredentialStore
	rules       *store.RuleStore
	runLog      *store.RunLog
	scheduler   *automation.Scheduler
	cleaner     *retention.Cleaner
	closers     []io.Closer
}

func (r *services) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if errClose := r.closers[i].Close(); errClose != nil {
			log.WithError(errClose).Warn("app: close component failed")
		}
	}
}

// LoadConfig resolves the config path, loads the file and configures logging.
func LoadConfig(cfg config.AppConfig) (config.Config, io.Closer, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conf, errLoad := config.Load(configPath)
	if errLoad != nil {
		return config.Config{}, nil, errLoad
	}
	logCloser, errLog := logging.Setup(conf.Logging)
	if errLog != nil {
		return config.Config{}, nil, errLog
	}
	log.Debugf("app: loaded config %s", configPath)
	return conf, logCloser, nil
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conf, logCloser, errLoad := LoadConfig(cfg)
	if errLoad != nil {
		return errLoad
	}
	defer func() { _ = logCloser.Close() }()

	conn, err := db.Open(conf.Database.DSN)
	if err != nil {
		return err
	}
	if sqlDB, errSQL := conn.DB(); errSQL == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Infof("app: migrations applied (dialect=%s)", db.DialectName(conn))
	return nil
}

// RunServer runs the scheduler, the retention cleaner and the operations API until ctx is done.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	conf, logCloser, errLoad := LoadConfig(cfg)
	if errLoad != nil {
		return errLoad
	}
	defer func() { _ = logCloser.Close() }()

	rt, errBuild := build(ctx, conf)
	if errBuild != nil {
		return errBuild
	}
	defer rt.Close()

	if errStart := rt.scheduler.Start(ctx); errStart != nil {
		return errStart
	}
	defer rt.scheduler.Stop()
	rt.cleaner.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	admin.RegisterAdminRoutes(engine, admin.Dependencies{
		DB:          rt.conn,
		JWTSecret:   conf.Security.JWTSecret,
		Ticks:       rt.scheduler,
		Credentials: rt.credentials,
		Checker:     rt.gateway,
		Rules:       rt.rules,
		Attempts:    rt.runLog,
	})
	if conf.Security.JWTSecret == "" {
		log.Warn("app: security.jwt_secret not set, admin routes will reject every request")
	}

	server := &http.Server{
		Addr:              conf.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("app: operations api listening on %s", conf.Server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case errServe, ok := <-serveErr:
		if ok && errServe != nil {
			return fmt.Errorf("app: serve: %w", errServe)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("app: shutdown operations api failed")
	}
	log.Info("app: stopped")
	return nil
}

// ErrSharedLockRequired is returned by RunTickOnce when no redis lock is configured and the
// caller did not assert that no other process schedules against the same database.
var ErrSharedLockRequired = errors.New("app: tick needs redis.addr to share rule locks with a running server; use POST /v0/admin/ticks on the server, or pass --standalone when no server is running")

// RunTickOnce runs a single tick against the configured database and returns its report.
// Without redis the per-rule locks are process-local, so standalone must be set.
func RunTickOnce(ctx context.Context, cfg config.AppConfig, standalone bool) (automation.TickReport, error) {
	conf, logCloser, errLoad := LoadConfig(cfg)
	if errLoad != nil {
		return automation.TickReport{}, errLoad
	}
	defer func() { _ = logCloser.Close() }()
	if conf.Redis.Addr == "" && !standalone {
		return automation.TickReport{}, ErrSharedLockRequired
	}

	rt, errBuild := build(ctx, conf)
	if errBuild != nil {
		return automation.TickReport{}, errBuild
	}
	defer rt.Close()
	return rt.scheduler.RunTick(ctx), nil
}

// IssueOperatorToken signs an operations API token for operator.
func IssueOperatorToken(cfg config.AppConfig, operator string, ttl time.Duration) (string, error) {
	conf, logCloser, errLoad := LoadConfig(cfg)
	if errLoad != nil {
		return "", errLoad
	}
	defer func() { _ = logCloser.Close() }()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return security.GenerateOperatorToken(conf.Security.JWTSecret, operator, ttl)
}

func build(ctx context.Context, conf config.Config) (*services, error) {
	conn, err := db.Open(conf.Database.DSN)
	if err != nil {
		return nil, err
	}
	rt := &services{cfg: conf, conn: conn}
	if sqlDB, errSQL := conn.DB(); errSQL == nil {
		rt.closers = append(rt.closers, sqlDB)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		rt.Close()
		return nil, errMigrate
	}
	if errRefresh := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("app: load settings failed, using defaults")
	}

	cipher, errCipher := security.NewTokenCipher(conf.Security.TokenKey)
	if errCipher != nil {
		rt.Close()
		return nil, errCipher
	}
	if !cipher.Enabled() {
		log.Warn("app: security.token_key not set, provider tokens are stored unsealed")
	}

	locker, errLocker := buildLocker(ctx, conf, rt)
	if errLocker != nil {
		rt.Close()
		return nil, errLocker
	}

	rt.gateway = github.NewClient(github.Options{
		BaseURL:           conf.GitHub.BaseURL,
		UserAgent:         conf.GitHub.UserAgent,
		RequestTimeout:    conf.Scheduler.RequestTimeout.Std(),
		RequestsPerSecond: conf.GitHub.RequestsPerSecond,
		Burst:             conf.GitHub.Burst,
	})
	rt.credentials = store.NewCredentialStore(conn, cipher)
	rt.rules = store.NewRuleStore(conn)
	rt.runLog = store.NewRunLog(conn)

	source := policy.NewLockedSource(uint64(time.Now().UnixNano()))
	generator := content.NewGenerator(source, nil, conf.GitHub.AttributionLine())
	executor := automation.NewExecutor(rt.gateway, rt.rules, rt.runLog, generator, nil)

	interval := conf.Scheduler.Interval.Std()
	var decision policy.Policy = policy.NewPaced(interval, source)
	if conf.Scheduler.Mode == config.ModeEager {
		decision = policy.Eager{}
	}

	rt.scheduler = automation.NewScheduler(rt.rules, rt.credentials, locker, executor, decision, automation.SchedulerOptions{
		Interval:       interval,
		MaxConcurrency: conf.Scheduler.MaxConcurrency,
		Refresh: func(ctx context.Context) error {
			return internalsettings.RefreshDBConfigSnapshot(ctx, conn)
		},
	})
	rt.cleaner = retention.NewCleaner(conn, retention.Options{
		Interval:          conf.Retention.Interval.Std(),
		AttemptDays:       conf.Retention.AttemptDays,
		StalePendingAfter: conf.Retention.StalePendingAfter.Std(),
	})
	log.Infof("app: scheduler configured (mode=%s interval=%s max_concurrency=%d)", conf.Scheduler.Mode, interval, conf.Scheduler.MaxConcurrency)
	return rt, nil
}

func buildLocker(ctx context.Context, conf config.Config, rt *services) (automation.Locker, error) {
	if conf.Redis.Addr == "" {
		return lock.NewLocal(), nil
	}
	client, errClient := lock.NewRedisClient(ctx, conf.Redis.Addr, conf.Redis.Password, conf.Redis.DB)
	if errClient != nil {
		return nil, errClient
	}
	rt.closers = append(rt.closers, redisCloser{client})
	log.Infof("app: per-rule locks shared through redis %s", conf.Redis.Addr)
	locker, errLocker := lock.NewRedis(client, conf.Scheduler.LockTTL.Std())
	if errLocker != nil {
		return nil, errLocker
	}
	return locker, nil
}

type redisCloser struct {
	client *redis.Client
}

func (c redisCloser) Close() error { return c.client.Close() }
