package listen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bowatch/bowatch/internal/application/credential"
	"github.com/bowatch/bowatch/internal/application/deposit"
	"github.com/bowatch/bowatch/internal/application/listener"
	appnotification "github.com/bowatch/bowatch/internal/application/notification"
	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/infrastructure/backoffice"
	"github.com/bowatch/bowatch/internal/infrastructure/cache"
	"github.com/bowatch/bowatch/internal/infrastructure/config"
	"github.com/bowatch/bowatch/internal/infrastructure/database"
	"github.com/bowatch/bowatch/internal/infrastructure/metrics"
	"github.com/bowatch/bowatch/internal/infrastructure/migration"
	"github.com/bowatch/bowatch/internal/infrastructure/repository"
	"github.com/bowatch/bowatch/internal/infrastructure/scheduler"
	"github.com/bowatch/bowatch/internal/infrastructure/signalr"
	"github.com/bowatch/bowatch/internal/infrastructure/telegram"
	"github.com/bowatch/bowatch/internal/infrastructure/tokensource"
	"github.com/bowatch/bowatch/internal/interfaces/cli/bootstrap"
	httpRouter "github.com/bowatch/bowatch/internal/interfaces/http"
	"github.com/bowatch/bowatch/internal/interfaces/http/handlers"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

const (
	dispatchTimeout   = 30 * time.Second
	tokenFetchTimeout = 15 * time.Second
)

type app struct {
	listener *listener.Listener
	redis    *redis.Client
	hasDB    bool
	logger   logger.Interface
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnw("failed to close redis", "error", err)
		}
	}
	if a.hasDB {
		if err := database.Close(); err != nil {
			a.logger.Warnw("failed to close database", "error", err)
		}
	}
}

// build wires every component. Redis, the database, the deposit poll, the
// token source and the admin API are each optional.
func build(ctx context.Context, cfg *config.Config, log logger.Interface) (_ *app, err error) {
	a := &app{logger: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	m := metrics.New()

	if cfg.Redis.Enabled {
		client, rerr := cache.NewRedisClient(ctx, &cfg.Redis, log)
		if rerr != nil {
			log.Warnw("redis unavailable, continuing with in-memory state", "error", rerr)
		} else {
			a.redis = client
		}
	}

	store := newCredentialStore(ctx, cfg, a.redis, log)

	withdrawals, deposits, err := newProcessedIDSets(cfg, a.redis, log)
	if err != nil {
		return nil, err
	}

	sink, err := newSink(cfg, log)
	if err != nil {
		return nil, err
	}

	var repo *repository.NotificationLogRepository
	if cfg.Database.Enabled() {
		if err := database.Init(&cfg.Database, log); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.hasDB = true
		if err := migration.NewManager(cfg.Database.Migration, cfg.Database.Driver, log).Migrate(ctx, database.Get()); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		repo = repository.NewNotificationLogRepository(database.Get())
	}

	destinations := appnotification.NewDestinations(cfg.Telegram.ChatIDs)
	routerDeps := appnotification.RouterDeps{
		Withdrawals:  withdrawals,
		Deposits:     deposits,
		Sink:         sink,
		Destinations: destinations,
		History:      appnotification.NewHistory(cfg.Listener.HistorySize),
		Formatter:    appnotification.NewFormatter(cfg.Telegram.Locale),
		Metrics:      m,
	}
	if repo != nil {
		routerDeps.Repository = repo
	}
	router := appnotification.NewRouter(appnotification.RouterConfig{
		DepositRecency:  cfg.BackOffice.Deposit.Recency(),
		NewStateNames:   cfg.BackOffice.Deposit.NewStateNames,
		DispatchTimeout: dispatchTimeout,
	}, routerDeps, log)

	sr := cfg.BackOffice.SignalR
	manager := signalr.NewManager(signalr.Options{
		BaseURL:              sr.BaseURL,
		HubName:              sr.HubName,
		ClientProtocol:       sr.ClientProtocol,
		SubscriptionIDs:      sr.SubscriptionIDs,
		Origin:               sr.Origin,
		UserAgent:            sr.UserAgent,
		NegotiateTimeout:     sr.NegotiateTimeout(),
		MaxReconnectAttempts: cfg.Listener.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Listener.ReconnectDelay(),
	}, store, router, log, signalr.WithMetrics(m))
	router.BindLiveness(manager)

	sched, err := scheduler.NewSchedulerManager(log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	status := handlers.StatusDeps{
		Connection:    manager,
		Notifications: router,
		History:       router.History(),
		Credentials:   store,
		Destinations:  destinations,
	}

	if dc := cfg.BackOffice.Deposit; dc.Enabled {
		client := backoffice.NewClient(backoffice.Config{
			Endpoint:   dc.Endpoint,
			Timeout:    dc.Timeout(),
			DateLayout: dc.DateLayout,
			Origin:     sr.Origin,
			UserAgent:  sr.UserAgent,
		}, store, log)
		poller := deposit.NewPoller(client, router, log)
		if err := sched.RegisterDepositPollJob(poller, dc.Interval(), dc.Timeout()); err != nil {
			return nil, err
		}
		status.Deposit = poller
	}

	if tc := cfg.TokenSource; tc.Enabled {
		watcher := tokensource.NewGitHubWatcher(tokensource.Config{
			URL:         tc.URL,
			GitHubToken: tc.GitHubToken,
			AutoUpdate:  tc.AutoUpdate,
			MaxErrors:   tc.MaxErrors,
			Pause:       tc.Pause(),
			Timeout:     tokenFetchTimeout,
		}, store, log)
		if err := sched.RegisterTokenWatchJob(watcher, tc.Interval()); err != nil {
			return nil, err
		}
		status.TokenSource = watcher
	}

	if repo != nil && cfg.Database.RetentionDays > 0 {
		if err := sched.RegisterLogCleanupJob(repo, cfg.Database.RetentionDays); err != nil {
			return nil, err
		}
	}

	tasks := map[string]listener.Task{
		"heartbeat": signalr.NewHeartbeatSupervisor(manager, signalr.HeartbeatConfig{
			Tick:         cfg.Listener.HeartbeatTick(),
			PingInterval: cfg.Listener.PingInterval(),
			PongTimeout:  cfg.Listener.PongTimeout(),
		}, log),
		"token-refresh": signalr.NewTokenRefreshSupervisor(manager, cfg.Listener.TokenRefresh(), log),
	}

	a.listener = listener.New(listener.Deps{
		Connection:  manager,
		Credentials: store,
		Tasks:       tasks,
		Scheduler:   sched,
		Drainer:     router,
	}, log)
	store.Subscribe(a.listener)

	if cfg.Server.Enabled {
		status.Session = a.listener
		deps := httpRouter.RouterDeps{
			Status:      status,
			Metrics:     m.Handler(),
			Redis:       a.redis,
			RedisPrefix: cfg.Redis.Prefix,
		}
		// The listener reads its task map at Run, so the admin API can still
		// join it here.
		tasks["http"] = httpRouter.NewRouter(cfg.Server, deps, log)
	}

	return a, nil
}

func newCredentialStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log logger.Interface) *credential.Store {
	var snapshot credential.Snapshotter
	if rdb != nil {
		snapshot = cache.NewCredentialSnapshotStore(rdb, cfg.Redis.Prefix)
	}
	store := credential.NewStore(bootstrap.InitialCredentials(cfg), snapshot, log)

	if _, err := store.Restore(ctx); err != nil {
		log.Warnw("failed to restore credential snapshot", "error", err)
	}
	return store
}

func newProcessedIDSets(cfg *config.Config, rdb *redis.Client, log logger.Interface) (appnotification.ProcessedIDSet, appnotification.ProcessedIDSet, error) {
	memW, err := cache.NewMemoryIDSet(cfg.Dedup.MemoryCapacity)
	if err != nil {
		return nil, nil, err
	}
	memD, err := cache.NewMemoryIDSet(cfg.Dedup.MemoryCapacity)
	if err != nil {
		return nil, nil, err
	}
	if rdb == nil {
		return memW, memD, nil
	}

	ttl := cfg.Dedup.TTL()
	return cache.NewRedisIDSet(rdb, cfg.Redis.Prefix, string(notification.ChannelWithdrawal), ttl, memW, log),
		cache.NewRedisIDSet(rdb, cfg.Redis.Prefix, string(notification.ChannelDeposit), ttl, memD, log),
		nil
}

func newSink(cfg *config.Config, log logger.Interface) (appnotification.Sink, error) {
	if cfg.Telegram.BotToken == "" {
		log.Warnw("telegram bot token not set, alerts are only logged")
		return telegram.NewLogSink(log), nil
	}
	sink, err := telegram.NewSink(&cfg.Telegram, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram sink: %w", err)
	}
	return sink, nil
}
