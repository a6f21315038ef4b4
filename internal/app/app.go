// internal/app/app.go
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/config"
	"github.com/unclebandit/leadnurture/internal/db"
	"github.com/unclebandit/leadnurture/internal/dispatch"
	"github.com/unclebandit/leadnurture/internal/lock"
	"github.com/unclebandit/leadnurture/internal/queue"
	"github.com/unclebandit/leadnurture/internal/repository"
	"github.com/unclebandit/leadnurture/internal/service"
	"github.com/unclebandit/leadnurture/internal/templates"
)

// App holds the wired components shared by the server and worker binaries.
type App struct {
	DB        *sql.DB
	Redis     *redis.Client
	Templates *templates.Store
	Campaigns *service.CampaignService
	Engine    *service.Engine

	closers []func() error
}

// New connects to the configured backends and wires the service graph.
// The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var (
		leads     repository.LeadRepositoryInterface
		campaigns repository.CampaignRepositoryInterface
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		memLeads := repository.NewMemoryLeadRepository()
		leads = memLeads
		campaigns = repository.NewMemoryCampaignRepository(memLeads)
	case config.StoreDriverPostgres:
		conn, err := db.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		a.DB = conn
		a.closers = append(a.closers, conn.Close)
		if err := db.RunMigrations(ctx, conn, cfg.MigrationsDir, log); err != nil {
			return nil, err
		}
		leads = &repository.LeadRepository{DB: conn}
		campaigns = &repository.CampaignRepository{DB: conn}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	var (
		locker lock.Locker = lock.NewLocalLocker()
		events queue.Publisher
	)
	if cfg.RedisURL != "" {
		client, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		locker = lock.NewRedisLocker(client, "lease:", log)
		events = queue.NewRedisPublisher(client, log)
		if err := queue.StartEventLogSubscriber(ctx, queue.NewRedisSubscriber(client, log), cfg.EventsChannel, log); err != nil {
			return nil, err
		}
	} else {
		q := queue.NewInMemoryQueue(log)
		events = q
		if err := queue.StartEventLogSubscriber(ctx, q, cfg.EventsChannel, log); err != nil {
			return nil, err
		}
	}

	store, err := templates.NewStore(cfg.TemplatesPath, log)
	if err != nil {
		return nil, err
	}
	a.Templates = store

	var dispatcher dispatch.Dispatcher = dispatch.NewLogDispatcher(log)
	if cfg.AMQPURL != "" {
		d, err := dispatch.NewAMQPDispatcher(cfg.AMQPURL, cfg.AMQPQueue, log)
		if err != nil {
			return nil, err
		}
		dispatcher = d
		a.closers = append(a.closers, d.Close)
	}

	leadLocks := lock.NewKeyedMutex()
	a.Campaigns = &service.CampaignService{
		LeadRepo:        leads,
		CampaignRepo:    campaigns,
		Templates:       store,
		WelcomeTemplate: cfg.WelcomeTemplate,
		LeadLocks:       leadLocks,
		Events:          events,
		EventTopic:      cfg.EventsChannel,
		Log:             log,
	}
	a.Engine = &service.Engine{
		Leads:      leads,
		Campaigns:  campaigns,
		Templates:  store,
		Dispatcher: dispatcher,
		Locker:     locker,
		LeadLocks:  leadLocks,
		Events:     events,
		EventTopic: cfg.EventsChannel,
		Retry: service.RetryPolicy{
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			MaxAttempts: cfg.DispatchMaxAttempts,
		},
		Concurrency: cfg.TickConcurrency,
		BatchSize:   cfg.TickBatchSize,
		LeaseTTL:    cfg.LeaseTTL,
		Log:         log,
	}

	ok = true
	return a, nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
