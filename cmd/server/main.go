package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/controllers"
	"github.com/faeln1/go-whatsapp-council/internal/app/repositories"
	"github.com/faeln1/go-whatsapp-council/internal/app/services"
	"github.com/faeln1/go-whatsapp-council/internal/config"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	"github.com/faeln1/go-whatsapp-council/internal/platform/database"
	httpPlatform "github.com/faeln1/go-whatsapp-council/internal/platform/http"
	"github.com/faeln1/go-whatsapp-council/internal/platform/whatsapp"
	"github.com/faeln1/go-whatsapp-council/pkg/eventlog"
	"github.com/faeln1/go-whatsapp-council/pkg/logger"
	storagepkg "github.com/faeln1/go-whatsapp-council/pkg/storage"
	minioStorage "github.com/faeln1/go-whatsapp-council/pkg/storage/minio"
	"github.com/joho/godotenv"
	"go.mau.fi/whatsmeow"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg := config.MustLoad()
	loggers := logger.New(cfg.LogLevel)

	log.Printf("configuration: store=%s communities=%d session=%s", cfg.StoreDriver, len(cfg.Communities), cfg.WhatsApp.SessionName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, ledger, closeStore := openStore(cfg, loggers.Store)
	defer func() {
		if err := closeStore(); err != nil {
			log.Printf("error closing store: %v", err)
		}
	}()

	var communities []whatsapp.Community
	for _, c := range cfg.Communities {
		community, err := whatsapp.NewCommunity(c.ID, c.Name, c.Tribunal, c.WinnersGroup, c.Automated)
		if err != nil {
			log.Fatalf("community %s: %v", c.ID, err)
		}
		communities = append(communities, community)
	}
	registry, err := whatsapp.NewRegistry(communities...)
	if err != nil {
		log.Fatalf("community registry: %v", err)
	}
	if len(communities) == 0 {
		log.Printf("warning: no communities configured in %s", cfg.CommunitiesFile)
	}

	waMgr := whatsapp.NewManager(loggers.App.Sub("WA"))
	defer waMgr.Close()
	directory := whatsapp.NewDirectory(waMgr, cfg.WhatsApp.SessionName, registry, loggers.App.Sub("Directory"))
	var announcer services.Announcer = whatsapp.NewAnnouncer(waMgr, cfg.WhatsApp.SessionName, registry, loggers.App.Sub("Announcer"))
	if cfg.WhatsApp.SkipConnect {
		announcer = services.NoopAnnouncer
	}

	var objectStorage storagepkg.Service
	if cfg.Storage.Enabled() {
		client, err := minioStorage.New(ctx, minioStorage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
			PublicURL: cfg.Storage.PublicURL,
			Prefix:    cfg.Storage.Prefix,
		})
		if err != nil {
			log.Fatalf("storage initialization error: %v", err)
		}
		objectStorage = client
		log.Printf("object storage enabled bucket=%s endpoint=%s", cfg.Storage.Bucket, cfg.Storage.Endpoint)
	}

	journal := eventlog.NewWriter(cfg.EventLogDir, loggers.App.Sub("EventLog"))
	webhook := services.NewWebhookNotifier(services.WebhookConfig{
		URL:    cfg.Webhook.URL,
		Token:  cfg.Webhook.Token,
		Events: cfg.Webhook.Events,
	}, nil, loggers.App.Sub("Webhook"))

	engineCfg := services.EngineConfig{
		TiePolicy:        decision.ParseTiePolicy(cfg.Quorum.TiePolicy),
		EffectMaxRetries: cfg.Quorum.EffectMaxRetries,
	}
	listeners := []services.DecisionListener{services.LedgerListener{Ledger: ledger}}
	if journal.Enabled() {
		listeners = append(listeners, services.JournalListener{Journal: journal})
	}
	if webhook.Enabled() {
		listeners = append(listeners, webhook)
	}
	engine := services.NewQuorumEngine(store, directory, engineCfg, loggers.App.Sub("Quorum"), listeners...)

	var eventJournal services.EventJournal
	if journal.Enabled() {
		eventJournal = journal
	}
	governance := services.NewGovernanceService(services.GovernanceDeps{
		Store:     store,
		Engine:    engine,
		Directory: directory,
		Announcer: announcer,
		Journal:   eventJournal,
		Ledger:    ledger,
	}, loggers.App.Sub("Governance"))
	engine.AddListener(governance)

	circles := services.NewCircleService(store, directory, nil, loggers.App.Sub("Circles"))
	board := services.NewLeaderboard(store, nil, loggers.App.Sub("Leaderboard"))

	schedule, err := buildSchedule(cfg.Scheduler)
	if err != nil {
		log.Fatalf("scheduler configuration: %v", err)
	}

	var publishers []services.SnapshotPublisher
	if p := services.NewObjectSnapshotPublisher(objectStorage, loggers.App.Sub("Snapshots")); p != nil {
		publishers = append(publishers, p)
	}
	if webhook.Enabled() {
		publishers = append(publishers, webhook)
	}
	cycles := services.NewCycles(services.CyclesDeps{
		Store:       store,
		Governance:  governance,
		Leaderboard: board,
		Directory:   directory,
		Announcer:   announcer,
		Publishers:  publishers,
		Listeners:   listeners,
		Schedule:    schedule,
		Engine:      engineCfg,
	}, loggers.App.Sub("Cycles"))
	scheduler := services.NewScheduler(store, cycles, services.SchedulerConfig{
		Schedule:     schedule,
		PollInterval: cfg.Scheduler.PollInterval,
		Concurrency:  cfg.Scheduler.Concurrency,
		Communities:  registry.IDs(),
	}, loggers.App.Sub("Scheduler"))
	go scheduler.Run(ctx)

	if !cfg.WhatsApp.SkipConnect {
		storeFactory := whatsapp.NewStoreFactory(cfg.WhatsApp.DeviceDir, loggers.App.Sub("Device"))
		chat := services.NewChatEvents(governance, registry, directory, nil, loggers.App.Sub("Chat"))
		bootstrap := services.NewSessionBootstrap(storeFactory, waMgr, loggers.App.Sub("Bootstrap"), chat)
		go connectSession(ctx, bootstrap, waMgr, cfg.WhatsApp.SessionName, loggers.App.Sub("Session"))
	} else {
		log.Printf("whatsapp connection disabled; votes are accepted over HTTP only")
	}

	router := httpPlatform.NewRouter(httpPlatform.RouterConfig{
		GovernanceCtrl:  controllers.NewGovernanceController(governance),
		CircleCtrl:      controllers.NewCircleController(circles),
		LeaderboardCtrl: controllers.NewLeaderboardController(board),
		SchedulerCtrl:   controllers.NewSchedulerController(scheduler),
		SessionCtrl:     controllers.NewSessionController(waMgr, cfg.WhatsApp.SessionName),
		Logger:          loggers.HTTP,
		Communities:     registry.IDs(),
		SwaggerEnable:   cfg.SwaggerEnable,
		MasterToken:     cfg.MasterToken,
	})

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}

// openStore builds the workflow store and decision ledger for the configured driver.
func openStore(cfg *config.AppConfig, storeLog waLog.Logger) (repositories.WorkflowStore, repositories.DecisionLog, func() error) {
	noop := func() error { return nil }
	switch cfg.StoreDriver {
	case "memory":
		store := repositories.NewInMemoryWorkflowStore()
		return store, repositories.NewStoreDecisionLog(store, storeLog), noop
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Fatalf("data dir: %v", err)
		}
		db, err := database.OpenSQL("sqlite", whatsapp.SQLiteDSN(cfg.DatabaseDSN))
		if err != nil {
			log.Fatalf("database connection error: %v", err)
		}
		store, err := repositories.NewSQLWorkflowStore(db, repositories.DialectSQLite)
		if err != nil {
			log.Fatalf("workflow store initialization error: %v", err)
		}
		return store, repositories.NewStoreDecisionLog(store, storeLog), db.Close
	case "postgres":
		gdb, err := database.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("database connection error: %v", err)
		}
		var sqlDB *sql.DB
		if sqlDB, err = gdb.DB(); err != nil {
			log.Fatalf("database handle retrieval error: %v", err)
		}
		store, err := repositories.NewSQLWorkflowStore(sqlDB, repositories.DialectPostgres)
		if err != nil {
			log.Fatalf("workflow store initialization error: %v", err)
		}
		ledger, err := repositories.NewGormDecisionLog(gdb)
		if err != nil {
			log.Fatalf("decision ledger initialization error: %v", err)
		}
		return store, ledger, sqlDB.Close
	default:
		store, err := repositories.NewFileWorkflowStore(cfg.DataDir, storeLog)
		if err != nil {
			log.Fatalf("workflow store initialization error: %v", err)
		}
		return store, repositories.NewStoreDecisionLog(store, storeLog), noop
	}
}

func buildSchedule(cfg config.SchedulerConfig) (services.Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return services.Schedule{}, err
	}
	open, err := services.ParseWeeklyAt(cfg.WeeklyOpenAt)
	if err != nil {
		return services.Schedule{}, err
	}
	closeAt, err := services.ParseWeeklyAt(cfg.WeeklyCloseAt)
	if err != nil {
		return services.Schedule{}, err
	}
	reset, err := services.ParseMonthlyAt(cfg.MonthlyResetAt)
	if err != nil {
		return services.Schedule{}, err
	}
	return services.Schedule{
		Location:            loc,
		WeeklyOpen:          open,
		WeeklyClose:         closeAt,
		MonthlyReset:        reset,
		RefreshEvery:        cfg.RefreshEvery,
		CalendarEnabled:     cfg.CalendarEnabled,
		AnnounceLeaderboard: cfg.AnnounceLeaderboard,
	}, nil
}

func connectSession(ctx context.Context, bootstrap *services.SessionBootstrap, waMgr *whatsapp.Manager, name string, log waLog.Logger) {
	qrChan, alreadyLogged, err := bootstrap.InitNewSession(ctx, name)
	if err != nil {
		log.Errorf("failed to initialize whatsapp session: %v", err)
		return
	}
	if alreadyLogged {
		log.Infof("session restored (already logged in)")
		return
	}
	if qrChan == nil {
		log.Infof("session requires login but QR channel not available")
		return
	}
	log.Infof("session requires QR scan; waiting for events")
	watchQRChannel(ctx, name, qrChan, waMgr, log)
}

func watchQRChannel(ctx context.Context, name string, qrChan <-chan whatsmeow.QRChannelItem, waMgr *whatsapp.Manager, log waLog.Logger) {
	for {
		select {
		case item, ok := <-qrChan:
			if !ok {
				log.Infof("QR channel closed")
				return
			}
			switch item.Event {
			case "code":
				if item.Code == "" {
					continue
				}
				if err := waMgr.SetLastQR(name, item.Code); err != nil {
					log.Errorf("failed to cache QR code: %v", err)
				}
				if err := whatsapp.PrintQRASCII(os.Stdout, item.Code); err != nil {
					log.Warnf("failed to print QR code: %v", err)
				}
				log.Infof("QR code refreshed (timeout %s)", item.Timeout)
			case "success":
				log.Infof("pairing completed")
				return
			case "timeout":
				log.Warnf("QR code expired before pairing")
				return
			default:
				if item.Error != nil {
					log.Errorf("QR channel event %s: %v", item.Event, item.Error)
				} else {
					log.Infof("QR channel event %s", item.Event)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
