package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/handlers"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/services/blur"
	"github.com/ternarybob/vigil/internal/services/checks"
	"github.com/ternarybob/vigil/internal/services/crawler"
	"github.com/ternarybob/vigil/internal/services/events"
	"github.com/ternarybob/vigil/internal/services/mailer"
	"github.com/ternarybob/vigil/internal/services/performance"
	queuesvc "github.com/ternarybob/vigil/internal/services/queue"
	"github.com/ternarybob/vigil/internal/services/reports"
	"github.com/ternarybob/vigil/internal/services/scheduler"
	"github.com/ternarybob/vigil/internal/services/screenshot"
	"github.com/ternarybob/vigil/internal/services/status"
	"github.com/ternarybob/vigil/internal/services/visual"
	"github.com/ternarybob/vigil/internal/storage/sqlite"
)

// App holds all application components and dependencies
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage *sqlite.Manager

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService
	StatusService    *status.Service

	// Check engine
	SnapshotStore     *checks.SnapshotStore
	Dispatcher        interfaces.CheckDispatcher
	Processor         *queuesvc.Processor
	ScreenshotService interfaces.ScreenshotService

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	WebsiteHandler   *handlers.WebsiteHandler
	QueueHandler     *handlers.QueueHandler
	HistoryHandler   *handlers.HistoryHandler
	SchedulerHandler *handlers.SchedulerHandler
	StatusHandler    *handlers.StatusHandler
	SnapshotHandler  *handlers.SnapshotHandler
	WSHandler        *handlers.WebSocketHandler

	wsWriter *handlers.WebSocketWriter
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Event bus and WebSocket hub come first: every service publishes into
	// them and the log stream needs the hub before the first service log.
	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger)

	wsWriter, err := handlers.NewWebSocketWriter(app.WSHandler, arbormodels.WriterConfiguration{
		TimeFormat: "15:04:05",
	}, &cfg.WebSocket)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize websocket log writer: %w", err)
	}
	app.wsWriter = wsWriter
	app.Logger.SetChannel("websocket", wsWriter.Channel())

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	app.Logger.Info().
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Bool("notifications_enabled", cfg.Notify.Enabled()).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage prepares the data directory, opens the SQLite database and
// seeds the website catalog from definition files.
func (a *App) initStorage() error {
	if err := os.MkdirAll(a.Config.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(a.Config.Storage.SnapshotDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	manager, err := sqlite.NewManager(a.Logger, a.Config.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.Storage = manager

	a.Logger.Debug().
		Str("storage", "sqlite").
		Str("path", a.Config.Storage.DatabasePath).
		Msg("Storage layer initialized")

	// Website definition files are an optional bootstrap; a broken file
	// must not prevent startup.
	ctx := context.Background()
	if err := manager.SeedWebsites(ctx, a.Config.Storage.WebsiteSeedDir(), a.Config.Checks); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to seed websites from definition files")
	}

	return nil
}

// initServices initializes all business services in dependency order.
func (a *App) initServices() error {
	a.SnapshotStore = checks.NewSnapshotStore(a.Config.Storage.SnapshotDirectory, a.Logger)

	// Deleting a website orphans its snapshot tree. The scheduler hook is
	// registered inside scheduler.NewService; this one cleans up disk.
	a.Storage.Websites().OnDelete(func(websiteID string) {
		if err := a.SnapshotStore.RemoveWebsiteTree(websiteID); err != nil {
			a.Logger.Warn().
				Err(err).
				Str("website_id", websiteID).
				Msg("Failed to remove snapshot tree for deleted website")
		}
	})

	crawlerService := crawler.NewService(a.Config, a.Logger)
	a.ScreenshotService = screenshot.NewService(a.Config, a.Logger)
	differ := visual.NewDiffer(a.Logger)
	blurAnalyzer := blur.NewAnalyzer(a.Logger)
	imageDownloader := blur.NewDownloader(a.Config, a.Logger)
	performanceClient := performance.NewClient(a.Config, a.Logger)
	mailerService := mailer.NewService(a.Config, a.Logger)

	reportBuilder, err := reports.NewBuilder(a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize report builder: %w", err)
	}

	a.Dispatcher = checks.NewDispatcher(a.Config, checks.Dependencies{
		Crawler:     crawlerService,
		Screenshots: a.ScreenshotService,
		Differ:      differ,
		Blur:        blurAnalyzer,
		Images:      imageDownloader,
		Performance: performanceClient,
		Mailer:      mailerService,
		Reports:     reportBuilder,
		Websites:    a.Storage.Websites(),
		History:     a.Storage.History(),
		Events:      a.EventService,
		Snapshots:   a.SnapshotStore,
	}, a.Logger)
	a.Logger.Debug().Msg("Check dispatcher initialized")

	a.Processor = queuesvc.NewProcessor(a.Config, a.Storage.Queue(), a.Storage.Websites(), a.Dispatcher, a.EventService, a.Logger)

	// The scheduler is constructed even when disabled: Start reports
	// ErrSchedulerDisabled and the API still answers status requests.
	a.SchedulerService = scheduler.NewService(a.Config, a.Storage.Websites(), a.Storage.Queue(), a.Dispatcher, a.EventService, a.Logger)

	a.StatusService = status.NewService(a.SchedulerService, a.Storage.Queue(), a.Storage.History(), a.Logger)
	a.StatusService.SubscribeToCheckEvents(a.EventService)
	a.Logger.Debug().Msg("Status service initialized")

	return nil
}

// initHandlers wires the HTTP handlers onto the services.
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Storage, a.Logger)
	a.WebsiteHandler = handlers.NewWebsiteHandler(a.Storage.Websites(), a.Storage.Queue(), a.SchedulerService, a.EventService, a.Config, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.Storage.Queue(), a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.Storage.History(), a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.Logger)
	a.SnapshotHandler = handlers.NewSnapshotHandler(a.SnapshotStore)
}

// Start launches the queue processor and the scheduler. A disabled
// scheduler is not an error: manual checks still flow through the queue.
// A lock held by another instance only disables scheduling in this one.
func (a *App) Start() error {
	if err := a.Processor.Start(); err != nil {
		return fmt.Errorf("failed to start queue processor: %w", err)
	}

	if err := a.SchedulerService.Start(); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrSchedulerDisabled):
			a.Logger.Info().Msg("Scheduler disabled by configuration, periodic checks will not run")
		case errors.Is(err, scheduler.ErrLockHeld):
			a.Logger.Warn().Err(err).Msg("Scheduler lock held by another instance, running without scheduling")
		default:
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.Processor != nil {
		if err := a.Processor.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop queue processor")
		}
	}

	if a.ScreenshotService != nil {
		if err := a.ScreenshotService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close screenshot service")
		}
	}

	if a.wsWriter != nil {
		if err := a.wsWriter.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close websocket log writer")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
