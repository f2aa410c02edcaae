package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/scanpipe/internal/adapters/driven/config/file"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/inbox/filesystem"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/notify/memory"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/notify/redis"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/ocr/tesseract"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/pdf/fitz"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/qr"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/seed"
	memstore "github.com/custodia-labs/scanpipe/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/scanpipe/internal/adapters/driving/cli"
	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
	"github.com/custodia-labs/scanpipe/internal/core/services"
	"github.com/custodia-labs/scanpipe/internal/logger"
)

// store bundles what the selected store driver provides.
type store struct {
	connector driven.StoreConnector
	writer    driven.SeedWriter
	tasks     driven.TaskStore
	close     func() error
}

// bootstrap builds every service from the config directory.
func bootstrap(ctx context.Context, opts cli.Options) (*cli.Services, error) {
	configStore, err := file.NewConfigStore(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore)
	settings, err := settingsService.Get()
	if err != nil {
		return nil, err
	}

	if err := logger.SetFormat(settings.Log.Format); err != nil {
		return nil, err
	}
	if err := logger.SetLevel(settings.Log.Level); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, settings.Store)
	if err != nil {
		return nil, err
	}
	notifier := openNotifier(settings.Notify)

	repo := services.NewRepository(st.connector, services.RepositoryConfigFrom(settings))
	inbox := filesystem.New()
	extractor := services.NewExtractor(
		tesseract.New(tesseract.Config{Binary: settings.OCR.Binary, Language: settings.OCR.Language}, nil),
		services.ExtractorConfigFrom(settings.Extract),
	)
	banks := services.NewBankValidator(repo)
	pipeline := services.NewPipeline(
		repo,
		fitz.NewOpener(),
		inbox,
		services.NewSegmenter(qr.NewDecoder(true)),
		extractor,
		banks,
		settings.Extract.RenderDPI,
	)
	housekeeper := services.NewHousekeeper(repo, inbox, notifier)
	scheduler := services.NewScheduler(
		settings.Housekeeping.Plan(),
		st.tasks,
		housekeeper,
		settings.Housekeeping.HistoryKeep,
	)
	supervisor := services.NewSupervisor(repo, inbox, pipeline, notifier, scheduler, services.SupervisorConfig{
		GracePeriod:       settings.Worker.GracePeriod,
		ReconcileInterval: settings.Housekeeping.RefreshInterval,
	})

	return &cli.Services{
		Settings:   settingsService,
		Mandates:   services.NewMandateService(repo, seed.NewLoader(), st.writer, notifier),
		Processor:  pipeline,
		Banks:      banks,
		Supervisor: supervisor,
		Scheduler:  scheduler,
		Close: func() error {
			return errors.Join(notifier.Close(), st.close())
		},
	}, nil
}

func openStore(ctx context.Context, cfg domain.StoreSettings) (*store, error) {
	switch cfg.Driver {
	case domain.StoreDriverSQLite:
		s, err := sqlite.NewStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Debug("using sqlite store at %s", s.Path())
		return &store{connector: s, writer: s, tasks: s.TaskStore(), close: s.Close}, nil

	case domain.StoreDriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return &store{connector: s, writer: s, tasks: s.TaskStore(), close: s.Close}, nil

	case domain.StoreDriverMemory:
		s := memstore.NewStore()
		logger.Warn("using in-memory store; results are lost on exit")
		return &store{connector: s, writer: s, tasks: memstore.NewTaskStore(), close: s.Close}, nil

	default:
		return nil, fmt.Errorf("%w: store driver %q", domain.ErrUnsupportedType, cfg.Driver)
	}
}

func openNotifier(cfg domain.NotifySettings) driven.InvalidationNotifier {
	if cfg.Driver != domain.NotifyDriverRedis {
		return memory.New()
	}
	n, err := redis.New(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Channel:  cfg.Channel,
	})
	if err != nil {
		logger.Warn("redis notifier unavailable, invalidation stays local: %v", err)
		return memory.New()
	}
	return n
}
