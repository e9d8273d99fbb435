package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/warden/internal/audit"
	"github.com/iamwavecut/warden/internal/bot"
	"github.com/iamwavecut/warden/internal/config"
	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/db/redis"
	"github.com/iamwavecut/warden/internal/db/sqlite"
	adminhandlers "github.com/iamwavecut/warden/internal/handlers/admin"
	chathandlers "github.com/iamwavecut/warden/internal/handlers/chat"
	"github.com/iamwavecut/warden/internal/infra"
	"github.com/iamwavecut/warden/internal/infrastructure/telegram"
	"github.com/iamwavecut/warden/internal/lifecycle"
	"github.com/iamwavecut/warden/internal/moderation"
	"github.com/iamwavecut/warden/internal/observability"
	"github.com/iamwavecut/warden/internal/policy/permissions"
	"github.com/iamwavecut/warden/internal/verification"
)

const (
	pollTimeoutSeconds   = 60
	maxConcurrentUpdates = 64
	shutdownTimeout      = 10 * time.Second
)

var errExecutableModified = errors.New("executable file was modified")

func main() {
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatal("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithField("error", err.Error()).Error("warden stopped")
		os.Exit(1)
	}
	log.Info("warden stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	workDir, err := infra.GetWorkDir(cfg.DotPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.StorageURL, workDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithField("error", err.Error()).Warn("cant close store")
		}
	}()

	pollBot, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return errors.Wrap(err, "cant initialize bot api")
	}
	opsBot, err := api.NewBotAPIWithClient(cfg.TelegramAPIToken, api.APIEndpoint, &http.Client{Timeout: cfg.PlatformTimeout})
	if err != nil {
		return errors.Wrap(err, "cant initialize bot api client")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		opsBot.Debug = true
	}
	defer pollBot.StopReceivingUpdates()

	shutdownTracing := observability.InitTracing()
	defer func() { _ = shutdownTracing(context.Background()) }()

	metrics := observability.NewMetrics()
	ops := telegram.NewOperations(opsBot)

	journal := cfg.AuditJournal
	if journal != "" && !filepath.IsAbs(journal) {
		journal = filepath.Join(workDir, journal)
	}
	recorder := audit.NewRecorder(store, audit.JournalOptions{Filename: journal})
	defer func() { _ = recorder.Close() }()

	authorizer := permissions.NewAuthorizer(cfg.Admins.IDs, cfg.Admins.IncludeChatManagers, ops)

	escalator := moderation.NewEscalator(moderation.NewLedger(store), ops, recorder, metrics, moderation.EscalatorConfig{
		DefaultWarnLimit: cfg.Moderation.WarnLimit,
		MuteDuration:     cfg.Moderation.MuteDuration,
		DefaultLanguage:  cfg.DefaultLanguage,
	})
	pipeline := moderation.NewPipeline(store, moderation.NewRateTracker(), escalator, ops, recorder, metrics, moderation.PipelineConfig{
		DefaultFloodLimit: cfg.Moderation.FloodLimit,
	})
	machine := verification.NewMachine(store, ops, recorder, metrics, verification.Config{
		Timeout:         cfg.Gatekeeper.ChallengeTimeout,
		ExpiryAction:    verification.ExpiryAction(cfg.Gatekeeper.ExpiryAction),
		WelcomeText:     cfg.Gatekeeper.WelcomeText,
		DefaultLanguage: cfg.DefaultLanguage,
	})

	runtime := lifecycle.NewRuntime(
		observability.NewMetricsServer(cfg.MetricsAddr, metrics),
		pipeline,
		machine,
	)
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Warn("cant stop runtime cleanly")
		}
	}()

	service := bot.NewService(opsBot, store, cfg.DefaultLanguage)
	bot.RegisterUpdateHandler("admin", adminhandlers.NewAdmin(service, escalator, ops, recorder, authorizer, adminhandlers.Config{
		DefaultLanguage:   cfg.DefaultLanguage,
		DefaultWarnLimit:  cfg.Moderation.WarnLimit,
		DefaultFloodLimit: cfg.Moderation.FloodLimit,
	}))
	bot.RegisterUpdateHandler("gatekeeper", chathandlers.NewGatekeeper(machine, authorizer))
	bot.RegisterUpdateHandler("reactor", chathandlers.NewReactor(pipeline, authorizer))
	processor := bot.NewUpdateProcessor(cfg.EnabledHandlers)

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = pollTimeoutSeconds
	updateConfig.AllowedUpdates = bot.AllowedUpdates

	log.WithField("bot", opsBot.Self.UserName).Info("warden started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processUpdates(gctx, pollBot, updateConfig, processor)
	})
	g.Go(func() error {
		select {
		case _, modified := <-infra.MonitorExecutable(gctx):
			if modified {
				return errExecutableModified
			}
			<-gctx.Done()
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	return g.Wait()
}

// processUpdates fans updates out to a bounded set of goroutines. A panic while
// handling one update is logged and does not stop the loop.
func processUpdates(ctx context.Context, botAPI *api.BotAPI, updateConfig api.UpdateConfig, processor *bot.UpdateProcessor) error {
	workers := new(errgroup.Group)
	workers.SetLimit(maxConcurrentUpdates)
	defer func() { _ = workers.Wait() }()

	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errorChan:
			if !ok || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "bot api get updates error")
		case update, ok := <-updateChan:
			if !ok {
				return nil
			}
			workers.Go(func() error {
				defer infra.RecoverAndLog("process_update")
				if err := processor.Process(ctx, &update); err != nil {
					log.WithField("error", err.Error()).Error("cant process update")
				}
				return nil
			})
		}
	}
}

// openStore selects the storage backend by URL scheme. Relative sqlite paths live in
// the work directory.
func openStore(ctx context.Context, storageURL, workDir string) (db.Client, error) {
	switch {
	case strings.HasPrefix(storageURL, "sqlite://"):
		path := strings.TrimPrefix(storageURL, "sqlite://")
		if path == "" {
			return nil, errors.Errorf("empty sqlite path in %q", storageURL)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		client, err := sqlite.NewSQLiteClient(ctx, filepath.Dir(path), filepath.Base(path))
		if err != nil {
			return nil, errors.WithMessage(err, "open sqlite store")
		}
		return client, nil
	case strings.HasPrefix(storageURL, "redis://"), strings.HasPrefix(storageURL, "rediss://"):
		client, err := redis.NewRedisClient(ctx, storageURL)
		if err != nil {
			return nil, errors.WithMessage(err, "open redis store")
		}
		return client, nil
	default:
		return nil, errors.Errorf("unsupported storage url %q", storageURL)
	}
}
