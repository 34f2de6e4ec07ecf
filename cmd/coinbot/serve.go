package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/coinbot/internal/accounts"
	"github.com/memohai/coinbot/internal/channel"
	"github.com/memohai/coinbot/internal/channel/adapters/discord"
	"github.com/memohai/coinbot/internal/channel/adapters/telegram"
	"github.com/memohai/coinbot/internal/command"
	"github.com/memohai/coinbot/internal/config"
	"github.com/memohai/coinbot/internal/download"
	"github.com/memohai/coinbot/internal/handlers"
	channelchecker "github.com/memohai/coinbot/internal/healthcheck/checkers/channel"
	downloadchecker "github.com/memohai/coinbot/internal/healthcheck/checkers/download"
	"github.com/memohai/coinbot/internal/identity"
	"github.com/memohai/coinbot/internal/ledger"
	"github.com/memohai/coinbot/internal/logger"
	"github.com/memohai/coinbot/internal/schedule"
	"github.com/memohai/coinbot/internal/server"
	"github.com/memohai/coinbot/internal/version"
)

func runServe(configPath string) error {
	app := fx.New(
		fx.Supply(configPathParam(configPath)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideAccountStore,
			provideLedgerClient,
			identity.NewResolver,
			provideQueue,
			provideChannelRegistry,
			provideChannelStore,
			provideChannelManager,
			provideWorker,
			provideRouter,
			provideScheduleService,
			provideHealthHandler,
			provideServer,
		),
		fx.Invoke(
			startChannelManager,
			startWorker,
			startScheduleService,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

type configPathParam string

func provideConfig(path configPathParam) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideAccountStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (accounts.Store, error) {
	store, err := accounts.Open(context.Background(), cfg.Storage.AccountsDSN, log)
	if err != nil {
		return nil, fmt.Errorf("open accounts: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return store.Close() }})
	return store, nil
}

func provideLedgerClient(log *slog.Logger, cfg config.Config) *ledger.Client {
	return ledger.NewClient(log, cfg.Ledger.BaseURL, cfg.Ledger.Timeout)
}

func provideQueue(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (download.Queue, error) {
	queue, err := download.OpenQueue(context.Background(), cfg.Storage.QueueDSN, log)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return queue.Close() }})
	return queue, nil
}

func provideChannelRegistry(log *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewTelegramAdapter(log))
	registry.MustRegister(discord.NewDiscordAdapter(log))
	return registry
}

func provideChannelStore(cfg config.Config) (*channel.Store, error) {
	store := channel.NewStore()
	tokens := map[channel.ChannelType]string{
		telegram.Type: cfg.Telegram.BotToken,
		discord.Type:  cfg.Discord.BotToken,
	}
	for ct, token := range tokens {
		err := store.Put(channel.ChannelConfig{
			ChannelType: ct,
			Credentials: map[string]any{"botToken": strings.TrimSpace(token)},
		})
		if err != nil {
			return nil, err
		}
	}
	if len(store.EnabledTypes()) == 0 {
		return nil, fmt.Errorf("no chat transport configured: set telegram.bot_token or discord.bot_token")
	}
	return store, nil
}

func provideChannelManager(log *slog.Logger, cfg config.Config, registry *channel.Registry, store *channel.Store) *channel.Manager {
	mgr := channel.NewManager(log, registry, store, nil)
	mgr.SetInboundWorkers(cfg.Commands.InboundWorkers, 0)
	return mgr
}

func provideWorker(log *slog.Logger, cfg config.Config, queue download.Queue, client *ledger.Client, mgr *channel.Manager) *download.Worker {
	dl := cfg.Download
	return download.NewWorker(log, download.Config{
		WorkDir:        dl.WorkDir,
		Concurrency:    dl.Concurrency,
		PollInterval:   dl.PollInterval,
		StatusInterval: dl.StatusInterval,
		MaxVideoBytes:  dl.MaxUploadBytes,
		MaxAudioBytes:  dl.MaxAudioBytes,
		Receiver:       receiverCredential(cfg),
		ReceiverSource: receiverSource(log, cfg, client),
	},
		queue,
		download.NewYTDLP(log, dl.DownloaderPath, dl.MaxVideoHeight),
		download.NewFFmpeg(log, dl.FFmpegPath),
		mgr,
		client,
	)
}

// receiverCredential authenticates refunds from the account that collects
// download charges.
func receiverCredential(cfg config.Config) ledger.Credential {
	if cfg.Ledger.AuthMode == config.AuthModeCard {
		return ledger.Card(cfg.Download.ReceiverCard)
	}
	return ledger.Session(cfg.Download.ReceiverSession)
}

// receiverSource logs the receiver in with stored credentials so refunds keep
// working after the ledger expires a session. Card mode needs none.
func receiverSource(log *slog.Logger, cfg config.Config, client *ledger.Client) download.CredentialSource {
	if cfg.Ledger.AuthMode == config.AuthModeCard {
		return nil
	}
	dl := cfg.Download
	if strings.TrimSpace(dl.ReceiverLogin) != "" {
		return ledger.NewSessionKeeper(client, dl.ReceiverLogin, dl.ReceiverPassword, cfg.Ledger.SessionTTL)
	}
	if dl.Enabled && strings.TrimSpace(dl.ReceiverSession) != "" {
		log.Warn("download refunds use a fixed receiver session that stops working when the ledger expires it; set download.receiver_login to renew it",
			slog.Duration("session_ttl", cfg.Ledger.SessionTTL))
	}
	return nil
}

func provideRouter(log *slog.Logger, cfg config.Config, client *ledger.Client, store accounts.Store, resolver *identity.Resolver, worker *download.Worker, mgr *channel.Manager) *command.Router {
	router := command.NewRouter(log, command.Config{
		Prefix:           cfg.Commands.Prefix,
		AuthMode:         cfg.Ledger.AuthMode,
		SessionTTL:       cfg.Ledger.SessionTTL,
		RateLimitPerSec:  cfg.Commands.RateLimitPerSec,
		RateLimitBurst:   cfg.Commands.RateLimitBurst,
		MaxInboundLength: cfg.Commands.MaxInboundLength,
		Download: command.DownloadConfig{
			Enabled:      cfg.Download.Enabled,
			Price:        cfg.Download.Price,
			ReceiverID:   cfg.Download.ReceiverID,
			ReceiverCard: cfg.Download.ReceiverCard,
		},
	}, client, store, resolver, worker)
	mgr.SetProcessor(router)
	return router
}

func provideScheduleService(log *slog.Logger, cfg config.Config, store accounts.Store) *schedule.Service {
	return schedule.NewService(log, store, schedule.Config{
		SessionSweep: cfg.Schedule.SessionSweep,
		WorkDirPrune: cfg.Schedule.WorkDirPrune,
		SessionTTL:   cfg.Ledger.SessionTTL,
		WorkDir:      cfg.Download.WorkDir,
		OrphanTTL:    cfg.Schedule.OrphanWorkDirTTL,
	})
}

func provideHealthHandler(log *slog.Logger, mgr *channel.Manager, worker *download.Worker) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, version.Version,
		channelchecker.NewChecker(log, mgr),
		downloadchecker.NewChecker(log, worker),
	)
}

func provideServer(log *slog.Logger, cfg config.Config, health *handlers.HealthHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, health)
}

// startChannelManager depends on the router so the inbound processor is
// installed before the manager starts.
func startChannelManager(lc fx.Lifecycle, mgr *channel.Manager, _ *command.Router) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { mgr.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return mgr.Shutdown(stopCtx) },
	})
}

func startWorker(lc fx.Lifecycle, worker *download.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { worker.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return worker.Wait(stopCtx) },
	})
}

func startScheduleService(lc fx.Lifecycle, svc *schedule.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return svc.Start(ctx) },
		OnStop:  func(stopCtx context.Context) error { cancel(); return svc.Stop(stopCtx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	log.Info("starting coinbot", slog.String("version", version.GetInfo()))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
