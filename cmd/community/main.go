package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Freeeeeet/community_hub/internal/app"
	"github.com/Freeeeeet/community_hub/internal/config"
	"github.com/Freeeeeet/community_hub/internal/controller"
	"github.com/Freeeeeet/community_hub/internal/controller/api"
	"github.com/Freeeeeet/community_hub/internal/events"
	"github.com/Freeeeeet/community_hub/internal/provider"
	"github.com/Freeeeeet/community_hub/internal/ratelimit"
	"github.com/Freeeeeet/community_hub/internal/repository"
	"github.com/Freeeeeet/community_hub/internal/repository/migrations"
	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "community-hub"
	sendRateWindow  = time.Minute
	idempotencyTTL  = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment, serviceName)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
	logger.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting community hub",
		zap.String("environment", cfg.Environment),
		zap.String("channel_provider", cfg.ChannelProvider),
	)

	shutdownTracing, err := app.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return err
	}

	migrator, err := app.NewMigrator(pool, migrations.FS, logger)
	if err != nil {
		return err
	}
	if err := migrator.Run(ctx); err != nil {
		return err
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("Failed to close migrator", zap.Error(err))
	}

	channels, err := newChannelProvider(cfg, logger)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	users := repository.NewUserRepository(pool)
	pairs := repository.NewPairRepository(pool)
	groups := repository.NewGroupRepository(pool)
	members := repository.NewMembershipRepository(pool)
	sessions := repository.NewSessionRepository(pool)

	userService := service.NewUserService(users, repository.NewLinkCodeRepository(pool), logger.Named("users"))
	pairingService := service.NewPairingService(pairs, users, channels, publisher, logger.Named("pairing"))
	groupService := service.NewGroupService(groups, members, users, channels, publisher, logger.Named("groups"))
	sessionService := service.NewSessionService(sessions, groupService, channels, publisher, logger.Named("sessions"))
	queryService := service.NewQueryService(users, pairs, groups, members, sessions)

	chatOpts := []service.ChatOption{service.WithFetchLimit(cfg.RelayFetchLimit)}
	if cfg.RedisAddr != "" {
		rdb, err := ratelimit.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		chatOpts = append(chatOpts,
			service.WithSendLimiter(ratelimit.NewLimiter(rdb, cfg.SendRateLimit, sendRateWindow)),
			service.WithIdempotency(ratelimit.NewIdempotency(rdb, idempotencyTTL)),
		)
	} else {
		logger.Info("REDIS_ADDR not set, chat sends are not rate limited")
	}
	chatService := service.NewChatService(pairingService, groupService, users, channels, logger.Named("chat"), chatOpts...)

	scheduler := app.NewScheduler(sessionService, cfg.ReminderInterval, logger.Named("scheduler"))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := api.NewServer(api.Config{
		Addr:         cfg.HTTPAddr,
		JWTSecret:    cfg.JWTSecret,
		CORSOrigins:  cfg.CORSOrigins,
		PollInterval: cfg.RelayPollInterval,
	}, api.Deps{
		Users:    userService,
		Pairing:  pairingService,
		Groups:   groupService,
		Sessions: sessionService,
		Queries:  queryService,
		Chat:     chatService,
	}, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken)
		if err != nil {
			return err
		}
		botController := controller.NewBotController(b, userService, pairingService, queryService, logger.Named("bot"))
		if err := botController.RegisterHandlers(ctx); err != nil {
			logger.Warn("Bot commands menu not set", zap.Error(err))
		}
		g.Go(func() error { return botController.Start(gctx) })
	} else {
		logger.Info("TELEGRAM_TOKEN not set, learner bot disabled")
	}

	return g.Wait()
}

func newChannelProvider(cfg *config.Config, logger *zap.Logger) (provider.ChannelProvider, error) {
	if cfg.ChannelProvider == config.ProviderDiscord {
		d, err := provider.NewDiscord(provider.DiscordConfig{
			Token:      cfg.DiscordToken,
			GuildID:    cfg.DiscordGuildID,
			CategoryID: cfg.DiscordCategoryID,
			Timeout:    cfg.ProviderTimeout,
		}, logger.Named("discord"))
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	logger.Warn("Using in-memory channel provider, messages are lost on restart")
	return provider.NewMemory(), nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if cfg.KafkaBrokers == "" {
		return events.Nop{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, err
	}
	logger.Info("Publishing domain events", zap.String("topic", cfg.KafkaTopic))
	return p, nil
}
