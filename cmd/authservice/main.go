package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-multipost/internal/adapters/api"
	"tg-multipost/internal/adapters/blob"
	"tg-multipost/internal/adapters/botnotify"
	"tg-multipost/internal/adapters/links"
	"tg-multipost/internal/adapters/moderation"
	"tg-multipost/internal/adapters/mtproto"
	"tg-multipost/internal/adapters/registry"
	"tg-multipost/internal/adapters/repo"
	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/cache"
	"tg-multipost/internal/infra/config"
	"tg-multipost/internal/infra/db"
	infrahttp "tg-multipost/internal/infra/http"
	applog "tg-multipost/internal/infra/log"
	"tg-multipost/internal/infra/metrics"
	authuc "tg-multipost/internal/usecase/auth"
	channelsuc "tg-multipost/internal/usecase/channels"
	draftsuc "tg-multipost/internal/usecase/drafts"
	postinguc "tg-multipost/internal/usecase/posting"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	sessions := registry.NewSessions()
	draftStore := registry.NewDrafts()
	clock := draftsuc.SystemClock{}

	blobs, err := blob.NewStore(cfg.Blobs.Dir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("authservice: хранилище изображений недоступно")
	}

	// Троттлинг запросов кода живёт в Redis; без него ограничение
	// отключено.
	var throttle domain.Cache
	if cfg.RedisAddr != "" {
		throttle = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	// Журнал публикаций необязателен: без БД сервис работает, но
	// попытки не протоколируются.
	var publishLog domain.PublishLog
	if cfg.PGDSN != "" {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("authservice: нет подключения к БД")
		}
		defer pool.Close()
		publishLog = repo.NewPostgres(pool)
	}

	var alerts domain.AlertNotifier
	if cfg.Alerts.BotToken != "" {
		notifier, err := botnotify.New(cfg.Alerts.BotToken, cfg.Alerts.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("authservice: бот уведомлений недоступен")
		}
		alerts = notifier
	}

	factory := mtproto.NewFactory(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.Telegram.CallTimeout, logger)
	moderationClient := moderation.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, logger)
	linksClient := links.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, logger)

	authSvc := authuc.NewService(sessions, factory, throttle, cfg.CodeRequestThrottle, logger)
	channelsSvc := channelsuc.NewService(linksClient, logger)
	postingSvc := postinguc.NewService(sessions, authSvc, moderationClient, draftStore, blobs, publishLog, clock, logger)
	scheduler := draftsuc.NewScheduler(draftStore, sessions, postingSvc, blobs, alerts, clock, cfg.Drafts.Interval, logger)

	go scheduler.Run(ctx)

	server := infrahttp.NewServer(logger)
	handler := api.NewHandler(authSvc, channelsSvc, postingSvc, blobs, logger)
	handler.Routes(server.Router)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("authservice: HTTP сервер остановился с ошибкой")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("authservice: остановка")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("authservice: HTTP сервер не остановился корректно")
	}
	// Все открытые транспорты отключаются до выхода.
	authSvc.CloseAll(shutdownCtx)
}
