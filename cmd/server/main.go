package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/catalog"
	"github.com/emberhq/companion/internal/character"
	"github.com/emberhq/companion/internal/chat"
	"github.com/emberhq/companion/internal/config"
	"github.com/emberhq/companion/internal/db"
	"github.com/emberhq/companion/internal/httpapi"
	"github.com/emberhq/companion/internal/httpapi/handlers"
	"github.com/emberhq/companion/internal/imagen"
	"github.com/emberhq/companion/internal/llm"
	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/notify"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/prompt"
	"github.com/emberhq/companion/internal/settings"
	"github.com/emberhq/companion/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Str("service", "api").Logger()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	catalogRepo := catalog.NewRepo(gdb)
	if err := catalogRepo.Seed(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("seed catalog")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping")
	}

	completionPub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.CompletionQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("completion publisher")
	}
	defer completionPub.Close()

	imagePub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.ImageQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("image publisher")
	}
	defer imagePub.Close()

	notifier := notify.NewRedisNotifier(rdb)
	hub := notify.NewHub(rdb)

	userRepo := models.NewUserRepo(gdb)
	pointsRepo := points.NewRepo(gdb)
	characterRepo := character.NewRepo(gdb)
	settingsRepo := settings.NewRepo(gdb)

	completer := llm.NewClient(catalogRepo)
	generator := character.NewGenerator(characterRepo, completer)
	images := imagen.NewTrigger(pointsRepo, imagePub, notifier, int64(cfg.ImagePointCost))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	chatSvc := chat.NewService(chat.ServiceConfig{
		Repo:              chat.NewRepo(gdb),
		Characters:        characterRepo,
		Generator:         generator,
		Settings:          settingsRepo,
		Users:             userRepo,
		Points:            pointsRepo,
		Completer:         completer,
		Builder:           prompt.NewBuilder(rng),
		Notifier:          notifier,
		Publisher:         completionPub,
		Images:            images,
		ContextWindowSize: cfg.ChatContextWindowSize,
		Rand:              rng,
	})

	h := &handlers.Handler{
		DB:         gdb,
		Cfg:        cfg,
		Users:      userRepo,
		Points:     pointsRepo,
		Catalog:    catalogRepo,
		Characters: characterRepo,
		Settings:   settingsRepo,
		ChatSvc:    chatSvc,
		Images:     images,
		Hub:        hub,
	}

	router := httpapi.NewRouter(cfg, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
