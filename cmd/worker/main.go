package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/catalog"
	"github.com/emberhq/companion/internal/character"
	"github.com/emberhq/companion/internal/chat"
	"github.com/emberhq/companion/internal/config"
	"github.com/emberhq/companion/internal/db"
	"github.com/emberhq/companion/internal/gallery"
	"github.com/emberhq/companion/internal/imagen"
	"github.com/emberhq/companion/internal/llm"
	"github.com/emberhq/companion/internal/models"
	"github.com/emberhq/companion/internal/notify"
	"github.com/emberhq/companion/internal/points"
	"github.com/emberhq/companion/internal/prompt"
	"github.com/emberhq/companion/internal/render"
	"github.com/emberhq/companion/internal/settings"
	"github.com/emberhq/companion/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Str("service", "worker").Logger()

	gdb := db.Connect(cfg.DBDSN)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping")
	}
	notifier := notify.NewRedisNotifier(rdb)

	catalogRepo := catalog.NewRepo(gdb)
	chatRepo := chat.NewRepo(gdb)
	characterRepo := character.NewRepo(gdb)
	pointsRepo := points.NewRepo(gdb)

	completer := llm.NewClient(catalogRepo)
	generator := character.NewGenerator(characterRepo, completer)

	imagePub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.ImageQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("image publisher")
	}
	defer imagePub.Close()
	images := imagen.NewTrigger(pointsRepo, imagePub, notifier, int64(cfg.ImagePointCost))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	svc := chat.NewService(chat.ServiceConfig{
		Repo:              chatRepo,
		Characters:        characterRepo,
		Generator:         generator,
		Settings:          settings.NewRepo(gdb),
		Users:             models.NewUserRepo(gdb),
		Points:            pointsRepo,
		Completer:         completer,
		Builder:           prompt.NewBuilder(rng),
		Notifier:          notifier,
		Publisher:         imagePubAsCompletion{}, // workers never enqueue turns
		Images:            images,
		ContextWindowSize: cfg.ChatContextWindowSize,
		Rand:              rng,
	})

	store, err := gallery.NewStore(gallery.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("gallery store")
	}
	if err := store.EnsureBucket(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("ensure bucket")
	}
	renderer := render.NewRenderer(store, chatRepo, pointsRepo, notifier, int64(cfg.ImagePointCost))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := workerConcurrency()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, conn, cfg.CompletionQueue, concurrency, func(ctx context.Context, body []byte) error {
			var m rabbitmq.CompletionJobMessage
			if err := json.Unmarshal(body, &m); err != nil || m.JobID == "" {
				return errBadMessage
			}
			return svc.ProcessJob(ctx, m.JobID)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, conn, cfg.ImageQueue, concurrency, func(ctx context.Context, body []byte) error {
			var m rabbitmq.ImageJobMessage
			if err := json.Unmarshal(body, &m); err != nil || m.TaskID == "" {
				return errBadMessage
			}
			return renderer.Process(ctx, m)
		})
	}()

	log.Info().Int("concurrency", concurrency).
		Str("completion_queue", cfg.CompletionQueue).
		Str("image_queue", cfg.ImageQueue).
		Msg("worker started")

	wg.Wait()
}

// imagePubAsCompletion satisfies the service's publisher dependency in the
// worker, where enqueueing new turns is not a valid operation.
type imagePubAsCompletion struct{}

func (imagePubAsCompletion) PublishCompletionJob(context.Context, string) error {
	return errWorkerCannotEnqueue
}
