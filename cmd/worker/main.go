package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/image-edit/internal/ai"
	"github.com/suPer8Hu/image-edit/internal/config"
	"github.com/suPer8Hu/image-edit/internal/db"
	"github.com/suPer8Hu/image-edit/internal/edit"
	"github.com/suPer8Hu/image-edit/internal/logging"
	"github.com/suPer8Hu/image-edit/internal/store/rabbitmq"
	"github.com/suPer8Hu/image-edit/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.AppEnv).With().Str("component", "worker").Logger()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := db.Migrate(gdb, &edit.Job{}); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// Provider registry, routed by AI_PROVIDER
	reg := ai.NewDefaultRegistry(cfg.FalAPIKey, cfg.FalModel, cfg.FalQueueURL, cfg.FalRestURL, cfg.FalPollInterval)
	editor, err := reg.Get(context.Background(), cfg.AIProvider, cfg.FalModel)
	if err != nil {
		log.Fatal().Err(err).Msg("ai provider")
	}

	opts := []edit.Option{edit.WithLogger(log), edit.WithMaxUploadBytes(cfg.MaxUploadBytes)}
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rds.Close()
		opts = append(opts, edit.WithNotifier(rds))
	}
	svc := edit.NewService(edit.NewRepo(gdb), editor, opts...)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq consumer")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx, svc.Process); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		return
	}
	log.Info().Msg("worker exited")
}
