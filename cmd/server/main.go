package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/suPer8Hu/image-edit/internal/ai"
	"github.com/suPer8Hu/image-edit/internal/config"
	"github.com/suPer8Hu/image-edit/internal/db"
	"github.com/suPer8Hu/image-edit/internal/edit"
	"github.com/suPer8Hu/image-edit/internal/httpapi"
	"github.com/suPer8Hu/image-edit/internal/httpapi/handlers"
	"github.com/suPer8Hu/image-edit/internal/logging"
	"github.com/suPer8Hu/image-edit/internal/store/rabbitmq"
	"github.com/suPer8Hu/image-edit/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := db.Migrate(gdb, &edit.Job{}); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	editor, err := newEditor(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ai provider")
	}

	opts := []edit.Option{
		edit.WithLogger(log),
		edit.WithMaxUploadBytes(cfg.MaxUploadBytes),
	}

	var events handlers.EventSource
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rds.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rds.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, job events may be lost")
		}
		cancel()

		opts = append(opts, edit.WithNotifier(rds))
		events = rds
	}

	if cfg.DispatchMode == config.DispatchRabbitMQ {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq publisher")
		}
		defer pub.Close()
		opts = append(opts, edit.WithDispatcher(pub))
	}

	svc := edit.NewService(edit.NewRepo(gdb), editor, opts...)

	if cfg.DispatchMode == config.DispatchInline && cfg.ResumeOnStart {
		resumed, failed, err := svc.ResumeInterrupted(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("resume interrupted jobs")
		} else if resumed+failed > 0 {
			log.Info().Int("resumed", resumed).Int("failed", failed).Msg("recovered interrupted jobs")
		}
	}

	h := handlers.NewHandler(svc, events, cfg.MaxUploadBytes, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("dispatch", cfg.DispatchMode).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}

	// in-flight inline edits run to completion
	svc.Wait()
	log.Info().Msg("server stopped")
}

func newEditor(cfg config.Config) (ai.Editor, error) {
	reg := ai.NewDefaultRegistry(cfg.FalAPIKey, cfg.FalModel, cfg.FalQueueURL, cfg.FalRestURL, cfg.FalPollInterval)
	return reg.Get(context.Background(), cfg.AIProvider, cfg.FalModel)
}
