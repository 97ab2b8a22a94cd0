package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docstrat/internal/app"
	"docstrat/internal/config"
	"docstrat/internal/ratelimit"
	"docstrat/internal/server"
	"docstrat/internal/usertoken"
	"docstrat/internal/util"
	"docstrat/pkg/ai"
	"docstrat/pkg/queue"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	generator := buildGenerator(cfg)
	if generator == nil {
		slog.Warn("ai generator not configured, chat and comparison disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// appCore is assigned before the server starts; the scheduler
	// closures only run while requests are being served.
	var appCore *app.App
	var scheduler app.Scheduler
	var jobQueue *queue.RedisJobQueue
	var chatLimiter, compareLimiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		jobQueue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     defaultString(cfg.QueueName, "docstrat:documents"),
			Group:      defaultString(cfg.QueueGroup, "processors"),
			MaxRetries: cfg.QueueMaxRetries,
		})
		if err != nil {
			log.Fatalf("failed to init job queue: %v", err)
		}
		scheduler = app.SchedulerFunc(func(ctx context.Context, documentID string) error {
			_, err := jobQueue.Enqueue(ctx, documentID)
			return err
		})

		if cfg.RateLimitPerMinute > 0 {
			newLimiter := func(name string) *ratelimit.FixedWindowLimiter {
				limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "docstrat:ratelimit:"+name, cfg.RateLimitPerMinute, time.Minute)
				if err != nil {
					log.Fatalf("failed to init %s rate limiter: %v", name, err)
				}
				return limiter
			}
			chatLimiter = newLimiter("chat")
			compareLimiter = newLimiter("compare")
		}
	} else {
		slog.Warn("redis not configured, documents are processed inline and rate limiting is disabled")
		scheduler = app.SchedulerFunc(func(ctx context.Context, documentID string) error {
			go func() {
				if err := appCore.ProcessDocumentByID(context.WithoutCancel(ctx), documentID); err != nil {
					slog.Error("inline document processing failed", "document_id", documentID, "err", err)
				}
			}()
			return nil
		})
	}

	appCore, err = app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		Generator:      generator,
		Scheduler:      scheduler,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	if jobQueue != nil {
		jobQueue.Start(ctx, cfg.QueueConcurrency, func(ctx context.Context, job queue.JobStatus) error {
			return appCore.ProcessDocumentByID(ctx, job.DocumentID)
		})
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		ChatLimiter:    chatLimiter,
		CompareLimiter: compareLimiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("docstrat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildGenerator(cfg config.FileConfig) ai.TextGenerator {
	model := cfg.AIModel
	switch strings.TrimSpace(cfg.AIProvider) {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.AIAPIKey)
		if err != nil {
			slog.Warn("gemini client unavailable", "err", err)
			return nil
		}
		return ai.NewGeminiGenerator(client, model)
	case "ollama":
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.AIBaseURL), model)
	case "openai":
		return ai.NewOpenAICompatGenerator(cfg.AIBaseURL, cfg.AIAPIKey, model)
	default:
		return nil
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
