package app

import (
	"context"
	"fmt"
	"time"

	"docstrat/pkg/ai"
	"docstrat/pkg/storage"
	"docstrat/pkg/store"
)

// Scheduler enqueues a processing job for a document. The Redis-streams
// queue implements this in production; tests use SchedulerFunc.
type Scheduler interface {
	Enqueue(ctx context.Context, documentID string) error
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(ctx context.Context, documentID string) error

// Enqueue implements Scheduler.
func (f SchedulerFunc) Enqueue(ctx context.Context, documentID string) error {
	return f(ctx, documentID)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore

	Generator ai.TextGenerator
	Scheduler Scheduler

	ProcessTimeout time.Duration
}

// App is the core application service wiring together storage, the
// processing pipeline, and the chat assistant.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	generator      ai.TextGenerator
	scheduler      Scheduler
	processTimeout time.Duration
}

// New constructs the application. Objects, Generator, and Scheduler may
// be nil; the affected operations then degrade to their unavailable
// errors instead of failing startup.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	objects := cfg.Objects
	if objects == nil && cfg.MinioEndpoint != "" {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
	}

	processTimeout := cfg.ProcessTimeout
	if processTimeout <= 0 {
		processTimeout = 10 * time.Minute
	}

	return &App{
		store:          dataStore,
		objects:        objects,
		generator:      cfg.Generator,
		scheduler:      cfg.Scheduler,
		processTimeout: processTimeout,
	}, nil
}

// Store exposes the persistence layer for health reporting.
func (a *App) Store() store.Store { return a.store }

// StorageAvailable reports whether the blob store can serve requests.
func (a *App) StorageAvailable(ctx context.Context) bool {
	return a.objects != nil && a.objects.Available(ctx)
}

// AIConfigured reports whether a text generator is wired.
func (a *App) AIConfigured() bool { return a.generator != nil }
