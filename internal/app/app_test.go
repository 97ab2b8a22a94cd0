package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"docstrat/pkg/domain"
	"docstrat/pkg/storage"
	"docstrat/pkg/store"
)

type fakeGenerator struct {
	mu         sync.Mutex
	response   string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	if f.response == "" {
		return "generated answer", nil
	}
	return f.response, nil
}

type testEnv struct {
	app       *App
	store     *store.MemoryStore
	objects   *storage.MemoryObjectStore
	generator *fakeGenerator
	enqueued  []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     store.NewMemoryStore(),
		objects:   storage.NewMemoryObjectStore(),
		generator: &fakeGenerator{},
	}
	a, err := New(Config{
		Store:     env.store,
		Objects:   env.objects,
		Generator: env.generator,
		Scheduler: SchedulerFunc(func(ctx context.Context, documentID string) error {
			env.enqueued = append(env.enqueued, documentID)
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

// failingSaveStore simulates a DB insert failure on document creation.
type failingSaveStore struct {
	*store.MemoryStore
}

func (f *failingSaveStore) SaveDocument(d domain.Document) error {
	return fmt.Errorf("simulated insert failure")
}
