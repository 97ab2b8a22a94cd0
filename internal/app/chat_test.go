package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"docstrat/pkg/domain"
)

func readyDocument(t *testing.T, env *testEnv, owner string) domain.Document {
	t.Helper()
	doc, err := env.app.CreateDocument(context.Background(), owner, "plan.txt", strings.NewReader("market analysis content"))
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	env.app.ProcessDocument(context.Background(), doc)
	return doc
}

func TestSendMessageStillProcessingKeepsUserTurn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.app.CreateDocument(ctx, "u1", "plan.txt", strings.NewReader("content"))
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	_, err = env.app.SendMessage(ctx, doc.ID, "u1", "what does it say?")
	if !errors.Is(err, ErrDocumentProcessing) {
		t.Fatalf("expected ErrDocumentProcessing, got %v", err)
	}

	history, _ := env.store.ListMessages(doc.ID, "u1")
	if len(history) != 1 || history[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user turn persisted, got %+v", history)
	}
	if env.generator.calls != 0 {
		t.Fatalf("generator should not be called while processing, calls=%d", env.generator.calls)
	}
}

func TestSendMessageAppendsBothTurns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := readyDocument(t, env, "u1")

	env.generator.response = "the plan targets market expansion"
	resp, err := env.app.SendMessage(ctx, doc.ID, "u1", "what is the goal?")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if resp.Message != "the plan targets market expansion" {
		t.Fatalf("unexpected response message %q", resp.Message)
	}

	history, _ := env.store.ListMessages(doc.ID, "u1")
	if len(history) != 2 {
		t.Fatalf("expected user + ai turns, got %d", len(history))
	}
	if history[0].Role != domain.RoleUser || history[1].Role != domain.RoleAI {
		t.Fatalf("unexpected turn order: %s then %s", history[0].Role, history[1].Role)
	}
	if history[1].Content != resp.Message {
		t.Fatalf("ai turn content mismatch: %q vs %q", history[1].Content, resp.Message)
	}
}

func TestSendMessageUserTurnSurvivesGenerationFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := readyDocument(t, env, "u1")

	env.generator.err = fmt.Errorf("model overloaded")
	if _, err := env.app.SendMessage(ctx, doc.ID, "u1", "summarize"); err == nil {
		t.Fatal("expected generation failure")
	}

	history, _ := env.store.ListMessages(doc.ID, "u1")
	if len(history) != 1 || history[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user turn after failure, got %+v", history)
	}
}

func TestGetChatHistoryChronological(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := readyDocument(t, env, "u1")

	for i := 0; i < 3; i++ {
		if _, err := env.app.SendMessage(ctx, doc.ID, "u1", fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("send message %d: %v", i, err)
		}
	}

	history, err := env.app.GetChatHistory(ctx, doc.ID, "u1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("expected 6 turns, got %d", len(history))
	}
	for i := 0; i < len(history)-1; i++ {
		if history[i].CreatedAt.After(history[i+1].CreatedAt) {
			t.Fatalf("history not chronological at %d", i)
		}
	}
}

func TestDeleteChatHistoryScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := readyDocument(t, env, "u1")

	if _, err := env.app.SendMessage(ctx, doc.ID, "u1", "hello"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if err := env.app.DeleteChatHistory(ctx, doc.ID, "u1"); err != nil {
		t.Fatalf("delete history: %v", err)
	}
	history, _ := env.app.GetChatHistory(ctx, doc.ID, "u1")
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}
