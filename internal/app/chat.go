package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docstrat/internal/util"
	"docstrat/pkg/domain"
)

// GetChatHistory returns the owner's conversation for a document in
// chronological order.
func (a *App) GetChatHistory(ctx context.Context, documentID, ownerID string) ([]domain.ChatMessage, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, errors.New("document id required")
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner id required")
	}
	if _, err := a.GetDocument(ctx, documentID, ownerID); err != nil {
		return nil, err
	}
	return a.store.ListMessages(documentID, ownerID)
}

// SendMessage records the user's turn, generates a grounded answer from
// the document's chunks, and records the ai turn. The user turn is
// persisted before anything can fail, so it survives generation errors.
func (a *App) SendMessage(ctx context.Context, documentID, ownerID, message string) (domain.ChatResponse, error) {
	if strings.TrimSpace(documentID) == "" {
		return domain.ChatResponse{}, errors.New("document id required")
	}
	if strings.TrimSpace(ownerID) == "" {
		return domain.ChatResponse{}, errors.New("owner id required")
	}
	if strings.TrimSpace(message) == "" {
		return domain.ChatResponse{}, errors.New("message required")
	}

	document, err := a.GetDocument(ctx, documentID, ownerID)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	userMsg := domain.ChatMessage{
		ID:         util.NewID(),
		DocumentID: documentID,
		OwnerID:    ownerID,
		Role:       domain.RoleUser,
		Content:    message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return domain.ChatResponse{}, fmt.Errorf("store user message: %w", err)
	}

	chunks, err := a.store.ListChunks(documentID)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("get document chunks: %w", err)
	}
	if len(chunks) == 0 {
		return domain.ChatResponse{}, ErrDocumentProcessing
	}

	chunkTexts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		chunkTexts = append(chunkTexts, chunk.Content)
	}

	answer, err := a.GenerateAnswer(ctx, message, chunkTexts, document.FileName)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("generate answer: %w", err)
	}

	aiMsg := domain.ChatMessage{
		ID:         util.NewID(),
		DocumentID: documentID,
		OwnerID:    ownerID,
		Role:       domain.RoleAI,
		Content:    answer,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.AppendMessage(aiMsg); err != nil {
		return domain.ChatResponse{}, fmt.Errorf("store ai message: %w", err)
	}

	return domain.ChatResponse{
		Message:   answer,
		Timestamp: aiMsg.CreatedAt,
	}, nil
}

// DeleteChatHistory clears the owner's conversation for a document.
func (a *App) DeleteChatHistory(ctx context.Context, documentID, ownerID string) error {
	if _, err := a.GetDocument(ctx, documentID, ownerID); err != nil {
		return err
	}
	if err := a.store.DeleteMessages(documentID, ownerID); err != nil {
		return fmt.Errorf("delete chat history: %w", err)
	}
	return nil
}
