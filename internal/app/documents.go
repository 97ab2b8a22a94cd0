package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docstrat/internal/util"
	"docstrat/pkg/domain"
)

// CreateDocument uploads the file to blob storage, records the document,
// and enqueues background processing. The returned document is in the
// "processing" state until chunks exist.
func (a *App) CreateDocument(ctx context.Context, ownerID, fileName string, content io.Reader) (domain.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Document{}, errors.New("owner id required")
	}
	if strings.TrimSpace(fileName) == "" {
		return domain.Document{}, errors.New("file name required")
	}
	if content == nil {
		return domain.Document{}, errors.New("file content required")
	}
	if !a.StorageAvailable(ctx) {
		return domain.Document{}, ErrStorageUnavailable
	}

	doc := domain.Document{
		ID:         util.NewID(),
		OwnerID:    ownerID,
		FileName:   filepath.Base(fileName),
		StorageKey: buildStorageKey(fileName),
		UploadedAt: time.Now().UTC(),
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, doc.StorageKey, content, -1, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		// The blob has no owning row; remove it so storage does not leak.
		if cleanupErr := a.objects.Delete(ctx, doc.StorageKey); cleanupErr != nil {
			util.LoggerFromContext(ctx).Warn("cleanup orphaned blob failed",
				"storage_key", doc.StorageKey, "error", cleanupErr)
		}
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}

	if a.scheduler == nil {
		util.LoggerFromContext(ctx).Warn("no scheduler configured, document stays processing until reprocess",
			"document_id", doc.ID)
		return doc, nil
	}
	if err := a.scheduler.Enqueue(ctx, doc.ID); err != nil {
		// Upload already succeeded; the document stays processing and can
		// be recovered via reprocess.
		util.LoggerFromContext(ctx).Error("enqueue processing job failed",
			"document_id", doc.ID, "error", err)
	}
	return doc, nil
}

// GetDocuments returns the owner's documents, newest first.
func (a *App) GetDocuments(ctx context.Context, ownerID string) ([]domain.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner id required")
	}
	return a.store.ListDocumentsByOwner(ownerID)
}

// GetDocument retrieves a document scoped to its owner. A document owned
// by someone else is indistinguishable from a missing one.
func (a *App) GetDocument(ctx context.Context, id, ownerID string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok || doc.OwnerID != ownerID {
		return domain.Document{}, ErrNotFound
	}
	return doc, nil
}

// DeleteDocument removes the document row (cascading to chunks and chat
// history) and then best-effort deletes the blob.
func (a *App) DeleteDocument(ctx context.Context, id, ownerID string) error {
	doc, err := a.GetDocument(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if doc.StorageKey != "" && a.objects != nil {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			util.LoggerFromContext(ctx).Warn("delete blob failed",
				"storage_key", doc.StorageKey, "error", err)
		}
	}
	return nil
}

// GetDocumentChunks returns a document's chunks ordered by index.
func (a *App) GetDocumentChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	return a.store.ListChunks(documentID)
}

// DocumentStatus reports whether a document is ready for chat.
func (a *App) DocumentStatus(ctx context.Context, id, ownerID string) (domain.DocumentStatus, int, error) {
	doc, err := a.GetDocument(ctx, id, ownerID)
	if err != nil {
		return "", 0, err
	}
	count, err := a.store.CountChunks(doc.ID)
	if err != nil {
		return "", 0, fmt.Errorf("count chunks: %w", err)
	}
	if count == 0 {
		return domain.StatusProcessing, 0, nil
	}
	return domain.StatusReady, count, nil
}

// ReprocessDocument clears existing chunks and runs the pipeline
// synchronously. Useful for documents stuck without chunks.
func (a *App) ReprocessDocument(ctx context.Context, id, ownerID string) error {
	doc, err := a.GetDocument(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteChunks(doc.ID); err != nil {
		util.LoggerFromContext(ctx).Warn("delete existing chunks failed",
			"document_id", doc.ID, "error", err)
	}
	a.ProcessDocument(ctx, doc)
	return nil
}

// collectComparison validates comparison inputs and gathers per-document
// chunk texts. Documents without chunks get a single placeholder entry.
func (a *App) collectComparison(ctx context.Context, documentIDs []string, ownerID string) ([]domain.Document, [][]string, error) {
	if len(documentIDs) < 2 {
		return nil, nil, errors.New("at least 2 documents are required for comparison")
	}
	if len(documentIDs) > 5 {
		return nil, nil, errors.New("maximum 5 documents can be compared at once")
	}

	documents := make([]domain.Document, 0, len(documentIDs))
	documentsChunks := make([][]string, 0, len(documentIDs))
	for _, docID := range documentIDs {
		doc, err := a.GetDocument(ctx, docID, ownerID)
		if err != nil {
			return nil, nil, fmt.Errorf("document %s not found or access denied: %w", docID, err)
		}
		documents = append(documents, doc)

		chunks, err := a.store.ListChunks(doc.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("get chunks for document %s: %w", docID, err)
		}
		chunkTexts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			chunkTexts = append(chunkTexts, chunk.Content)
		}
		if len(chunkTexts) == 0 {
			chunkTexts = []string{fmt.Sprintf("Document '%s' content is not available for comparison", doc.FileName)}
		}
		documentsChunks = append(documentsChunks, chunkTexts)
	}
	return documents, documentsChunks, nil
}

func buildStorageKey(fileName string) string {
	name := sanitizeFilename(filepath.Base(fileName))
	if name == "" {
		name = "document"
	}
	return path.Join("documents", fmt.Sprintf("%d_%s", time.Now().Unix(), name))
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
