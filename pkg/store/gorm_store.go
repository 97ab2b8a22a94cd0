package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docstrat/pkg/domain"
)

const migrateLockID int64 = 48124812

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}, &ChunkModel{}, &ChatMessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM documents_chunks c
				WHERE NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = c.document_id);
				DELETE FROM chat_history m
				WHERE NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = m.document_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'documents_chunks'
					AND constraint_name = 'documents_chunks_document_id_fkey'
				) THEN
					ALTER TABLE documents_chunks
					ADD CONSTRAINT documents_chunks_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chat_history'
					AND constraint_name = 'chat_history_document_id_fkey'
				) THEN
					ALTER TABLE chat_history
					ADD CONSTRAINT chat_history_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure document foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertUser registers a user on first sight and keeps the email current.
func (s *GormStore) UpsertUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "updated_at"}),
	}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	var stored UserModel
	if err := s.db.First(&stored, "id = ?", u.ID).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(stored), nil
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "file_name", "storage_key", "uploaded_at"}),
	}).Create(&model).Error
}

// ListDocumentsByOwner returns an owner's documents, newest first.
func (s *GormStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("uploaded_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// DeleteDocument removes a document, its chunks, and its chat history.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ChatMessageModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// InsertChunk persists a single chunk.
func (s *GormStore) InsertChunk(c domain.Chunk) error {
	model := chunkToModel(c)
	return s.db.Create(&model).Error
}

// DeleteChunks removes all chunks of a document.
func (s *GormStore) DeleteChunks(documentID string) error {
	return s.db.Delete(&ChunkModel{}, "document_id = ?", documentID).Error
}

// ListChunks returns the chunks of a document in index order.
func (s *GormStore) ListChunks(documentID string) ([]domain.Chunk, error) {
	var models []ChunkModel
	if err := s.db.Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, m := range models {
		chunks = append(chunks, chunkFromModel(m))
	}
	return chunks, nil
}

// CountChunks returns the number of chunks stored for a document.
func (s *GormStore) CountChunks(documentID string) (int, error) {
	var count int64
	if err := s.db.Model(&ChunkModel{}).Where("document_id = ?", documentID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// AppendMessage records a chat turn.
func (s *GormStore) AppendMessage(msg domain.ChatMessage) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns an owner's chat history for a document in chronological order.
func (s *GormStore) ListMessages(documentID, ownerID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.Where("document_id = ? AND owner_id = ?", documentID, ownerID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// DeleteMessages clears an owner's chat history for a document.
func (s *GormStore) DeleteMessages(documentID, ownerID string) error {
	return s.db.Delete(&ChatMessageModel{}, "document_id = ? AND owner_id = ?", documentID, ownerID).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	var storageKey *string
	if strings.TrimSpace(d.StorageKey) != "" {
		value := strings.TrimSpace(d.StorageKey)
		storageKey = &value
	}
	return DocumentModel{
		ID:         d.ID,
		OwnerID:    d.OwnerID,
		FileName:   d.FileName,
		StorageKey: storageKey,
		UploadedAt: d.UploadedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	storageKey := ""
	if m.StorageKey != nil {
		storageKey = strings.TrimSpace(*m.StorageKey)
	}
	return domain.Document{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		FileName:   m.FileName,
		StorageKey: storageKey,
		UploadedAt: m.UploadedAt,
	}
}

func chunkToModel(c domain.Chunk) ChunkModel {
	return ChunkModel{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		ChunkIndex: c.Index,
		Content:    c.Content,
		Embedding:  datatypes.JSON(c.Embedding),
		CreatedAt:  c.CreatedAt,
	}
}

func chunkFromModel(m ChunkModel) domain.Chunk {
	return domain.Chunk{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Index:      m.ChunkIndex,
		Content:    m.Content,
		Embedding:  []byte(m.Embedding),
		CreatedAt:  m.CreatedAt,
	}
}

func messageToModel(msg domain.ChatMessage) ChatMessageModel {
	return ChatMessageModel{
		ID:         msg.ID,
		DocumentID: msg.DocumentID,
		OwnerID:    msg.OwnerID,
		Role:       msg.Role,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
}

func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		OwnerID:    m.OwnerID,
		Role:       m.Role,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
