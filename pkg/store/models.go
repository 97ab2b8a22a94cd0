package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

func (UserModel) TableName() string { return "users" }

type DocumentModel struct {
	ID         string    `gorm:"primaryKey"`
	OwnerID    string    `gorm:"not null;index"`
	FileName   string    `gorm:"not null"`
	StorageKey *string
	UploadedAt time.Time `gorm:"not null;index"`
}

func (DocumentModel) TableName() string { return "documents" }

type ChunkModel struct {
	ID         string         `gorm:"primaryKey"`
	DocumentID string         `gorm:"not null;index;uniqueIndex:idx_chunk_doc_index"`
	ChunkIndex int            `gorm:"not null;uniqueIndex:idx_chunk_doc_index"`
	Content    string         `gorm:"type:text;not null"`
	Embedding  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null"`
}

func (ChunkModel) TableName() string { return "documents_chunks" }

type ChatMessageModel struct {
	ID         string    `gorm:"primaryKey"`
	DocumentID string    `gorm:"not null;index"`
	OwnerID    string    `gorm:"not null;index"`
	Role       string    `gorm:"not null"`
	Content    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

func (ChatMessageModel) TableName() string { return "chat_history" }
