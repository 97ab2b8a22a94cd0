package store

import (
	"docstrat/pkg/domain"
)

// Store defines persistence operations for users, documents, chunks, and chat.
type Store interface {
	// users
	UpsertUser(domain.User) (domain.User, error)
	GetUser(id string) (domain.User, bool, error)

	// documents
	SaveDocument(domain.Document) error
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	GetDocument(id string) (domain.Document, bool, error)
	DeleteDocument(id string) error

	// chunks
	InsertChunk(domain.Chunk) error
	DeleteChunks(documentID string) error
	ListChunks(documentID string) ([]domain.Chunk, error)
	CountChunks(documentID string) (int, error)

	// chat
	AppendMessage(domain.ChatMessage) error
	ListMessages(documentID, ownerID string) ([]domain.ChatMessage, error)
	DeleteMessages(documentID, ownerID string) error
}
