package domain

import "time"

// DocumentStatus is derived from chunk presence, never stored.
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
)

// Chat message roles.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	FileName   string    `json:"file_name"`
	StorageKey string    `json:"-"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
}

// ChatResponse is the answer returned for one chat turn.
type ChatResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Comparison is the structured result of a multi-document comparison.
// It is assembled per request and never persisted.
type Comparison struct {
	Documents    []Document `json:"documents"`
	Summary      string     `json:"summary"`
	Similarities []string   `json:"similarities"`
	Differences  []string   `json:"differences"`
	KeyThemes    []string   `json:"key_themes"`
	Insights     []string   `json:"insights"`
	ComparedAt   time.Time  `json:"compared_at"`
}
