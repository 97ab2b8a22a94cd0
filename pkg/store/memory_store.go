package store

import (
	"fmt"
	"sort"
	"sync"

	"docstrat/pkg/domain"
)

// MemoryStore keeps all records in-process. It is used by tests and by
// local development runs without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User
	docs   map[string]domain.Document
	chunks map[string][]domain.Chunk      // key: document ID
	chats  map[string][]domain.ChatMessage // key: document ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]domain.User),
		docs:   make(map[string]domain.Document),
		chunks: make(map[string][]domain.Chunk),
		chats:  make(map[string][]domain.ChatMessage),
	}
}

// UpsertUser registers a user on first sight and keeps the email current.
func (m *MemoryStore) UpsertUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		existing.Email = u.Email
		m.users[u.ID] = existing
		return existing, nil
	}
	m.users[u.ID] = u
	return u, nil
}

// GetUser returns a user by ID.
func (m *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveDocument stores or replaces a document record.
func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = d
	return nil
}

// ListDocumentsByOwner returns an owner's documents, newest first.
func (m *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, d := range m.docs {
		if d.OwnerID == ownerID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

// GetDocument retrieves a document by ID.
func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

// DeleteDocument removes a document, its chunks, and its chat history.
func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	delete(m.chunks, id)
	delete(m.chats, id)
	return nil
}

// InsertChunk appends a chunk, rejecting duplicate indices like the
// composite unique index in Postgres does.
func (m *MemoryStore) InsertChunk(c domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.chunks[c.DocumentID] {
		if existing.Index == c.Index {
			return fmt.Errorf("duplicate chunk index %d for document %s", c.Index, c.DocumentID)
		}
	}
	m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], c)
	return nil
}

// DeleteChunks removes all chunks of a document.
func (m *MemoryStore) DeleteChunks(documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

// ListChunks returns the chunks of a document in index order.
func (m *MemoryStore) ListChunks(documentID string) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Chunk, len(m.chunks[documentID]))
	copy(res, m.chunks[documentID])
	sort.Slice(res, func(i, j int) bool { return res[i].Index < res[j].Index })
	return res, nil
}

// CountChunks returns the number of chunks stored for a document.
func (m *MemoryStore) CountChunks(documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[documentID]), nil
}

// AppendMessage records a chat turn.
func (m *MemoryStore) AppendMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[msg.DocumentID] = append(m.chats[msg.DocumentID], msg)
	return nil
}

// ListMessages returns an owner's chat history for a document in order.
func (m *MemoryStore) ListMessages(documentID, ownerID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatMessage, 0)
	for _, msg := range m.chats[documentID] {
		if msg.OwnerID == ownerID {
			res = append(res, msg)
		}
	}
	return res, nil
}

// DeleteMessages clears an owner's chat history for a document.
func (m *MemoryStore) DeleteMessages(documentID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chats[documentID][:0]
	for _, msg := range m.chats[documentID] {
		if msg.OwnerID != ownerID {
			kept = append(kept, msg)
		}
	}
	m.chats[documentID] = kept
	return nil
}
