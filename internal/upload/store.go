package upload

import (
	"context"
	"sync"
	"time"

	"videoscope/internal/models"
)

// RecordStore persists upload session records. Sessions are keyed by an
// opaque id and expire TTL after their last write so abandoned transfers
// do not accumulate.
type RecordStore interface {
	Save(ctx context.Context, session *models.UploadSession, ttl time.Duration) error
	Load(ctx context.Context, id string) (*models.UploadSession, error)
	Delete(ctx context.Context, id string) error
	// LiveIDs lists ids with a live record, for the scratch-dir sweeper.
	LiveIDs(ctx context.Context) ([]string, error)
}

// MemoryStore keeps session records in-process. Single-instance only.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
}

type memorySession struct {
	session   models.UploadSession
	received  []int
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memorySession)}
}

func (s *MemoryStore) Save(ctx context.Context, session *models.UploadSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = memorySession{
		session:   *session,
		received:  append([]int(nil), session.Received...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	session := entry.session
	session.Received = append([]int(nil), entry.received...)
	return &session, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) LiveIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	ids := make([]string, 0, len(s.sessions))
	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
