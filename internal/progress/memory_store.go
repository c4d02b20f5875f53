package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"videoscope/internal/models"
)

// MemoryStore is a process-local Store with the same semantics as the redis
// implementation: per-job records with expiry and ordered per-subscriber
// event channels. It backs tests and single-instance deployments without a
// reachable redis.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*memoryRecord
	subs   map[string][]chan []byte
	leases map[string]memoryLease
}

type memoryRecord struct {
	fields    map[string]string
	expiresAt time.Time
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*memoryRecord),
		subs:   make(map[string][]chan []byte),
		leases: make(map[string]memoryLease),
	}
}

func (s *MemoryStore) Publish(ctx context.Context, jobID string, pct int, msg string, extra map[string]string) error {
	status := statusFromExtra(extra)

	event := map[string]interface{}{
		"type": models.EventProgress,
		"pct":  pct,
		"msg":  msg,
	}
	for k, v := range extra {
		event[k] = v
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("publish marshal: %w", err)
	}

	s.mu.Lock()
	rec := s.record(jobID)
	rec.fields["pct"] = fmt.Sprintf("%d", pct)
	rec.fields["msg"] = msg
	rec.fields["status"] = status
	rec.expiresAt = time.Now().Add(jobTTL)
	subs := append([]chan []byte(nil), s.subs[jobID]...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
			// Slow subscriber loses the event; its snapshot re-read is the
			// correctness backstop.
		}
	}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok || time.Now().After(rec.expiresAt) {
		delete(s.jobs, jobID)
		return nil, ErrJobNotFound
	}
	fields := make(map[string]string, len(rec.fields))
	for k, v := range rec.fields {
		fields[k] = v
	}
	return jobFromFields(jobID, fields), nil
}

func (s *MemoryStore) SetFilePath(ctx context.Context, jobID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	rec.fields["file_path"] = path
	rec.expiresAt = time.Now().Add(jobTTL)
	return nil
}

func (s *MemoryStore) SetResult(ctx context.Context, jobID, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(jobID)
	rec.fields["status"] = string(models.StatusCompleted)
	rec.fields["result"] = result
	rec.expiresAt = time.Now().Add(jobTTL)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, jobID string) (Stream, error) {
	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.subs[jobID] = append(s.subs[jobID], ch)
	s.mu.Unlock()
	return &memoryStream{store: s, jobID: jobID, ch: ch}, nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, jobID, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lease, ok := s.leases[jobID]; ok && time.Now().Before(lease.expiresAt) {
		return false, nil
	}
	s.leases[jobID] = memoryLease{token: token, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, jobID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lease, ok := s.leases[jobID]; ok && lease.token == token {
		delete(s.leases, jobID)
	}
	return nil
}

// record returns the job's record, creating it if needed. Caller holds mu.
func (s *MemoryStore) record(jobID string) *memoryRecord {
	rec, ok := s.jobs[jobID]
	if !ok || time.Now().After(rec.expiresAt) {
		rec = &memoryRecord{fields: make(map[string]string)}
		s.jobs[jobID] = rec
	}
	return rec
}

func (s *MemoryStore) unsubscribe(jobID string, ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[jobID]
	for i, sub := range subs {
		if sub == ch {
			s.subs[jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subs[jobID]) == 0 {
		delete(s.subs, jobID)
	}
}

type memoryStream struct {
	store *MemoryStore
	jobID string
	ch    chan []byte

	closeOnce sync.Once
}

func (m *memoryStream) Next(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-m.ch:
		return payload, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (m *memoryStream) Close() error {
	m.closeOnce.Do(func() {
		m.store.unsubscribe(m.jobID, m.ch)
	})
	return nil
}
