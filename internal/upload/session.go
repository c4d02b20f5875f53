package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"videoscope/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound means no live session record exists for the id.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrIncompleteUpload means reassembly was requested before every chunk
	// index arrived.
	ErrIncompleteUpload = errors.New("upload incomplete")
)

const DefaultSessionTTL = time.Hour

// Manager tracks chunk arrival per upload session and reassembles the final
// file. Chunk bytes live index-addressed under a per-session scratch dir;
// the session record lives in the shared RecordStore.
type Manager struct {
	store   RecordStore
	baseDir string
	ttl     time.Duration

	// Serializes the read-modify-write of a session record within this
	// process. Cross-instance arrivals for one session still dedupe through
	// the index set.
	mu sync.Mutex
}

// ChunkReceipt reports the session's state after one chunk arrival.
type ChunkReceipt struct {
	SessionID      string
	ChunkIndex     int
	ReceivedChunks int
	TotalChunks    int
	Progress       int
	Complete       bool
}

func NewManager(store RecordStore, baseDir string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{store: store, baseDir: baseDir, ttl: ttl}
}

// PutChunk persists one chunk and updates the session record. A missing
// sessionID mints a new session. Chunks may arrive out of order and may be
// retried; a duplicate index overwrites the bytes but never double-counts.
func (m *Manager) PutChunk(ctx context.Context, sessionID, filename string, chunkIndex, totalChunks int, r io.Reader) (*ChunkReceipt, error) {
	if chunkIndex < 0 || totalChunks <= 0 || chunkIndex >= totalChunks {
		return nil, fmt.Errorf("invalid chunk index %d of %d", chunkIndex, totalChunks)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var session *models.UploadSession
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else {
		existing, err := m.store.Load(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		session = existing
	}

	if session == nil {
		scratch := filepath.Join(m.baseDir, sessionID)
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
		session = &models.UploadSession{
			ID:          sessionID,
			Filename:    filepath.Base(filename),
			TotalChunks: totalChunks,
			ScratchDir:  scratch,
		}
	}

	if err := writeChunk(session.ScratchDir, chunkIndex, r); err != nil {
		return nil, err
	}

	if !session.Has(chunkIndex) {
		session.Received = append(session.Received, chunkIndex)
		sort.Ints(session.Received)
	}
	if err := m.store.Save(ctx, session, m.ttl); err != nil {
		return nil, err
	}

	return &ChunkReceipt{
		SessionID:      session.ID,
		ChunkIndex:     chunkIndex,
		ReceivedChunks: len(session.Received),
		TotalChunks:    session.TotalChunks,
		Progress:       session.Progress(),
		Complete:       session.Complete(),
	}, nil
}

// CompleteSession concatenates the chunk files strictly in index order and
// returns the absolute path of the reassembled file. The presence of every
// index is re-checked here: completion may be requested independently of the
// PutChunk completion signal.
func (m *Manager) CompleteSession(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}

	for i := 0; i < session.TotalChunks; i++ {
		if _, err := os.Stat(chunkPath(session.ScratchDir, i)); err != nil {
			return "", fmt.Errorf("%w: chunk %d missing", ErrIncompleteUpload, i)
		}
	}

	finalPath := filepath.Join(session.ScratchDir, session.Filename)
	out, err := os.Create(finalPath)
	if err != nil {
		return "", fmt.Errorf("create output: %w", err)
	}
	for i := 0; i < session.TotalChunks; i++ {
		chunk, err := os.Open(chunkPath(session.ScratchDir, i))
		if err != nil {
			out.Close()
			return "", fmt.Errorf("%w: chunk %d missing", ErrIncompleteUpload, i)
		}
		if _, err := io.Copy(out, chunk); err != nil {
			chunk.Close()
			out.Close()
			return "", fmt.Errorf("assemble chunk %d: %w", i, err)
		}
		chunk.Close()
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close output: %w", err)
	}

	abs, err := filepath.Abs(finalPath)
	if err != nil {
		return "", fmt.Errorf("resolve output: %w", err)
	}
	// The scratch dir stays: the assembled file lives there until the job's
	// lifetime ends, not the HTTP request's.
	return abs, nil
}

// Abandon drops a session record and its scratch directory.
func (m *Manager) Abandon(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	return os.RemoveAll(session.ScratchDir)
}

// StartSweeper periodically removes scratch directories whose session record
// has expired, so partial uploads that never complete do not leak disk.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.sweep(ctx); err != nil {
					log.Printf("upload sweep failed: %v", err)
				}
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) error {
	live, err := m.store.LiveIDs(ctx)
	if err != nil {
		return err
	}
	alive := make(map[string]struct{}, len(live))
	for _, id := range live {
		alive[id] = struct{}{}
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-m.ttl)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := alive[entry.Name()]; ok {
			continue
		}
		// A just-finished job may still be reading its assembled file from a
		// dir whose record expired; only sweep dirs idle past the TTL.
		if info, err := entry.Info(); err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("sweep remove %s: %v", dir, err)
		} else {
			log.Printf("swept abandoned upload session %s", entry.Name())
		}
	}
	return nil
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%d", index))
}

func writeChunk(dir string, index int, r io.Reader) error {
	f, err := os.Create(chunkPath(dir, index))
	if err != nil {
		return fmt.Errorf("create chunk %d: %w", index, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chunk %d: %w", index, err)
	}
	return nil
}
