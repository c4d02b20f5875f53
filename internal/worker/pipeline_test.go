package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"videoscope/internal/models"
	"videoscope/internal/progress"
)

func TestPipelineSuccessSequence(t *testing.T) {
	store := progress.NewMemoryStore()
	writer := newFakeWriter()
	manager := NewManager(store, writer, Collaborators{
		Convert:    &fakeConverter{},
		Transcribe: &fakeTranscriber{text: "we need to pour the slab next week"},
		Parse:      &fakeParser{},
		Render:     &fakeRenderer{},
	}, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	ctx := context.Background()
	jobID := "job-ok"
	seedInputFile(t, store, jobID, "walkthrough.mp4", 16)

	stream, err := store.Subscribe(ctx, jobID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.Close()

	if err := manager.Enqueue(ctx, jobID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	events := collectUntilTerminal(t, stream)
	wantPcts := []int{0, 10, 45, 70, 75, 90, 95, 100}
	if got := eventPcts(events); !equalInts(got, wantPcts) {
		t.Fatalf("event sequence mismatch: got %v want %v", got, wantPcts)
	}
	last := events[len(events)-1]
	if last.Status != string(models.StatusCompleted) || last.Message != "Done" {
		t.Fatalf("unexpected final event: %#v", last)
	}

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	var result struct {
		Transcript string             `json:"transcript"`
		ScopeItems []models.ScopeItem `json:"scope_items"`
	}
	if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Transcript == "" || len(result.ScopeItems) != 1 {
		t.Fatalf("unexpected result payload: %s", job.Result)
	}

	records := writer.records()
	if len(records) != 1 {
		t.Fatalf("expected one persisted analysis, got %d", len(records))
	}
	if records[0].Filename != "walkthrough.mp4" || records[0].ID == "" {
		t.Fatalf("unexpected analysis record: %#v", records[0])
	}
}

func TestPipelineRunsConversionForMOV(t *testing.T) {
	store := progress.NewMemoryStore()
	converter := &fakeConverter{}
	manager := NewManager(store, newFakeWriter(), Collaborators{
		Convert:    converter,
		Transcribe: &fakeTranscriber{text: "transcript"},
		Parse:      &fakeParser{},
		Render:     &fakeRenderer{},
	}, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	ctx := context.Background()
	jobID := "job-mov"
	seedInputFile(t, store, jobID, "walkthrough.mov", 16)

	stream, _ := store.Subscribe(ctx, jobID)
	defer stream.Close()
	if err := manager.Enqueue(ctx, jobID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	events := collectUntilTerminal(t, stream)
	wantPcts := []int{0, 10, 25, 40, 45, 70, 75, 90, 95, 100}
	if got := eventPcts(events); !equalInts(got, wantPcts) {
		t.Fatalf("event sequence mismatch: got %v want %v", got, wantPcts)
	}
	if !converter.converted {
		t.Fatalf("converter was not invoked for .mov input")
	}
}

func TestPipelineCompressesOversizedInput(t *testing.T) {
	store := progress.NewMemoryStore()
	converter := &fakeConverter{}
	manager := NewManager(store, newFakeWriter(), Collaborators{
		Convert:    converter,
		Transcribe: &fakeTranscriber{text: "transcript"},
		Parse:      &fakeParser{},
		Render:     &fakeRenderer{},
	}, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4, MaxUploadMB: 1})

	ctx := context.Background()
	jobID := "job-big"
	seedInputFile(t, store, jobID, "walkthrough.mp4", 2<<20)

	stream, _ := store.Subscribe(ctx, jobID)
	defer stream.Close()
	if err := manager.Enqueue(ctx, jobID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	collectUntilTerminal(t, stream)

	if !converter.compressed {
		t.Fatalf("oversized input was not compressed")
	}
}

func TestPipelineTranscriptionFailure(t *testing.T) {
	store := progress.NewMemoryStore()
	writer := newFakeWriter()
	manager := NewManager(store, writer, Collaborators{
		Convert:    &fakeConverter{},
		Transcribe: &fakeTranscriber{err: errors.New("whisper unavailable")},
		Parse:      &fakeParser{},
		Render:     &fakeRenderer{},
	}, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	ctx := context.Background()
	jobID := "job-bad-audio"
	seedInputFile(t, store, jobID, "walkthrough.mp4", 16)

	stream, _ := store.Subscribe(ctx, jobID)
	defer stream.Close()
	if err := manager.Enqueue(ctx, jobID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	events := collectUntilTerminal(t, stream)
	last := events[len(events)-1]
	if last.Status != string(models.StatusFailed) || last.Percent != 45 {
		t.Fatalf("unexpected terminal event: %#v", last)
	}
	if !strings.Contains(last.Message, "Transcription failed") {
		t.Fatalf("unexpected failure message: %q", last.Message)
	}
	if len(writer.records()) != 0 {
		t.Fatalf("failed job must not persist an analysis")
	}
}

func TestPipelineMissingInputFile(t *testing.T) {
	store := progress.NewMemoryStore()
	manager := NewManager(store, newFakeWriter(), Collaborators{
		Convert:    &fakeConverter{},
		Transcribe: &fakeTranscriber{text: "transcript"},
		Parse:      &fakeParser{},
		Render:     &fakeRenderer{},
	}, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	ctx := context.Background()
	jobID := "job-no-file"
	// No SetFilePath: the job record exists but points nowhere.
	stream, _ := store.Subscribe(ctx, jobID)
	defer stream.Close()
	if err := manager.Enqueue(ctx, jobID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	events := collectUntilTerminal(t, stream)
	last := events[len(events)-1]
	if last.Status != string(models.StatusFailed) || !strings.Contains(last.Message, "Input file missing") {
		t.Fatalf("unexpected terminal event: %#v", last)
	}
}

func TestPipelineDocumentFailureDegrades(t *testing.T) {
	store := progress.NewMemoryStore()
	writer := newFakeWriter()
	manager := NewManager(store, writer, Collaborators{
		Convert:    &fakeConverter{},
		Transcribe: &fakeTranscriber{text: "transcript"},
		Parse:      &fakeParser{},
		Render:     &fakeRenderer{err: errors.New("disk full")},
	}, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	ctx := context.Background()
	jobID := "job-no-docs"
	seedInputFile(t, store, jobID, "walkthrough.mp4", 16)

	stream, _ := store.Subscribe(ctx, jobID)
	defer stream.Close()
	if err := manager.Enqueue(ctx, jobID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	events := collectUntilTerminal(t, stream)
	last := events[len(events)-1]
	if last.Status != string(models.StatusCompleted) {
		t.Fatalf("document failure must not fail the job: %#v", last)
	}

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	var result struct {
		Documents models.DocumentSet `json:"documents"`
	}
	if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Documents.Docx != nil || result.Documents.PDF != nil {
		t.Fatalf("expected null document references, got %#v", result.Documents)
	}

	records := writer.records()
	if len(records) != 1 {
		t.Fatalf("degraded job should still persist an analysis")
	}
}

func TestLeaseBlocksDuplicateRun(t *testing.T) {
	store := progress.NewMemoryStore()
	writer := newFakeWriter()
	manager := NewManager(store, writer, Collaborators{
		Convert:    &fakeConverter{},
		Transcribe: &fakeTranscriber{text: "transcript"},
		Parse:      &fakeParser{},
		Render:     &fakeRenderer{},
	}, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})

	ctx := context.Background()
	jobID := "job-leased"
	seedInputFile(t, store, jobID, "walkthrough.mp4", 16)

	// Simulate another instance holding the write lease.
	if ok, err := store.AcquireLease(ctx, jobID, "other-instance", time.Minute); err != nil || !ok {
		t.Fatalf("seed lease: ok=%v err=%v", ok, err)
	}

	if err := manager.Enqueue(ctx, jobID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The delivery is dropped without publishing any stage beyond Queued.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(ctx, jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Percent > 0 {
			t.Fatalf("pipeline ran despite held lease: %#v", job)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(writer.records()) != 0 {
		t.Fatalf("leased-out run must not persist an analysis")
	}
}

// --- helpers ---

func seedInputFile(t *testing.T, store progress.Store, jobID, name string, size int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write input file: %v", err)
	}
	if err := store.SetFilePath(context.Background(), jobID, path); err != nil {
		t.Fatalf("SetFilePath: %v", err)
	}
}

func collectUntilTerminal(t *testing.T, stream progress.Stream) []models.ProgressEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []models.ProgressEvent
	for {
		payload, ok, err := stream.Next(ctx, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("stream ended early after %d events: %v", len(events), err)
		}
		if !ok {
			continue
		}
		var event models.ProgressEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		events = append(events, event)
		if event.Status == string(models.StatusCompleted) || event.Status == string(models.StatusFailed) {
			return events
		}
	}
}

func eventPcts(events []models.ProgressEvent) []int {
	pcts := make([]int, 0, len(events))
	for _, event := range events {
		pcts = append(pcts, event.Percent)
	}
	return pcts
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type fakeConverter struct {
	converted  bool
	compressed bool
}

func (f *fakeConverter) NeedsConversion(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mov")
}

func (f *fakeConverter) ConvertToMP4(ctx context.Context, path string) (string, error) {
	f.converted = true
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
	if err := os.WriteFile(out, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (f *fakeConverter) CompressAudio(ctx context.Context, path string, maxSizeMB int) (string, error) {
	f.compressed = true
	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_compressed.mp3"
	if err := os.WriteFile(out, []byte("mp3"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeParser struct {
	err error
}

func (f *fakeParser) Parse(ctx context.Context, transcript string, mapping map[string]string) (*models.ScopeAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ScopeAnalysis{
		Items: []models.ScopeItem{
			{Code: "03", Title: "Pour slab", Details: "Pour the concrete slab"},
		},
		Summary: models.ProjectSummary{Overview: "Slab work"},
	}, nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, jobName string, analysis *models.ScopeAnalysis) (*models.DocumentSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	docx := "/tmp/" + jobName + ".docx"
	pdf := "/tmp/" + jobName + ".pdf"
	return &models.DocumentSet{Docx: &docx, PDF: &pdf}, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	rows []*models.Analysis
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{}
}

func (f *fakeWriter) Create(ctx context.Context, a *models.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, a)
	return nil
}

func (f *fakeWriter) records() []*models.Analysis {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Analysis(nil), f.rows...)
}
