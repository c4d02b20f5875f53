package analysis

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"videoscope/internal/config"
	"videoscope/internal/models"
	"videoscope/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	svc, err := NewService(db)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func sampleAnalysis(filename string) *models.Analysis {
	docx := "/data/documents/" + filename + ".docx"
	return &models.Analysis{
		Filename:   filename,
		Transcript: "pour the slab and rough in the panel",
		ScopeItems: []models.ScopeItem{
			{Code: "03", Title: "Pour slab", Details: "Pour and finish the garage slab"},
			{Code: "26", Title: "Panel rough-in", Details: "Rough in the 200A panel"},
		},
		ProjectSummary: models.ProjectSummary{
			Overview:        "Garage renovation",
			KeyRequirements: []string{"200A service"},
		},
		FileSizeMB: 42.5,
		Documents:  models.DocumentSet{Docx: &docx},
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	record := sampleAnalysis("walkthrough.mp4")
	if err := svc.Create(ctx, record); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.ID == "" || record.CreatedAt.IsZero() {
		t.Fatalf("Create did not mint id/timestamp: %#v", record)
	}

	got, err := svc.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Filename != record.Filename || got.Transcript != record.Transcript {
		t.Fatalf("round trip mismatch: %#v", got)
	}
	if len(got.ScopeItems) != 2 || got.ScopeItems[1].Code != "26" {
		t.Fatalf("scope items mismatch: %#v", got.ScopeItems)
	}
	if got.ProjectSummary.Overview != "Garage renovation" {
		t.Fatalf("summary mismatch: %#v", got.ProjectSummary)
	}
	if got.Documents.Docx == nil || *got.Documents.Docx != *record.Documents.Docx {
		t.Fatalf("documents mismatch: %#v", got.Documents)
	}
	if got.Documents.PDF != nil {
		t.Fatalf("expected nil pdf reference, got %v", *got.Documents.PDF)
	}
}

func TestListNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	older := sampleAnalysis("first.mp4")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := sampleAnalysis("second.mp4")
	newer.CreatedAt = time.Now().UTC()
	if err := svc.Create(ctx, older); err != nil {
		t.Fatalf("Create older: %v", err)
	}
	if err := svc.Create(ctx, newer); err != nil {
		t.Fatalf("Create newer: %v", err)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 analyses, got %d", len(list))
	}
	if list[0].Filename != "second.mp4" || list[1].Filename != "first.mp4" {
		t.Fatalf("list not newest-first: %s, %s", list[0].Filename, list[1].Filename)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	record := sampleAnalysis("walkthrough.mp4")
	if err := svc.Create(ctx, record); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, record.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestDuplicateFilenamesAccepted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Re-analyzing the same video produces an independent record.
	first := sampleAnalysis("walkthrough.mp4")
	second := sampleAnalysis("walkthrough.mp4")
	if err := svc.Create(ctx, first); err != nil {
		t.Fatalf("Create first: %v", err)
	}
	if err := svc.Create(ctx, second); err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct ids for duplicate filenames")
	}
	list, err := svc.List(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("List: %v (%d records)", err, len(list))
	}
}

func TestNewServiceRequiresDB(t *testing.T) {
	if _, err := NewService((*sql.DB)(nil)); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
