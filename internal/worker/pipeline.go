package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videoscope/internal/models"
	"videoscope/internal/progress"

	"github.com/google/uuid"
)

// Collaborator boundaries. The pipeline only sees typed inputs and outputs;
// conversion, transcription, scope extraction and rendering are external
// services behind these interfaces.

type Converter interface {
	NeedsConversion(path string) bool
	ConvertToMP4(ctx context.Context, path string) (string, error)
	// CompressAudio shrinks the input under maxSizeMB for the transcription
	// service's upload limit.
	CompressAudio(ctx context.Context, path string, maxSizeMB int) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type ScopeParser interface {
	Parse(ctx context.Context, transcript string, mapping map[string]string) (*models.ScopeAnalysis, error)
}

type DocumentRenderer interface {
	Render(ctx context.Context, jobName string, analysis *models.ScopeAnalysis) (*models.DocumentSet, error)
}

type AnalysisWriter interface {
	Create(ctx context.Context, a *models.Analysis) error
}

// Collaborators bundles the external stage implementations.
type Collaborators struct {
	Convert    Converter
	Transcribe Transcriber
	Parse      ScopeParser
	Render     DocumentRenderer
}

type Config struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
	// MaxUploadMB is the transcription service's file size limit; larger
	// inputs are compressed first.
	MaxUploadMB int
	// CostCodes maps division codes to names for the scope parser.
	CostCodes map[string]string
}

const (
	leaseTTL       = 30 * time.Minute
	pipelineBudget = 30 * time.Minute
)

// Manager owns the worker pipeline: it accepts completed uploads, runs the
// stage machine once per job, and is the sole writer of a job's state while
// the run holds the lease.
type Manager struct {
	store      progress.Store
	analyses   AnalysisWriter
	collab     Collaborators
	dispatcher *Dispatcher

	maxUploadMB int
	costCodes   map[string]string
}

func NewManager(store progress.Store, analyses AnalysisWriter, collab Collaborators, cfg Config) *Manager {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 25
	}
	m := &Manager{
		store:       store,
		analyses:    analyses,
		collab:      collab,
		maxUploadMB: cfg.MaxUploadMB,
		costCodes:   cfg.CostCodes,
	}
	m.dispatcher = NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, cfg.WorkerIdleTimeout, m.process)
	return m
}

// Enqueue records the job's initial state and hands it to the dispatcher.
// The queue guarantees at-least-once execution; process tolerates re-runs.
func (m *Manager) Enqueue(ctx context.Context, jobID string) error {
	if err := m.store.Publish(ctx, jobID, 0, "Queued", map[string]string{"status": string(models.StatusQueued)}); err != nil {
		return err
	}
	return m.dispatcher.Enqueue(Job{Type: Process, ID: jobID})
}

func (m *Manager) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineBudget)
	defer cancel()

	token := uuid.New().String()
	ok, err := m.store.AcquireLease(ctx, job.ID, token, leaseTTL)
	if err != nil {
		log.Printf("job %s: lease acquire failed: %v", job.ID, err)
		return
	}
	if !ok {
		// Another delivery of the same job already holds the write lease.
		log.Printf("job %s: lease held elsewhere, skipping duplicate run", job.ID)
		return
	}
	defer func() {
		if err := m.store.ReleaseLease(ctx, job.ID, token); err != nil {
			log.Printf("job %s: lease release failed: %v", job.ID, err)
		}
	}()

	m.runPipeline(ctx, job.ID)
}

// runPipeline walks the stages strictly forward. The first failure before
// the document stage flips the job to failed and halts; document failures
// degrade to null artifact references.
func (m *Manager) runPipeline(ctx context.Context, jobID string) {
	// Assembling (0-20%)
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil || job.FilePath == "" {
		m.fail(ctx, jobID, 10, "Input file missing for job")
		return
	}
	m.publish(ctx, jobID, 10, "Assembling chunks")
	info, err := os.Stat(job.FilePath)
	if err != nil {
		m.fail(ctx, jobID, 10, fmt.Sprintf("Input file missing: %s", job.FilePath))
		return
	}
	path := job.FilePath
	filename := filepath.Base(path)
	fileSizeMB := float64(info.Size()) / (1024 * 1024)

	// Converting (20-40%)
	if m.collab.Convert.NeedsConversion(path) {
		m.publish(ctx, jobID, 25, "Converting MOV to MP4...")
		converted, err := m.collab.Convert.ConvertToMP4(ctx, path)
		if err != nil {
			m.fail(ctx, jobID, 25, fmt.Sprintf("MOV conversion failed: %v", err))
			return
		}
		path = converted
		m.publish(ctx, jobID, 40, "MOV conversion complete")
	}

	// Transcribing (40-70%)
	m.publish(ctx, jobID, 45, "Starting audio transcription...")
	audioPath := path
	if sizeMB(path) > float64(m.maxUploadMB) {
		compressed, err := m.collab.Convert.CompressAudio(ctx, path, m.maxUploadMB)
		if err != nil {
			m.fail(ctx, jobID, 45, fmt.Sprintf("Audio compression failed: %v", err))
			return
		}
		audioPath = compressed
	}
	transcript, err := m.collab.Transcribe.Transcribe(ctx, audioPath)
	if err != nil {
		m.fail(ctx, jobID, 45, fmt.Sprintf("Transcription failed: %v", err))
		return
	}
	m.publish(ctx, jobID, 70, fmt.Sprintf("Transcription complete (%d characters)", len(transcript)))

	// Parsing (70-90%)
	m.publish(ctx, jobID, 75, "Analyzing transcript for scope items...")
	analysis, err := m.collab.Parse.Parse(ctx, transcript, m.costCodes)
	if err != nil {
		m.fail(ctx, jobID, 75, fmt.Sprintf("Scope parsing failed: %v", err))
		return
	}
	m.publish(ctx, jobID, 90, fmt.Sprintf("Extracted %d scope items", len(analysis.Items)))

	// Documenting (90-100%), non-fatal: the transcript and scope data are
	// still worth persisting without formatted output.
	m.publish(ctx, jobID, 95, "Generating documents...")
	docs := &models.DocumentSet{}
	jobName := strings.TrimSuffix(filename, filepath.Ext(filename))
	if rendered, err := m.collab.Render.Render(ctx, jobName, analysis); err != nil {
		log.Printf("job %s: document generation failed, degrading: %v", jobID, err)
	} else {
		docs = rendered
	}

	// Completed (100%)
	result := map[string]interface{}{
		"transcript":      transcript,
		"scope_items":     analysis.Items,
		"project_summary": analysis.Summary,
		"documents":       docs,
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		m.fail(ctx, jobID, 95, fmt.Sprintf("Result encoding failed: %v", err))
		return
	}
	if err := m.store.SetResult(ctx, jobID, string(resultJSON)); err != nil {
		log.Printf("job %s: store result failed: %v", jobID, err)
	}
	m.publish(ctx, jobID, 100, "Done", "status", string(models.StatusCompleted))

	record := &models.Analysis{
		ID:             uuid.New().String(),
		Filename:       filename,
		CreatedAt:      time.Now().UTC(),
		Transcript:     transcript,
		ScopeItems:     analysis.Items,
		ProjectSummary: analysis.Summary,
		FileSizeMB:     fileSizeMB,
		Documents:      *docs,
	}
	if err := m.analyses.Create(ctx, record); err != nil {
		log.Printf("job %s: persist analysis failed: %v", jobID, err)
	}
}

// publish reports stage progress; extra comes as key/value pairs.
func (m *Manager) publish(ctx context.Context, jobID string, pct int, msg string, extra ...string) {
	fields := make(map[string]string, len(extra)/2)
	for i := 0; i+1 < len(extra); i += 2 {
		fields[extra[i]] = extra[i+1]
	}
	if err := m.store.Publish(ctx, jobID, pct, msg, fields); err != nil {
		log.Printf("job %s: publish %d%% failed: %v", jobID, pct, err)
	}
}

// fail publishes the failure message once as the job's final event.
func (m *Manager) fail(ctx context.Context, jobID string, pct int, msg string) {
	log.Printf("job %s failed: %s", jobID, msg)
	m.publish(ctx, jobID, pct, msg, "status", string(models.StatusFailed))
}

func sizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}
