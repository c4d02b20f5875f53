package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"videoscope/internal/models"

	"github.com/go-pdf/fpdf"
)

// ErrGenerationFailed wraps failures while rendering or writing artifacts.
var ErrGenerationFailed = errors.New("document generation failed")

// Service renders a completed analysis into DOCX and PDF files under a
// shared output directory.
type Service struct {
	dir       string
	divisions map[string]string
}

func NewService(dir string, divisions map[string]string) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	return &Service{dir: dir, divisions: divisions}, nil
}

// Render writes both artifacts and returns their paths. Each format fails
// independently so one bad renderer does not take the other down.
func (s *Service) Render(ctx context.Context, jobName string, analysis *models.ScopeAnalysis) (*models.DocumentSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := safeName(jobName)
	set := &models.DocumentSet{}
	var errs []error

	docxPath := filepath.Join(s.dir, base+"_scope_analysis.docx")
	if err := s.renderDocx(docxPath, jobName, analysis); err != nil {
		errs = append(errs, fmt.Errorf("docx: %w", err))
	} else {
		set.Docx = &docxPath
	}

	pdfPath := filepath.Join(s.dir, base+"_scope_analysis.pdf")
	if err := s.renderPDF(pdfPath, jobName, analysis); err != nil {
		errs = append(errs, fmt.Errorf("pdf: %w", err))
	} else {
		set.PDF = &pdfPath
	}

	if len(errs) > 0 {
		return set, fmt.Errorf("%w: %v", ErrGenerationFailed, errors.Join(errs...))
	}
	return set, nil
}

func (s *Service) renderPDF(path, jobName string, analysis *models.ScopeAnalysis) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 9, "Scope Analysis: "+jobName, "", "L", false)
	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 6, "Generated "+time.Now().Format("January 2, 2006"), "", "L", false)
	pdf.Ln(4)

	writeHeading := func(text string) {
		pdf.Ln(2)
		pdf.SetFont("Arial", "B", 13)
		pdf.MultiCell(0, 7, text, "", "L", false)
		pdf.SetFont("Arial", "", 10)
	}
	writeBullets := func(label string, lines []string) {
		if len(lines) == 0 {
			return
		}
		pdf.SetFont("Arial", "B", 11)
		pdf.MultiCell(0, 6, label, "", "L", false)
		pdf.SetFont("Arial", "", 10)
		for _, line := range lines {
			pdf.MultiCell(0, 5, "- "+line, "", "L", false)
		}
		pdf.Ln(2)
	}

	writeHeading("Project Summary")
	if analysis.Summary.Overview != "" {
		pdf.MultiCell(0, 5, analysis.Summary.Overview, "", "L", false)
		pdf.Ln(2)
	}
	writeBullets("Key Requirements", analysis.Summary.KeyRequirements)
	writeBullets("Concerns", analysis.Summary.Concerns)
	writeBullets("Decision Points", analysis.Summary.DecisionPoints)
	writeBullets("Important Notes", analysis.Summary.ImportantNotes)

	writeHeading("Scope Items by Division")
	codes, grouped := s.groupItems(analysis.Items)
	if len(codes) == 0 {
		pdf.MultiCell(0, 5, "No scope items were identified in this video.", "", "L", false)
	}
	for _, code := range codes {
		pdf.Ln(2)
		pdf.SetFont("Arial", "B", 11)
		pdf.SetFillColor(235, 235, 235)
		pdf.MultiCell(0, 7, s.divisionLabel(code), "", "L", true)
		pdf.SetFont("Arial", "", 10)
		for _, item := range grouped[code] {
			pdf.SetFont("Arial", "B", 10)
			pdf.MultiCell(0, 5, item.Title, "", "L", false)
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, 5, item.Details, "", "L", false)
			pdf.Ln(1)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := pdf.Output(out); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// groupItems buckets scope items by cost code, codes in ascending order.
func (s *Service) groupItems(items []models.ScopeItem) ([]string, map[string][]models.ScopeItem) {
	grouped := make(map[string][]models.ScopeItem)
	for _, item := range items {
		grouped[item.Code] = append(grouped[item.Code], item)
	}
	codes := make([]string, 0, len(grouped))
	for code := range grouped {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, grouped
}

func (s *Service) divisionLabel(code string) string {
	if name, ok := s.divisions[code]; ok {
		return code + " - " + name
	}
	return code
}

// safeName keeps file names shell and URL friendly.
func safeName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "analysis"
	}
	return b.String()
}
