package document

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"videoscope/internal/models"
)

// The DOCX output is a minimal WordprocessingML package built by hand:
// three fixed parts plus a generated word/document.xml. Word and
// LibreOffice both accept packages with only these parts.

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

func (s *Service) renderDocx(path, jobName string, analysis *models.ScopeAnalysis) error {
	var doc docxBuilder
	doc.para(24, true, "Scope Analysis: "+jobName)
	doc.para(0, false, "Generated "+time.Now().Format("January 2, 2006"))
	doc.blank()

	doc.para(16, true, "Project Summary")
	if analysis.Summary.Overview != "" {
		doc.para(0, false, analysis.Summary.Overview)
	}
	doc.bullets("Key Requirements", analysis.Summary.KeyRequirements)
	doc.bullets("Concerns", analysis.Summary.Concerns)
	doc.bullets("Decision Points", analysis.Summary.DecisionPoints)
	doc.bullets("Important Notes", analysis.Summary.ImportantNotes)

	doc.para(16, true, "Scope Items by Division")
	codes, grouped := s.groupItems(analysis.Items)
	if len(codes) == 0 {
		doc.para(0, false, "No scope items were identified in this video.")
	}
	for _, code := range codes {
		doc.para(13, true, s.divisionLabel(code))
		for _, item := range grouped[code] {
			doc.para(0, true, item.Title)
			doc.para(0, false, item.Details)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	parts := []struct{ name, body string }{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", doc.finish()},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return fmt.Errorf("create part %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return fmt.Errorf("write part %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize package: %w", err)
	}
	return nil
}

type docxBuilder struct {
	body strings.Builder
}

// para appends a paragraph. size is in points, zero meaning the document
// default. OOXML measures font size in half points.
func (b *docxBuilder) para(size int, bold bool, text string) {
	var props strings.Builder
	if bold {
		props.WriteString("<w:b/>")
	}
	if size > 0 {
		fmt.Fprintf(&props, `<w:sz w:val="%d"/>`, size*2)
	}
	rpr := ""
	if props.Len() > 0 {
		rpr = "<w:rPr>" + props.String() + "</w:rPr>"
	}
	fmt.Fprintf(&b.body, `<w:p><w:r>%s<w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		rpr, xmlEscape(text))
	b.body.WriteByte('\n')
}

func (b *docxBuilder) blank() {
	b.body.WriteString("<w:p/>\n")
}

func (b *docxBuilder) bullets(label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.para(12, true, label)
	for _, line := range lines {
		b.para(0, false, "- "+line)
	}
}

func (b *docxBuilder) finish() string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
` + b.body.String() + `</w:body>
</w:document>`
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
