package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"meetscribe/internal/models"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	fontName    = "Calibri"
	fontSize    = 11
	headingSize = 14
	titleSize   = 18
)

// Docx renders the same three sections as Text into a Word document.
func Docx(sum *models.StructuredSummary, title string) ([]byte, error) {
	if sum == nil {
		return nil, fmt.Errorf("summary is required")
	}
	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	if title = strings.TrimSpace(title); title != "" {
		addRun(doc.AddParagraph(""), title, true, titleSize)
	}
	addRun(doc.AddParagraph(""), headingSummary, true, headingSize)
	addRun(doc.AddParagraph(""), strings.TrimSpace(sum.Summary), false, fontSize)
	addList(doc, headingDecisions, sum.KeyDecisions)
	addList(doc, headingActions, sum.ActionItems)

	dir, err := os.MkdirTemp("", "meetscribe_docx_*")
	if err != nil {
		return nil, fmt.Errorf("docx temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "summary.docx")
	if err := doc.SaveTo(path); err != nil {
		return nil, fmt.Errorf("save docx: %w", err)
	}
	return os.ReadFile(path)
}

func addList(doc *docx.RootDoc, heading string, items []string) {
	addRun(doc.AddParagraph(""), heading, true, headingSize)
	for _, item := range items {
		addRun(doc.AddParagraph(""), "• "+strings.TrimSpace(item), false, fontSize)
	}
}

func addRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(text).Font(fontName).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}
