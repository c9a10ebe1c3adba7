package export

import (
	"bytes"
	"path/filepath"
	"strings"

	"meetscribe/internal/models"
)

const (
	headingSummary   = "Summary"
	headingDecisions = "Key Decisions"
	headingActions   = "Action Items"
)

// Text renders the plain-text download. The output depends only on sum.
func Text(sum *models.StructuredSummary) []byte {
	var buf bytes.Buffer
	if sum == nil {
		return buf.Bytes()
	}
	buf.WriteString(headingSummary)
	buf.WriteByte('\n')
	buf.WriteString(strings.TrimSpace(sum.Summary))
	buf.WriteString("\n\n")
	writeList(&buf, headingDecisions, sum.KeyDecisions)
	buf.WriteByte('\n')
	writeList(&buf, headingActions, sum.ActionItems)
	return buf.Bytes()
}

func writeList(buf *bytes.Buffer, heading string, items []string) {
	buf.WriteString(heading)
	buf.WriteByte('\n')
	for _, item := range items {
		buf.WriteString("- ")
		buf.WriteString(strings.TrimSpace(item))
		buf.WriteByte('\n')
	}
}

// FileName derives the download name from the uploaded file name,
// e.g. "standup.m4a" becomes "standup-summary.txt".
func FileName(original, ext string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch r {
		case '"', '/', '\\', '\r', '\n', ';':
			return '_'
		}
		return r
	}, strings.TrimSpace(base))
	if base == "" || base == "." {
		base = "meeting"
	}
	return base + "-summary." + strings.TrimPrefix(ext, ".")
}
