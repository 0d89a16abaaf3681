package documentloaders

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/sevigo/lmbatch/schema"
)

const pdfPageMarker = "\n--- Page %d ---\n"

var (
	runsOfSpaces    = regexp.MustCompile(`[ \t]+`)
	blankLineRuns   = regexp.MustCompile(`\n[ \t]*\n`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	errPDFNoText    = errors.New("no text extracted from PDF")
	errPDFEmptyFile = errors.New("PDF has no pages")
)

// readPDFSource extracts the text of every page and joins the pages
// with markers, so chunk boundaries in long documents stay traceable
// to a page.
func readPDFSource(src Source) (schema.Document, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to open PDF file %s: %w", src.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to get file info for %s: %w", src.Path, err)
	}

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to create PDF reader for %s: %w", src.Path, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return schema.Document{}, fmt.Errorf("%w: %s", errPDFEmptyFile, src.Path)
	}

	var builder strings.Builder
	pagesWithText := 0

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText := extractPageText(page)
		if pageText == "" {
			continue
		}

		builder.WriteString(fmt.Sprintf(pdfPageMarker, i))
		builder.WriteString(pageText)
		builder.WriteString("\n")
		pagesWithText++
	}

	if pagesWithText == 0 {
		return schema.Document{}, fmt.Errorf("%w: %s", errPDFNoText, src.Path)
	}

	return schema.NewDocument(strings.TrimSpace(builder.String()), map[string]any{
		"source":     src.Name,
		"path":       src.Path,
		"encoding":   "pdf",
		"file_size":  info.Size(),
		"mod_time":   info.ModTime(),
		"page_count": numPages,
	}), nil
}

// extractPageText pulls text from one page, preferring the plain-text
// view and falling back to joining the raw content tokens.
func extractPageText(page pdf.Page) string {
	if content, err := page.GetPlainText(nil); err == nil && strings.TrimSpace(content) != "" {
		return cleanExtractedText(content)
	}

	var builder bytes.Buffer
	content := page.Content()
	for i, token := range content.Text {
		builder.WriteString(token.S)
		if i < len(content.Text)-1 && !strings.HasSuffix(token.S, " ") && !strings.HasSuffix(token.S, "\n") {
			builder.WriteString(" ")
		}
	}

	return cleanExtractedText(builder.String())
}

// cleanExtractedText normalizes extracted text.
func cleanExtractedText(text string) string {
	text = runsOfSpaces.ReplaceAllString(text, " ")
	text = blankLineRuns.ReplaceAllString(text, "\n\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
