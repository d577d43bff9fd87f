package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/sagekb/sage/internal/apperr"
)

// Load reads a document and returns its ordered, non-empty text blocks:
// pages for PDF, paragraphs for DOCX, the whole file for plain text and
// markdown. The parser is chosen by file extension; an unknown extension is
// an UnsupportedFormat error.
func Load(path string) ([]string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return loadPDF(path)
	case ".docx", ".doc":
		return loadDocx(path)
	case ".txt", ".md":
		return loadPlainText(path)
	default:
		return nil, apperr.Newf(apperr.KindUnsupportedFormat, "unsupported file type: %s", ext)
	}
}

func loadPDF(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("reading pdf: %w", err)
	}

	var blocks []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting pdf page %d: %w", i, err)
		}
		if text := strings.TrimSpace(pageText); text != "" {
			blocks = append(blocks, text)
		}
	}
	return blocks, nil
}

func loadDocx(path string) ([]string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading docx: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()

	content := r.Editable().GetContent()

	var blocks []string
	for _, paragraph := range strings.Split(content, "\n") {
		if text := strings.TrimSpace(paragraph); text != "" {
			blocks = append(blocks, text)
		}
	}
	return blocks, nil
}

func loadPlainText(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return []string{text}, nil
	}
	return nil, nil
}
