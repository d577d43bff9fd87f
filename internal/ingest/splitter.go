package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

const (
	// ChunkSize is the sliding-window width in characters.
	ChunkSize = 800

	// ChunkOverlap is the character overlap between consecutive windows.
	// Must stay below ChunkSize so the window always advances.
	ChunkOverlap = 100

	// maxHeadingLevel is the deepest markdown heading that starts a new chunk.
	maxHeadingLevel = 5
)

// SplitBlocks chunks the extracted text blocks. Markdown splits on heading
// boundaries; every other format uses the fixed-size sliding window.
func SplitBlocks(blocks []string, ext string) []string {
	var chunks []string
	for _, block := range blocks {
		if strings.EqualFold(ext, ".md") {
			chunks = append(chunks, splitMarkdown(block)...)
		} else {
			chunks = append(chunks, splitWindow(block, ChunkSize, ChunkOverlap)...)
		}
	}
	return chunks
}

// splitMarkdown breaks text on heading boundaries (levels 1-5), keeping the
// heading line inside its chunk. Text before the first heading becomes its
// own chunk.
func splitMarkdown(text string) []string {
	src := []byte(text)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(src))

	var cuts []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level > maxHeadingLevel {
			return ast.WalkContinue, nil
		}
		lines := heading.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		// Back up from the heading text to the start of its line so the
		// marker and heading text stay in the chunk.
		start := lines.At(0).Start
		for start > 0 && src[start-1] != '\n' {
			start--
		}
		cuts = append(cuts, start)
		return ast.WalkContinue, nil
	})

	var chunks []string
	prev := 0
	for _, cut := range cuts {
		if cut > prev {
			if chunk := strings.TrimSpace(text[prev:cut]); chunk != "" {
				chunks = append(chunks, chunk)
			}
		}
		prev = cut
	}
	if chunk := strings.TrimSpace(text[prev:]); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitWindow emits fixed-size windows with the given character overlap.
// The window advances by at least size-overlap characters per step, so the
// loop always terminates; the final window is clipped to end-of-text.
// Chunks are trimmed and empty ones discarded.
func splitWindow(text string, size, overlap int) []string {
	if size <= 0 || overlap >= size {
		return nil
	}

	runes := []rune(text)
	length := len(runes)

	var chunks []string
	start := 0
	for start < length {
		end := min(start+size, length)
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= length {
			break
		}
		start = end - overlap
	}
	return chunks
}
