package domain

import (
	"strings"
	"unicode/utf8"
)

// RawDocument is the statement as received, plus the optional password
// needed to open it.
type RawDocument struct {
	Bytes    []byte
	Password string
	Filename string
}

// Page is one page of a document. Index is 1-based.
type Page struct {
	Index int
	Text  string
	Image []byte
}

// Origin records which extraction stage produced a piece of text.
type Origin string

const (
	OriginNative Origin = "native"
	OriginOCR    Origin = "ocr"
)

// ExtractionUnit is a chunk of document text categorized by a single model call.
type ExtractionUnit struct {
	Index  int
	Text   string
	Origin Origin
}

// Len returns the unit length in characters.
func (u ExtractionUnit) Len() int { return utf8.RuneCountInString(u.Text) }

// PageMarker separates page texts in a joined document. Partitioning by page
// splits on it.
const PageMarker = "\n\n<<<§PAGE-BREAK§>>>\n\n"

// DefaultMinPageChars is the shortest trimmed page text considered usable.
const DefaultMinPageChars = 50

// UsablePageText reports whether a page's trimmed text has at least minChars
// characters.
func UsablePageText(text string, minChars int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= minChars
}
