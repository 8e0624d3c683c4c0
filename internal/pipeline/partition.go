package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/statement-categorizer/internal/domain"
)

// PartitionStrategy selects how extracted text is split into units.
type PartitionStrategy string

const (
	PartitionByPage PartitionStrategy = "by_page"
	PartitionBySize PartitionStrategy = "by_size"
)

// Partition splits text into categorization units. Units are numbered from
// 1 in text order and never hold blank text.
func Partition(text string, origin domain.Origin, strategy PartitionStrategy, maxChars int) []domain.ExtractionUnit {
	var chunks []string
	switch strategy {
	case PartitionBySize:
		chunks = splitBySize(text, maxChars)
	default:
		chunks = strings.Split(text, domain.PageMarker)
	}

	units := make([]domain.ExtractionUnit, 0, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		units = append(units, domain.ExtractionUnit{Index: len(units) + 1, Text: c, Origin: origin})
	}
	return units
}

// splitBySize packs whole lines into chunks of at most maxChars characters.
// A line longer than the budget becomes a chunk of its own. Page markers are
// treated as line breaks.
func splitBySize(text string, maxChars int) []string {
	text = strings.ReplaceAll(text, domain.PageMarker, "\n")
	if maxChars <= 0 {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen > 0 && curLen+sep+n > maxChars {
			flush()
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		curLen += sep + n
	}
	flush()
	return chunks
}
