package refine

import (
	"slices"
	"strings"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// DefaultMinConfidence is the lowest alignment score Locate accepts.
const DefaultMinConfidence = 0.6

// Located is a line range found by Locate.
type Located struct {
	Start, End int
	Confidence float64
}

// Locate finds the lines of content that best match text. Lines are
// compared after collapsing whitespace, using character-bigram similarity,
// and a window the height of text slides over the file. The earliest best
// window wins. It reports false when nothing scores at least minConfidence.
func Locate(content, text string, minConfidence float64) (Located, bool) {
	query := trimBlank(snippet.SplitLines(text))
	file := snippet.SplitLines(content)
	if len(query) == 0 || len(file) == 0 {
		return Located{}, false
	}

	q := make([]line, len(query))
	for i, l := range query {
		q[i] = newLine(l)
	}
	f := make([]line, len(file))
	for i, l := range file {
		f[i] = newLine(l)
	}

	w := min(len(q), len(f))
	best := Located{Confidence: -1}
	for start := 0; start+w <= len(f); start++ {
		total := 0.0
		for i := range w {
			total += similarity(q[i], f[start+i])
		}
		score := total / float64(len(q))
		if score > best.Confidence {
			best = Located{Start: start, End: start + w, Confidence: score}
		}
	}
	if best.Confidence < minConfidence {
		return best, false
	}
	return best, true
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type line struct {
	norm    string
	bigrams []uint16
}

func newLine(s string) line {
	norm := strings.Join(strings.Fields(s), " ")
	var grams []uint16
	if len(norm) > 1 {
		grams = make([]uint16, len(norm)-1)
		for i := 0; i+1 < len(norm); i++ {
			grams[i] = uint16(norm[i])<<8 | uint16(norm[i+1])
		}
		slices.Sort(grams)
	}
	return line{norm: norm, bigrams: grams}
}

// similarity is the Dice coefficient of two lines' bigram multisets; equal
// lines score 1.
func similarity(a, b line) float64 {
	if a.norm == b.norm {
		return 1
	}
	if len(a.bigrams) == 0 || len(b.bigrams) == 0 {
		return 0
	}
	common := 0
	for i, j := 0, 0; i < len(a.bigrams) && j < len(b.bigrams); {
		switch {
		case a.bigrams[i] == b.bigrams[j]:
			common++
			i++
			j++
		case a.bigrams[i] < b.bigrams[j]:
			i++
		default:
			j++
		}
	}
	return 2 * float64(common) / float64(len(a.bigrams)+len(b.bigrams))
}
