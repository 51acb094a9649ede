// Package chunker splits extracted text into overlapping, boundary-aware
// chunks sized for embedding.
package chunker

import (
	"iter"
	"unicode"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Chunk is a window of the source text. Start and End are rune offsets,
// and the first Overlap runes of Text repeat the end of the previous chunk.
type Chunk struct {
	Index   int
	Start   int
	End     int
	Text    string
	Overlap int
}

// Chunker splits text into chunks of at most size runes, consecutive
// chunks sharing up to overlap runes.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. Non-positive sizes fall back to DefaultSize and
// the overlap is clamped to [0, size).
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the chunk texts of text.
func (c *Chunker) Split(text string) []string {
	var out []string
	for ch := range c.Chunks(text) {
		out = append(out, ch.Text)
	}
	return out
}

// Chunks yields the chunks of text in order. Cuts prefer, in order, a blank
// line, a line break, a sentence end, a space, and finally a hard cut at
// the size limit. Concatenating the first chunk with every later chunk
// minus its Overlap prefix reproduces text exactly.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		start, overlap := 0, 0
		for i := 0; start < n; i++ {
			end := start + c.size
			if end >= n {
				end = n
			} else {
				end = c.cut(runes, start, end)
			}
			if !yield(Chunk{Index: i, Start: start, End: end, Text: string(runes[start:end]), Overlap: overlap}) {
				return
			}
			if end == n {
				return
			}
			next := wordStart(runes, end-c.overlap, end)
			overlap = end - next
			start = next
		}
	}
}

// cut picks the end of the chunk starting at start with hard limit limit.
// A candidate is accepted only if the chunk stays longer than the overlap,
// which guarantees every chunk advances past the previous one.
func (c *Chunker) cut(runes []rune, start, limit int) int {
	lowest := start + c.overlap + 1
	for _, accept := range boundaries {
		for p := limit; p >= lowest; p-- {
			if accept(runes, start, p) {
				return p
			}
		}
	}
	return limit
}

// boundaries report whether a chunk may end just before position p.
var boundaries = []func(runes []rune, start, p int) bool{
	// paragraph
	func(r []rune, start, p int) bool {
		return p-2 >= start && r[p-1] == '\n' && r[p-2] == '\n'
	},
	// line
	func(r []rune, start, p int) bool {
		return r[p-1] == '\n'
	},
	// sentence
	func(r []rune, start, p int) bool {
		if p-2 < start || !unicode.IsSpace(r[p-1]) {
			return false
		}
		switch r[p-2] {
		case '.', '!', '?':
			return true
		}
		return false
	},
	// word
	func(r []rune, start, p int) bool {
		return unicode.IsSpace(r[p-1])
	},
}

// wordStart returns the first position in [from, limit) that begins a word,
// or from when there is none.
func wordStart(runes []rune, from, limit int) int {
	for p := from; p < limit; p++ {
		if unicode.IsSpace(runes[p]) {
			continue
		}
		if p == 0 || unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return from
}
