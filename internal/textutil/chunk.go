// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/waycore/rag-knowledge/pkg/types"
)

// Chunk is a piece of cleaned text ready to become an entry.
type Chunk struct {
	Text string

	// Offset is the byte offset, in the text passed to Split, of the first
	// paragraph that is new in this chunk (overlap excluded).
	Offset int
}

type paragraph struct {
	text   string
	offset int
	runes  int
}

// Split breaks cleaned text into overlapping chunks along paragraph
// boundaries. A chunk is closed when appending the next paragraph would
// exceed cfg.Size and the chunk already holds cfg.MinSize characters; the
// next chunk then starts with the last cfg.Overlap characters of the closed
// one. Paragraphs longer than cfg.Size are first cut at word boundaries.
// Text shorter than cfg.MinSize yields no chunks.
func Split(text string, cfg types.ChunkConfig) []Chunk {
	cfg = cfg.WithDefaults()
	if utf8.RuneCountInString(text) < cfg.MinSize {
		return nil
	}

	var (
		chunks    []Chunk
		cur       strings.Builder
		curRunes  int
		curOffset int
	)

	emit := func() {
		if curRunes >= cfg.MinSize {
			chunks = append(chunks, Chunk{Text: cur.String(), Offset: curOffset})
		}
	}

	for _, p := range paragraphs(text, cfg.Size) {
		if curRunes > 0 && curRunes+p.runes+2 > cfg.Size && curRunes >= cfg.MinSize {
			emit()
			prev := cur.String()
			cur.Reset()
			curRunes = 0
			if cfg.Overlap > 0 {
				if tail := strings.TrimLeft(lastRunes(prev, cfg.Overlap), " \n"); tail != "" {
					cur.WriteString(tail)
					cur.WriteString(" ")
					curRunes = utf8.RuneCountInString(tail) + 1
				}
			}
			cur.WriteString(p.text)
			curRunes += p.runes
			curOffset = p.offset
			continue
		}

		if curRunes > 0 {
			cur.WriteString("\n\n")
			curRunes += 2
		} else {
			curOffset = p.offset
		}
		cur.WriteString(p.text)
		curRunes += p.runes
	}
	if curRunes > 0 {
		emit()
	}
	return chunks
}

// paragraphs splits text on blank lines, keeping byte offsets, and cuts any
// paragraph longer than maxRunes into word-aligned pieces.
func paragraphs(text string, maxRunes int) []paragraph {
	var out []paragraph
	pos := 0
	bounds := paragraphRe.FindAllStringIndex(text, -1)
	bounds = append(bounds, []int{len(text), len(text)})
	for _, b := range bounds {
		raw := text[pos:b[0]]
		lead := len(raw) - len(strings.TrimLeft(raw, " \n\t"))
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" {
			out = append(out, splitLong(trimmed, pos+lead, maxRunes)...)
		}
		pos = b[1]
	}
	return out
}

func splitLong(text string, offset, maxRunes int) []paragraph {
	var out []paragraph
	for {
		n := utf8.RuneCountInString(text)
		if n <= maxRunes {
			return append(out, paragraph{text: text, offset: offset, runes: n})
		}
		cut := byteIndexOfRune(text, maxRunes)
		ws := strings.LastIndexAny(text[:cut], " \n")
		if ws <= 0 {
			ws = cut
		}
		piece := strings.TrimSpace(text[:ws])
		out = append(out, paragraph{text: piece, offset: offset, runes: utf8.RuneCountInString(piece)})

		rest := text[ws:]
		trimmed := strings.TrimLeft(rest, " \n")
		offset += ws + len(rest) - len(trimmed)
		text = trimmed
		if text == "" {
			return out
		}
	}
}

// byteIndexOfRune returns the byte index at which the n-th rune starts.
func byteIndexOfRune(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

func lastRunes(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	return s[byteIndexOfRune(s, count-n):]
}
