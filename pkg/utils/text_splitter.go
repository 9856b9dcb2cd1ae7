package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TextChunk is one window of the source text. Offset is the byte offset of
// Text in the source; OverlapBytes is how many leading bytes repeat the tail
// of the previous chunk.
type TextChunk struct {
	Text         string
	Offset       int
	OverlapBytes int
	Tokens       int
}

// EstimateTokens approximates a token count as one token per four runes.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// TruncateTokens shortens s to at most maxTokens estimated tokens, cutting at
// the last word boundary that fits. A text within the limit is returned as is.
func TruncateTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(s) <= maxTokens {
		return s
	}

	limit, runes := maxTokens*4, 0
	cut := len(s)
	for i := range s {
		if runes == limit {
			cut = i
			break
		}
		runes++
	}

	head := s[:cut]
	if j := strings.LastIndexFunc(head, unicode.IsSpace); j > 0 {
		head = head[:j]
	}
	return strings.TrimRightFunc(head, unicode.IsSpace)
}

type span struct {
	start, end int
	tokens     int
}

// words splits text into units of a word plus its trailing whitespace.
// Leading whitespace belongs to the first unit, so the units cover text exactly.
func words(text string) []span {
	var out []span
	start := 0
	seenWord, prevSpace := false, false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && prevSpace && seenWord {
			out = append(out, span{start: start, end: i})
			start = i
		}
		if !space {
			seenWord = true
		}
		prevSpace = space
	}
	if start < len(text) {
		out = append(out, span{start: start, end: len(text)})
	}
	for i := range out {
		out[i].tokens = EstimateTokens(text[out[i].start:out[i].end])
	}
	return out
}

// SplitText cuts text into windows of at most sizeTokens estimated tokens
// (a single oversized word still gets its own chunk). Consecutive chunks
// share up to overlapTokens of whole words. Blank text yields no chunks.
func SplitText(text string, sizeTokens, overlapTokens int) []TextChunk {
	if strings.TrimSpace(text) == "" || sizeTokens <= 0 {
		return nil
	}
	if overlapTokens < 0 || overlapTokens >= sizeTokens {
		overlapTokens = 0
	}

	units := words(text)
	var chunks []TextChunk
	overlap := 0

	for i := 0; i < len(units); {
		j, tokens := i, 0
		for j < len(units) && (j == i || tokens+units[j].tokens <= sizeTokens) {
			tokens += units[j].tokens
			j++
		}

		start, end := units[i].start, units[j-1].end
		chunks = append(chunks, TextChunk{
			Text:         text[start:end],
			Offset:       start,
			OverlapBytes: overlap,
			Tokens:       tokens,
		})
		if j == len(units) {
			break
		}

		k, shared := j, 0
		for k-1 > i && shared+units[k-1].tokens <= overlapTokens {
			shared += units[k-1].tokens
			k--
		}
		overlap = end - units[k].start
		i = k
	}
	return chunks
}

// JoinChunks rebuilds the source text from SplitText output.
func JoinChunks(chunks []TextChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text[c.OverlapBytes:])
	}
	return b.String()
}
