package ingest

import "strings"

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// chunkSeparators, coarsest first. Splitting prefers paragraph breaks and
// degrades towards raw character windows.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ChunkText splits text into overlapping retrieval-sized chunks. Sizes are
// in runes so Cyrillic text chunks the same as Latin. Chunks respect
// paragraph and sentence boundaries where possible.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= size {
		return []string{text}
	}
	return splitBySeparators(text, chunkSeparators, size, overlap)
}

func runeLen(s string) int { return len([]rune(s)) }

func splitBySeparators(text string, seps []string, size, overlap int) []string {
	if len(seps) == 0 || seps[0] == "" {
		return windowSplit(text, size, overlap)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	var chunks []string
	var current string
	for _, part := range parts {
		switch {
		case runeLen(part) > size:
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			chunks = append(chunks, splitBySeparators(part, seps[1:], size, overlap)...)
		case current != "" && runeLen(current)+runeLen(sep)+runeLen(part) > size:
			chunks = append(chunks, current)
			current = part
		case current != "":
			current += sep + part
		default:
			current = part
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return withOverlap(chunks, overlap)
}

func windowSplit(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// withOverlap prefixes each chunk with the tail of its predecessor so a
// fact straddling a boundary stays retrievable.
func withOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := prev
		if len(prev) > overlap {
			tail = prev[len(prev)-overlap:]
		}
		out[i] = string(tail) + chunks[i]
	}
	return out
}
