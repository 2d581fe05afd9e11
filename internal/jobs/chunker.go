package jobs

import (
	"strings"
	"unicode"
)

// Chunker splits document text into embeddable chunks. Splitting is
// sentence-aware so chunks stay semantically coherent, with a configurable
// token overlap to preserve context across chunk boundaries.
type Chunker struct {
	MaxChunkSize int // maximum chunk size in tokens (default: 512)
	Overlap      int // overlap size in tokens (default: 64)
}

// NewChunker returns a chunker with defaults suitable for embedding models.
func NewChunker() *Chunker {
	return &Chunker{MaxChunkSize: 512, Overlap: 64}
}

// Chunk splits content into overlapping chunks. Whitespace-only content
// yields no chunks; content under the size limit comes back as one chunk.
func (c *Chunker) Chunk(content string) []string {
	if len(strings.TrimSpace(content)) == 0 {
		return nil
	}
	if estimateTokens(content) <= c.MaxChunkSize {
		return []string{content}
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0
	var previous []string

	for _, sentence := range sentences {
		sentenceTokens := estimateTokens(sentence)

		if currentTokens+sentenceTokens > c.MaxChunkSize && currentTokens > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0

			// Seed the new chunk with trailing sentences from the previous
			// one, up to the overlap budget.
			overlapTokens := 0
			start := len(previous)
			for i := len(previous) - 1; i >= 0; i-- {
				t := estimateTokens(previous[i])
				if overlapTokens+t > c.Overlap {
					break
				}
				overlapTokens += t
				start = i
			}
			for i := start; i < len(previous); i++ {
				current.WriteString(previous[i])
				currentTokens += estimateTokens(previous[i])
			}
			previous = previous[start:]
		}

		current.WriteString(sentence)
		currentTokens += sentenceTokens
		previous = append(previous, sentence)
		if len(previous) > 50 {
			previous = previous[len(previous)-50:]
		}
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// estimateTokens approximates token count at four characters per token,
// rounding up.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// splitSentences splits text on sentence terminators, keeping the
// terminator and following whitespace attached to the sentence.
func splitSentences(text string) []string {
	if len(text) == 0 {
		return nil
	}

	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' || r == '\n' {
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				current.WriteRune(runes[i+1])
				i++
			}
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
