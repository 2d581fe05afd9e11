package jobs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyContent(t *testing.T) {
	c := NewChunker()
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\t  "))
}

func TestChunk_SmallContentSingleChunk(t *testing.T) {
	c := NewChunker()
	chunks := c.Chunk("One short sentence.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "One short sentence.", chunks[0])
}

func TestChunk_SplitsLongContent(t *testing.T) {
	c := &Chunker{MaxChunkSize: 50, Overlap: 10}

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("This sentence pads the document with enough text. ")
	}
	chunks := c.Chunk(b.String())
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		// Allow one sentence of spill past the limit.
		assert.LessOrEqual(t, estimateTokens(chunk), c.MaxChunkSize+15)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunk_OverlapCarriesContext(t *testing.T) {
	c := &Chunker{MaxChunkSize: 40, Overlap: 20}

	content := "First sentence here. Second sentence here. Third sentence here. " +
		"Fourth sentence here. Fifth sentence here. Sixth sentence here. " +
		"Seventh sentence here. Eighth sentence here."
	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	// Each later chunk starts with text already seen at the end of its
	// predecessor.
	for i := 1; i < len(chunks); i++ {
		firstSentence := strings.SplitAfter(chunks[i], ". ")[0]
		assert.Contains(t, chunks[i-1], strings.TrimSpace(firstSentence))
	}
}

func TestChunk_EverythingCovered(t *testing.T) {
	c := &Chunker{MaxChunkSize: 30, Overlap: 5}

	content := "Alpha first point. Bravo second point. Charlie third point. " +
		"Delta fourth point. Echo fifth point."
	chunks := c.Chunk(content)

	joined := strings.Join(chunks, "")
	for _, word := range []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"} {
		assert.Contains(t, joined, word)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
}
