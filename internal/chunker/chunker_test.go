package chunker

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter is a deterministic stand-in for tokencount.Counter: one token
// per whitespace-separated word, so tests don't depend on tiktoken's vocab.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func TestChunkReturnsWholeTextWhenUnderBudget(t *testing.T) {
	chunks, hasStructure := Chunk(wordCounter{}, "a short bill title", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short bill title", chunks[0])
	assert.False(t, hasStructure)
}

func TestChunkDetectsSectionStructure(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 6; i++ {
		b.WriteString("Section ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" ")
		b.WriteString(strings.Repeat("word ", 20))
		b.WriteString("\n")
	}
	text := b.String()

	chunks, hasStructure := Chunk(wordCounter{}, text, 30)
	assert.True(t, hasStructure)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, wordCounter{}.Count(c), 30)
	}
}

func TestChunkPreservesOrdering(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 6; i++ {
		b.WriteString("Section ")
		b.WriteString(strings.Repeat("word ", 20))
		b.WriteString("\n")
	}
	text := b.String()

	chunks, _ := Chunk(wordCounter{}, text, 30)
	assert.Equal(t, strings.Join(chunks, ""), text)
}

func TestChunkFallsBackToParagraphsWhenUnstructured(t *testing.T) {
	paragraphs := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		paragraphs = append(paragraphs, strings.Repeat("lorem ipsum dolor sit amet ", 10))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks, hasStructure := Chunk(wordCounter{}, text, 20)
	assert.False(t, hasStructure)
	for _, c := range chunks {
		assert.LessOrEqual(t, wordCounter{}.Count(c), 20)
	}
}

func TestChunkSplitsOversizedParagraphBySentence(t *testing.T) {
	sentence := strings.Repeat("word ", 15) + ". "
	text := strings.Repeat(sentence, 4)

	chunks, _ := Chunk(wordCounter{}, text, 16)
	assert.Greater(t, len(chunks), 1)
}

func TestDetectStructureRequiresMoreThanThreeMatches(t *testing.T) {
	text := "Section 1.\nbody\nSection 2.\nbody\nSection 3.\nbody\n"
	_, ok := detectStructure(text)
	assert.False(t, ok, "exactly 3 matches must not count as structured")

	text += "Section 4.\nbody\n"
	_, ok = detectStructure(text)
	assert.True(t, ok, "4 matches must count as structured")
}
