// Package chunker splits oversized bill text into token-bounded chunks,
// preferring structural boundaries (sections, articles) over paragraph or
// sentence breaks so each chunk reads as a coherent unit.
package chunker

import (
	"regexp"
	"strings"
)

// Counter counts tokens in a string. internal/tokencount.Counter satisfies
// this.
type Counter interface {
	Count(text string) int
}

var structurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^(?:Section|SEC\.|SECTION|Article|ARTICLE|Title|TITLE)\s+\d+\.?`),
	regexp.MustCompile(`(?m)^§+\s*\d+`),
	regexp.MustCompile(`(?m)^\d+\.\s+[A-Z]`),
	regexp.MustCompile(`(?m)^[A-Z][A-Z\s]+$`),
	regexp.MustCompile(`(?s)\*\*\*.*?\*\*\*`),
}

const structureMinMatches = 3

// abbreviationBeforePeriod supports the approximation of Python's
// negative-lookbehind sentence splitter. Go's RE2 has no lookbehind, so the
// split is done procedurally in splitSentences instead of compiling an
// equivalent regex.
var abbreviationBeforePeriod = regexp.MustCompile(`\b([A-Z][a-z]|[A-Za-z])\.$`)

// Chunk splits text into pieces each counting at most maxTokens, per
// spec.md §4.3. hasStructure reports whether section/article-style markers
// drove the split (true) or paragraph/sentence/character fallback did
// (false).
func Chunk(counter Counter, text string, maxTokens int) (chunks []string, hasStructure bool) {
	if counter.Count(text) <= maxTokens {
		return []string{text}, false
	}

	if boundaries, ok := detectStructure(text); ok {
		var pieces []string
		for _, b := range boundaries {
			if counter.Count(b) <= maxTokens {
				pieces = append(pieces, b)
				continue
			}
			pieces = append(pieces, splitOversizedParagraph(counter, b, maxTokens)...)
		}
		return accumulate(counter, pieces, maxTokens), true
	}

	paragraphs := splitParagraphs(text)
	var pieces []string
	for _, p := range paragraphs {
		if counter.Count(p) <= maxTokens {
			pieces = append(pieces, p)
			continue
		}
		pieces = append(pieces, splitOversizedParagraph(counter, p, maxTokens)...)
	}
	return accumulate(counter, pieces, maxTokens), false
}

// detectStructure returns text split at structural boundaries (the
// delimiter stays at the head of the following piece) when any pattern
// matches more than structureMinMatches times.
func detectStructure(text string) ([]string, bool) {
	for _, pat := range structurePatterns {
		locs := pat.FindAllStringIndex(text, -1)
		if len(locs) > structureMinMatches {
			return splitAtIndices(text, locs), true
		}
	}
	return nil, false
}

func splitAtIndices(text string, locs [][]int) []string {
	var out []string
	start := 0
	for i, loc := range locs {
		if i == 0 {
			if loc[0] > 0 {
				out = append(out, text[0:loc[0]])
			}
			start = loc[0]
			continue
		}
		out = append(out, text[start:loc[0]])
		start = loc[0]
	}
	out = append(out, text[start:])
	return nonEmpty(out)
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

var blankLinePattern = regexp.MustCompile(`\n\s*\n`)

func splitParagraphs(text string) []string {
	parts := blankLinePattern.Split(text, -1)
	return nonEmpty(parts)
}

// accumulate greedily packs pieces into chunks while each chunk's token
// count stays at or below maxTokens. Content is never moved backward: once
// a piece is appended to the chunk under construction it stays there.
func accumulate(counter Counter, pieces []string, maxTokens int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, piece := range pieces {
		candidate := current.String()
		if candidate != "" {
			candidate += piece
		} else {
			candidate = piece
		}
		if counter.Count(candidate) <= maxTokens {
			current.Reset()
			current.WriteString(candidate)
			continue
		}
		flush()
		if counter.Count(piece) <= maxTokens {
			current.WriteString(piece)
		} else {
			// A single piece still exceeds maxTokens (can happen when
			// splitByChars' chars-per-token estimate undercounts a slice);
			// emit it whole rather than silently truncating.
			chunks = append(chunks, piece)
		}
	}
	flush()
	if len(chunks) == 0 {
		return pieces
	}
	return chunks
}

var sentenceSplitCandidates = regexp.MustCompile(`[.?!]\s`)

// splitOversizedParagraph splits a single paragraph that exceeds maxTokens
// first by sentence boundary, then if a sentence itself is still too large,
// by character count.
func splitOversizedParagraph(counter Counter, p string, maxTokens int) []string {
	sentences := splitSentences(p)
	var out []string
	for _, s := range sentences {
		if counter.Count(s) <= maxTokens {
			out = append(out, s)
			continue
		}
		out = append(out, splitByChars(counter, s, maxTokens)...)
	}
	if len(out) == 0 {
		return splitByChars(counter, p, maxTokens)
	}
	return out
}

// splitSentences approximates spec.md §4.3's lookbehind-based sentence
// splitter: break after '.', '?', or '!' followed by whitespace, unless the
// preceding token looks like an abbreviation (a single letter, or a
// capitalized word ending directly before the period, e.g. "U.S." or "Mr.").
func splitSentences(text string) []string {
	idxs := sentenceSplitCandidates.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		return []string{text}
	}
	var out []string
	start := 0
	for _, loc := range idxs {
		cut := loc[0] + 1 // keep the punctuation with the preceding sentence
		prefix := text[:cut]
		if abbreviationBeforePeriod.MatchString(prefix) && !looksLikeSentenceEnd(prefix) {
			continue
		}
		out = append(out, text[start:cut])
		start = cut
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return nonEmpty(out)
}

// looksLikeSentenceEnd guards against treating "U.S." or "Mr." as a
// sentence boundary while still splitting ordinary capitalized-word endings
// ("...enacted. The board...").
func looksLikeSentenceEnd(prefix string) bool {
	trimmed := strings.TrimRight(prefix, ".")
	if len(trimmed) == 0 {
		return true
	}
	lastWord := lastWordOf(trimmed)
	return len(lastWord) > 3
}

func lastWordOf(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// splitByChars slices s into equal-sized pieces sized at
// ceil(maxTokens * charsPerToken) * 0.9, per spec.md §4.3 step 4, and if
// that estimate is somehow still wrong (step 5's ultimate fallback) simply
// emits fixed character windows regardless of token count.
func splitByChars(counter Counter, s string, maxTokens int) []string {
	charsPerToken := estimateCharsPerToken(counter, s)
	cutSize := int(float64(maxTokens)*charsPerToken*0.9 + 0.999999)
	if cutSize < 1 {
		cutSize = 1
	}
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += cutSize {
		end := i + cutSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func estimateCharsPerToken(counter Counter, s string) float64 {
	n := counter.Count(s)
	if n <= 0 {
		return 4.0
	}
	return float64(len([]rune(s))) / float64(n)
}
