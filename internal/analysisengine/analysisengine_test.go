package analysisengine

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aphchrisc/policypulse/internal/legislation"
)

type fakeStore struct {
	bills     map[int64]legislation.Bill
	texts     map[int64]legislation.BillText
	analyses  map[int64][]legislation.Analysis
}

func newFakeStore() *fakeStore {
	return &fakeStore{bills: map[int64]legislation.Bill{}, texts: map[int64]legislation.BillText{}, analyses: map[int64][]legislation.Analysis{}}
}

func (f *fakeStore) GetBill(ctx context.Context, billID int64) (legislation.Bill, error) {
	b, ok := f.bills[billID]
	if !ok {
		return legislation.Bill{}, legislation.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) GetLatestText(ctx context.Context, billID int64) (legislation.BillText, error) {
	t, ok := f.texts[billID]
	if !ok {
		return legislation.BillText{}, legislation.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) InsertAnalysis(ctx context.Context, a legislation.Analysis) (legislation.Analysis, error) {
	a.Version = len(f.analyses[a.BillID]) + 1
	f.analyses[a.BillID] = append(f.analyses[a.BillID], a)
	return a, nil
}

type fakeCounter struct{}

func (fakeCounter) Count(text string) int { return len(strings.Fields(text)) }
func (fakeCounter) IsFallback() bool      { return false }

// fallbackCounter reports IsFallback()==true so tests can exercise spec.md
// §4.1's extra 20% chunking margin.
type fallbackCounter struct{ fakeCounter }

func (fallbackCounter) IsFallback() bool { return true }

type fakeModel struct {
	vision   bool
	response legislation.StructuredAnalysis
	err      error
	calls    int
}

func (f *fakeModel) SupportsVision() bool { return f.vision }
func (f *fakeModel) StructuredCompletion(ctx context.Context, prompt, text string, schema map[string]any) (legislation.StructuredAnalysis, error) {
	f.calls++
	return f.response, f.err
}
func (f *fakeModel) StructuredCompletionWithPdf(ctx context.Context, prompt string, pdfBytes []byte, schema map[string]any) (legislation.StructuredAnalysis, error) {
	f.calls++
	return f.response, f.err
}

func longText(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = "word"
	}
	return strings.Join(parts, " ")
}

func goodAnalysis(level string) legislation.StructuredAnalysis {
	return legislation.StructuredAnalysis{
		Summary: "This bill affects public health funding across the state in a material way.",
		ImpactSummary: legislation.SchemaImpactSummary{
			PrimaryCategory:  "public_health",
			ImpactLevel:      level,
			RelevanceToTexas: "high",
		},
	}
}

func TestAnalyzeShortTextYieldsInsufficientTemplate(t *testing.T) {
	store := newFakeStore()
	store.bills[1] = legislation.Bill{ID: 1, Title: "Test bill", BillNumber: "HB1"}
	store.texts[1] = legislation.BillText{BillID: 1, Content: []byte("too short")}
	model := &fakeModel{response: goodAnalysis("high")}

	e := New(store, model, fakeCounter{}, Config{MaxContextTokens: 1000, SafetyBuffer: 100})
	analysis, err := e.Analyze(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, analysis.InsufficientText)
	assert.Equal(t, 0, model.calls)
}

func TestAnalyzeDirectTextPathUnderBudget(t *testing.T) {
	store := newFakeStore()
	store.bills[1] = legislation.Bill{ID: 1, Title: "Test bill", BillNumber: "HB1"}
	store.texts[1] = legislation.BillText{BillID: 1, Content: []byte(longText(500))}
	model := &fakeModel{response: goodAnalysis("moderate")}

	e := New(store, model, fakeCounter{}, Config{MaxContextTokens: 1000, SafetyBuffer: 100})
	analysis, err := e.Analyze(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, analysis.InsufficientText)
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, legislation.ImpactModerate, analysis.ImpactLevel)
}

func TestAnalyzeChunksLongTextAndMerges(t *testing.T) {
	store := newFakeStore()
	store.bills[1] = legislation.Bill{ID: 1, Title: "Test bill", BillNumber: "HB1"}
	var sb strings.Builder
	for i := 1; i <= 5; i++ {
		sb.WriteString("Section ")
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(".\n")
		sb.WriteString(longText(300))
		sb.WriteString("\n\n")
	}
	store.texts[1] = legislation.BillText{BillID: 1, Content: []byte(sb.String())}
	model := &fakeModel{response: goodAnalysis("critical")}

	e := New(store, model, fakeCounter{}, Config{MaxContextTokens: 200, SafetyBuffer: 20})
	analysis, err := e.Analyze(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, analysis.InsufficientText)
	assert.Greater(t, model.calls, 1)
	assert.Equal(t, legislation.ImpactCritical, analysis.ImpactLevel)
}

func TestAnalyzeFallbackCounterReservesExtraChunkingMargin(t *testing.T) {
	store := newFakeStore()
	store.bills[1] = legislation.Bill{ID: 1, Title: "Test bill", BillNumber: "HB1"}
	var sb strings.Builder
	for i := 1; i <= 5; i++ {
		sb.WriteString("Section ")
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(".\n")
		sb.WriteString(longText(300))
		sb.WriteString("\n\n")
	}
	text := sb.String()
	store.texts[1] = legislation.BillText{BillID: 1, Content: []byte(text)}

	baseline := &fakeModel{response: goodAnalysis("critical")}
	e := New(store, baseline, fakeCounter{}, Config{MaxContextTokens: 200, SafetyBuffer: 20})
	_, err := e.Analyze(context.Background(), 1)
	require.NoError(t, err)

	store.analyses = map[int64][]legislation.Analysis{}
	fallback := &fakeModel{response: goodAnalysis("critical")}
	eFallback := New(store, fallback, fallbackCounter{}, Config{MaxContextTokens: 200, SafetyBuffer: 20})
	_, err = eFallback.Analyze(context.Background(), 1)
	require.NoError(t, err)

	// A smaller effective budget (200 - WithSafetyMargin(20) = 176 vs 180)
	// packs fewer words per chunk, so fallback mode never needs fewer calls.
	assert.GreaterOrEqual(t, fallback.calls, baseline.calls)
}

func TestAnalyzeCachesResult(t *testing.T) {
	store := newFakeStore()
	store.bills[1] = legislation.Bill{ID: 1, Title: "Test bill", BillNumber: "HB1"}
	store.texts[1] = legislation.BillText{BillID: 1, Content: []byte(longText(500))}
	model := &fakeModel{response: goodAnalysis("low")}

	e := New(store, model, fakeCounter{}, Config{MaxContextTokens: 1000, SafetyBuffer: 100, CacheTTL: time.Hour})
	_, err := e.Analyze(context.Background(), 1)
	require.NoError(t, err)
	_, err = e.Analyze(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls)
}

func TestAnalyzeBillNotFound(t *testing.T) {
	store := newFakeStore()
	model := &fakeModel{}
	e := New(store, model, fakeCounter{}, Config{MaxContextTokens: 1000, SafetyBuffer: 100})
	_, err := e.Analyze(context.Background(), 99)
	assert.ErrorIs(t, err, legislation.ErrNotFound)
}

func TestAnalyzeBatchCollectsPerItemFailures(t *testing.T) {
	store := newFakeStore()
	store.bills[1] = legislation.Bill{ID: 1, Title: "Bill One", BillNumber: "HB1"}
	store.texts[1] = legislation.BillText{BillID: 1, Content: []byte(longText(500))}
	model := &fakeModel{response: goodAnalysis("low")}

	e := New(store, model, fakeCounter{}, Config{MaxContextTokens: 1000, SafetyBuffer: 100})
	summary := e.AnalyzeBatch(context.Background(), []int64{1, 2, 3})
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 2, summary.FailureCount)
	assert.Len(t, summary.Failures, 2)
}

func TestAnalyzeSelectsVisionPathForBinaryPdf(t *testing.T) {
	store := newFakeStore()
	store.bills[1] = legislation.Bill{ID: 1, Title: "PDF bill", BillNumber: "HB1"}
	store.texts[1] = legislation.BillText{BillID: 1, IsBinary: true, ContentType: "application/pdf", Content: []byte("%PDF-fake")}
	model := &fakeModel{vision: true, response: goodAnalysis("high")}

	e := New(store, model, fakeCounter{}, Config{MaxContextTokens: 1000, SafetyBuffer: 100})
	analysis, err := e.Analyze(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, analysis.InsufficientText)
	assert.Equal(t, 1, model.calls)
}
