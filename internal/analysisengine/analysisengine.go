// Package analysisengine implements AnalysisEngine (spec.md §4.10): select
// a content source for a bill, drive one or more model calls, merge
// multi-chunk results, and persist a new Analysis version with the
// in-memory cache, bounded batch concurrency, and insufficient-text
// fallback the spec requires.
package analysisengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aphchrisc/policypulse/internal/chunker"
	"github.com/aphchrisc/policypulse/internal/clock"
	"github.com/aphchrisc/policypulse/internal/legislation"
	"github.com/aphchrisc/policypulse/internal/logging"
	"github.com/aphchrisc/policypulse/internal/merge"
	"github.com/aphchrisc/policypulse/internal/modelclient"
	"github.com/aphchrisc/policypulse/internal/pdfextract"
	"github.com/aphchrisc/policypulse/internal/tokencount"
)

// insufficientTextTokenThreshold is spec.md §4.10 step 5b's floor: below
// this, content is too sparse to analyze at all.
const insufficientTextTokenThreshold = 300

// insufficientSummaryCharThreshold is spec.md §4.10's other insufficiency
// signal: a model summary this short (or equal to the marker) is treated as
// insufficientText regardless of its token count.
const insufficientSummaryCharThreshold = 20

// BillStore is the subset of store.Store AnalysisEngine depends on.
type BillStore interface {
	GetBill(ctx context.Context, billID int64) (legislation.Bill, error)
	GetLatestText(ctx context.Context, billID int64) (legislation.BillText, error)
	InsertAnalysis(ctx context.Context, a legislation.Analysis) (legislation.Analysis, error)
}

// TokenCounter is the Counter contract chunker.Chunk also depends on, plus
// the fallback signal spec.md §4.1 requires: when the real BPE tokenizer is
// unavailable and Count is running on the character-based estimate, the
// chunking budget must reserve an extra 20% margin.
type TokenCounter interface {
	Count(text string) int
	IsFallback() bool
}

// Config configures a new Engine.
type Config struct {
	MaxContextTokens int
	SafetyBuffer     int
	CacheTTL         time.Duration
	MaxConcurrent    int
	Clock            clock.Clock
	Log              logging.Logger
}

// Engine is AnalysisEngine.
type Engine struct {
	store   BillStore
	model   modelclient.Client
	counter TokenCounter
	cfg     Config
	clock   clock.Clock
	log     logging.Logger

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

type cacheEntry struct {
	insertedAt time.Time
	record     legislation.Analysis
}

// New builds an Engine. Clock and Log default to clock.System{} and
// logging.Noop{} when left zero; MaxConcurrent defaults to 5 and CacheTTL
// to 30 minutes per spec.md §4.10, matching config.Load's defaults.
func New(store BillStore, model modelclient.Client, counter TokenCounter, cfg Config) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	l := cfg.Log
	if l == nil {
		l = logging.Noop{}
	}
	return &Engine{
		store:   store,
		model:   model,
		counter: counter,
		cfg:     cfg,
		clock:   c,
		log:     l,
		cache:   make(map[int64]cacheEntry),
	}
}

// Analyze is the synchronous entry point (spec.md §4.10's analyze/
// analyzeAsync - Go's goroutine model makes the two identical; callers that
// want "async" simply invoke Analyze from their own goroutine).
func (e *Engine) Analyze(ctx context.Context, billID int64) (legislation.Analysis, error) {
	if cached, ok := e.cacheGet(billID); ok {
		return cached, nil
	}

	bill, err := e.store.GetBill(ctx, billID)
	if err != nil {
		if errors.Is(err, legislation.ErrNotFound) {
			return legislation.Analysis{}, legislation.ErrNotFound
		}
		return legislation.Analysis{}, err
	}

	text, err := e.store.GetLatestText(ctx, billID)
	hasText := err == nil
	if err != nil && !errors.Is(err, legislation.ErrNotFound) {
		return legislation.Analysis{}, err
	}

	structured, insufficient, err := e.runModel(ctx, bill, text, hasText)
	if err != nil {
		return legislation.Analysis{}, err
	}

	analysis := toAnalysis(billID, structured, insufficient, e.clock.Now())
	persisted, err := e.store.InsertAnalysis(ctx, analysis)
	if err != nil {
		return legislation.Analysis{}, err
	}

	e.cacheSet(billID, persisted)
	return persisted, nil
}

// runModel selects the content source and drives the model call(s),
// implementing spec.md §4.10 steps 3-5.
func (e *Engine) runModel(ctx context.Context, bill legislation.Bill, text legislation.BillText, hasText bool) (legislation.StructuredAnalysis, bool, error) {
	prompt := modelclient.BuildPrompt(bill.Title, bill.BillNumber)
	schema := legislation.ResponseJSONSchema()

	if hasText && text.IsBinary && text.ContentType == "application/pdf" && e.model.SupportsVision() {
		result, err := e.model.StructuredCompletionWithPdf(ctx, prompt, text.Content, schema)
		if err != nil {
			e.log.Error("analysisengine: pdf completion failed", map[string]any{"billId": bill.ID, "error": err.Error()})
			return legislation.InsufficientTextTemplate(), true, nil
		}
		analysis, insufficient := e.classify(result)
		return analysis, insufficient, nil
	}

	content := e.resolveText(bill, text, hasText)
	return e.runTextPath(ctx, bill, prompt, schema, content)
}

func (e *Engine) resolveText(bill legislation.Bill, text legislation.BillText, hasText bool) string {
	if hasText && !text.IsBinary {
		return text.AsText()
	}
	if hasText && text.IsBinary && text.ContentType == "application/pdf" {
		return pdfextract.Extract(text.Content)
	}
	return bill.Description
}

func (e *Engine) runTextPath(ctx context.Context, bill legislation.Bill, prompt string, schema map[string]any, text string) (legislation.StructuredAnalysis, bool, error) {
	tokens := e.counter.Count(text)

	if tokens < insufficientTextTokenThreshold {
		return legislation.InsufficientTextTemplate(), true, nil
	}

	if tokens <= e.cfg.MaxContextTokens {
		result, err := e.model.StructuredCompletion(ctx, prompt, text, schema)
		if err != nil {
			return legislation.StructuredAnalysis{}, false, err
		}
		analysis, insufficient := e.classify(result)
		return analysis, insufficient, nil
	}

	safetyBuffer := e.cfg.SafetyBuffer
	if e.counter.IsFallback() {
		safetyBuffer = tokencount.WithSafetyMargin(safetyBuffer)
	}
	budget := e.cfg.MaxContextTokens - safetyBuffer
	chunks, _ := chunker.Chunk(e.counter, text, budget)
	if len(chunks) == 1 {
		result, err := e.model.StructuredCompletion(ctx, prompt, chunks[0], schema)
		if err != nil {
			return legislation.StructuredAnalysis{}, false, err
		}
		analysis, insufficient := e.classify(result)
		return analysis, insufficient, nil
	}

	var results []legislation.StructuredAnalysis
	for _, chunk := range chunks {
		result, err := e.model.StructuredCompletion(ctx, prompt, chunk, schema)
		if err != nil {
			e.log.Error("analysisengine: chunk completion failed", map[string]any{"billId": bill.ID, "error": err.Error()})
			continue
		}
		results = append(results, result)
	}
	if len(results) == 0 {
		return legislation.StructuredAnalysis{}, false, &legislation.ContentProcessingError{BillID: bill.ID, Reason: "no chunk produced a valid analysis"}
	}
	merged := merge.Merge(results, merge.Meta{Title: bill.Title, BillNumber: bill.BillNumber, ChunksAnalyzed: len(results)})
	analysis, insufficient := e.classify(merged)
	return analysis, insufficient, nil
}

// classify applies spec.md §4.10's "summary equal to marker OR shorter than
// 20 characters" insufficiency rule, replacing the payload with the
// canonical template when it fires. The returned bool reports whether it
// fired.
func (e *Engine) classify(result legislation.StructuredAnalysis) (legislation.StructuredAnalysis, bool) {
	if modelclient.IsInsufficientText(result) || len(result.Summary) < insufficientSummaryCharThreshold {
		return legislation.InsufficientTextTemplate(), true
	}
	return result, false
}

func toAnalysis(billID int64, s legislation.StructuredAnalysis, insufficient bool, now time.Time) legislation.Analysis {
	var keyPoints []legislation.KeyPoint
	for _, kp := range s.KeyPoints {
		keyPoints = append(keyPoints, legislation.KeyPoint{Point: kp.Point, ImpactType: kp.ImpactType})
	}
	return legislation.Analysis{
		BillID:       billID,
		AnalysisDate: now,
		Summary:      s.Summary,
		KeyPoints:    keyPoints,
		PublicHealthImpacts: legislation.ImpactBucket{
			Direct:     stringSlice(s.PublicHealthImpacts.DirectEffects),
			Indirect:   stringSlice(s.PublicHealthImpacts.IndirectEffects),
			Funding:    stringSlice(s.PublicHealthImpacts.FundingImpact),
			Vulnerable: s.PublicHealthImpacts.VulnerablePopulations,
		},
		LocalGovernmentImpacts: legislation.ImpactBucket{
			Administrative: stringSlice(s.LocalGovernmentImpacts.Administrative),
			Fiscal:         stringSlice(s.LocalGovernmentImpacts.Fiscal),
			Implementation: s.LocalGovernmentImpacts.Implementation,
		},
		EconomicImpacts: legislation.ImpactBucket{
			Costs:           stringSlice(s.EconomicImpacts.DirectCosts),
			EconomicEffects: stringSlice(s.EconomicImpacts.EconomicEffects),
			Benefits:        stringSlice(s.EconomicImpacts.Benefits),
			LongTerm:        s.EconomicImpacts.LongTermImpact,
		},
		EnvironmentalImpacts:  s.EnvironmentalImpacts,
		EducationImpacts:      s.EducationImpacts,
		InfrastructureImpacts: s.InfrastructureImpacts,
		RecommendedActions:    s.RecommendedActions,
		ImmediateActions:      s.ImmediateActions,
		ResourceNeeds:         s.ResourceNeeds,
		ImpactCategory:        legislation.ImpactCategory(s.ImpactSummary.PrimaryCategory),
		ImpactLevel:           legislation.ImpactLevel(s.ImpactSummary.ImpactLevel),
		RelevanceToTexas:      s.ImpactSummary.RelevanceToTexas,
		InsufficientText:      insufficient,
		RawPayload:            legislation.MarshalRaw(s),
	}
}

func stringSlice(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func (e *Engine) cacheGet(billID int64) (legislation.Analysis, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[billID]
	if !ok {
		return legislation.Analysis{}, false
	}
	if e.clock.Now().Sub(entry.insertedAt) >= e.cfg.CacheTTL {
		delete(e.cache, billID)
		return legislation.Analysis{}, false
	}
	return entry.record, true
}

func (e *Engine) cacheSet(billID int64, record legislation.Analysis) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[billID] = cacheEntry{insertedAt: e.clock.Now(), record: record}
}

// BatchSummary is the result of AnalyzeBatch (spec.md §4.10's Summary).
type BatchSummary struct {
	SuccessCount    int
	FailureCount    int
	DurationSeconds float64
	AvgPerItem      float64
	Failures        []BatchFailure
}

// BatchFailure is one per-item failure entry in a BatchSummary.
type BatchFailure struct {
	BillID int64
	Error  string
}

// AnalyzeBatch runs Analyze over billIDs with bounded concurrency
// (spec.md §5's analyzeBatchAsync semaphore of width maxConcurrent).
// Per-item failures do not cancel siblings; cancellation of ctx stops
// admission of new items but lets in-flight items finish or fail with
// legislation.ErrCancelled.
func (e *Engine) AnalyzeBatch(ctx context.Context, billIDs []int64) BatchSummary {
	start := e.clock.Now()
	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrent))

	var mu sync.Mutex
	var summary BatchSummary
	var wg sync.WaitGroup

	for _, id := range billIDs {
		if ctx.Err() != nil {
			mu.Lock()
			summary.FailureCount++
			summary.Failures = append(summary.Failures, BatchFailure{BillID: id, Error: legislation.ErrCancelled.Error()})
			mu.Unlock()
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			summary.FailureCount++
			summary.Failures = append(summary.Failures, BatchFailure{BillID: id, Error: legislation.ErrCancelled.Error()})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(billID int64) {
			defer wg.Done()
			defer sem.Release(1)

			_, err := e.Analyze(ctx, billID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					err = fmt.Errorf("%w: %v", legislation.ErrCancelled, err)
				}
				summary.FailureCount++
				summary.Failures = append(summary.Failures, BatchFailure{BillID: billID, Error: err.Error()})
				return
			}
			summary.SuccessCount++
		}(id)
	}

	wg.Wait()
	summary.DurationSeconds = e.clock.Now().Sub(start).Seconds()
	total := summary.SuccessCount + summary.FailureCount
	if total > 0 {
		summary.AvgPerItem = summary.DurationSeconds / float64(total)
	}
	return summary
}
