// Package merge combines per-chunk analyses produced by the AnalysisEngine
// into a single analysis, following spec.md §4.5's deterministic rules. The
// algorithm is pure: no I/O, no clock, fully unit-testable.
package merge

import (
	"strings"

	"github.com/aphchrisc/policypulse/internal/legislation"
)

const (
	summaryMaxChars      = 2000
	summaryEllipsis      = "..."
	keyPointsCap         = 15
	bucketListCap        = 8
	flatListCap          = 10
	recommendedActionsCap = 8
	shortActionListCap   = 5
)

// Meta carries bill-level context alongside the chunk analyses. Merge
// accepts it but does not read any of its fields.
type Meta struct {
	Title          string
	BillNumber     string
	ChunksAnalyzed int
}

// Merge combines chunks (in original order) into one StructuredAnalysis.
// It never reorders chunks and never drops a chunk silently; chunks must be
// non-empty (callers filter out failed chunk calls before invoking Merge,
// and treat a fully-empty input as ContentProcessingError).
func Merge(chunks []legislation.StructuredAnalysis, meta Meta) legislation.StructuredAnalysis {
	var out legislation.StructuredAnalysis

	out.Summary = mergeSummary(chunks)
	out.KeyPoints = mergeKeyPoints(chunks)

	out.PublicHealthImpacts = mergeHealthImpacts(chunks)
	out.LocalGovernmentImpacts = mergeLocalGovImpacts(chunks)
	out.EconomicImpacts = mergeEconomicImpacts(chunks)

	out.EnvironmentalImpacts = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.EnvironmentalImpacts }), flatListCap)
	out.EducationImpacts = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.EducationImpacts }), flatListCap)
	out.InfrastructureImpacts = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.InfrastructureImpacts }), flatListCap)

	out.RecommendedActions = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.RecommendedActions }), recommendedActionsCap)
	out.ImmediateActions = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.ImmediateActions }), shortActionListCap)
	out.ResourceNeeds = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.ResourceNeeds }), shortActionListCap)

	out.ImpactSummary = selectMostSevere(chunks)

	return out
}

func mergeSummary(chunks []legislation.StructuredAnalysis) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if s := strings.TrimSpace(c.Summary); s != "" {
			parts = append(parts, s)
		}
	}
	joined := strings.Join(parts, " ")
	if len(joined) <= summaryMaxChars {
		return joined
	}
	cut := summaryMaxChars - len(summaryEllipsis)
	if cut < 0 {
		cut = 0
	}
	return joined[:cut] + summaryEllipsis
}

func mergeKeyPoints(chunks []legislation.StructuredAnalysis) []legislation.SchemaKeyPoint {
	seen := make(map[string]bool)
	var out []legislation.SchemaKeyPoint
	for _, c := range chunks {
		for _, kp := range c.KeyPoints {
			if seen[kp.Point] {
				continue
			}
			seen[kp.Point] = true
			out = append(out, kp)
			if len(out) >= keyPointsCap {
				return out
			}
		}
	}
	return out
}

func mergeHealthImpacts(chunks []legislation.StructuredAnalysis) legislation.SchemaHealthImpacts {
	var out legislation.SchemaHealthImpacts
	out.DirectEffects = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.PublicHealthImpacts.DirectEffects })
	out.IndirectEffects = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.PublicHealthImpacts.IndirectEffects })
	out.FundingImpact = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.PublicHealthImpacts.FundingImpact })
	out.VulnerablePopulations = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.PublicHealthImpacts.VulnerablePopulations }), bucketListCap)
	return out
}

func mergeLocalGovImpacts(chunks []legislation.StructuredAnalysis) legislation.SchemaLocalGovImpacts {
	var out legislation.SchemaLocalGovImpacts
	out.Administrative = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.LocalGovernmentImpacts.Administrative })
	out.Fiscal = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.LocalGovernmentImpacts.Fiscal })
	out.Implementation = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.LocalGovernmentImpacts.Implementation }), bucketListCap)
	return out
}

func mergeEconomicImpacts(chunks []legislation.StructuredAnalysis) legislation.SchemaEconomicImpacts {
	var out legislation.SchemaEconomicImpacts
	out.DirectCosts = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.EconomicImpacts.DirectCosts })
	out.EconomicEffects = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.EconomicImpacts.EconomicEffects })
	out.Benefits = firstNonEmpty(chunks, func(a legislation.StructuredAnalysis) string { return a.EconomicImpacts.Benefits })
	out.LongTermImpact = unionCap(collectFlat(chunks, func(a legislation.StructuredAnalysis) []string { return a.EconomicImpacts.LongTermImpact }), bucketListCap)
	return out
}

func firstNonEmpty(chunks []legislation.StructuredAnalysis, get func(legislation.StructuredAnalysis) string) string {
	for _, c := range chunks {
		if v := strings.TrimSpace(get(c)); v != "" {
			return v
		}
	}
	return ""
}

func collectFlat(chunks []legislation.StructuredAnalysis, get func(legislation.StructuredAnalysis) []string) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, get(c)...)
	}
	return out
}

// unionCap dedups items preserving first-occurrence order and caps the
// result at max.
func unionCap(items []string, max int) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, max)
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
		if len(out) >= max {
			break
		}
	}
	return out
}

var severityRank = map[string]int{
	"critical": 4,
	"high":     3,
	"moderate": 2,
	"low":      1,
}

// selectMostSevere picks the chunk's impactSummary with the highest
// severity impactLevel, breaking ties by earliest index.
func selectMostSevere(chunks []legislation.StructuredAnalysis) legislation.SchemaImpactSummary {
	bestIdx := -1
	bestRank := -1
	for i, c := range chunks {
		r := severityRank[strings.ToLower(c.ImpactSummary.ImpactLevel)]
		if r > bestRank {
			bestRank = r
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return legislation.SchemaImpactSummary{}
	}
	return chunks[bestIdx].ImpactSummary
}
