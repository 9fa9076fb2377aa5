// Package relevance scores a bill's public-health and local-government
// relevance from simple keyword matching against its title and description.
package relevance

import "strings"

// HealthKeywords and LocalGovKeywords are the seed dictionaries carried
// over verbatim from the original implementation's RelevanceScorer
// (app/legiscan/relevance.py); spec.md §4.4 leaves the exact sets
// unspecified beyond "spec-defined seed sets, configurable", so these are
// the resolved values.
var HealthKeywords = []string{
	"health", "healthcare", "public health", "medicaid", "medicare", "hospital",
	"physician", "vaccine", "immunization", "disease", "epidemic", "public health emergency",
	"mental health", "substance abuse", "addiction", "opioid", "healthcare workforce",
}

var LocalGovKeywords = []string{
	"municipal", "county", "local government", "city council", "zoning",
	"property tax", "infrastructure", "public works", "community development",
	"ordinance", "school district", "special district", "county commissioner",
}

const (
	pointsPerKeyword = 10
	maxScore         = 100
)

// Score is the result of Calculate: three 0-100 integer scores.
type Score struct {
	PublicHealthRelevance int
	LocalGovRelevance     int
	OverallPriority       int
}

// Calculate scores title+" "+description against both keyword dictionaries.
// Each dictionary contributes min(100, 10*distinctHits); overall is the
// integer-divided average of the two, matching spec.md §4.4.
func Calculate(title, description string) Score {
	combined := strings.ToLower(title + " " + description)

	health := countHits(combined, HealthKeywords)
	localGov := countHits(combined, LocalGovKeywords)

	return Score{
		PublicHealthRelevance: health,
		LocalGovRelevance:     localGov,
		OverallPriority:       (health + localGov) / 2,
	}
}

func countHits(combinedLower string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(combinedLower, strings.ToLower(kw)) {
			hits++
		}
	}
	score := hits * pointsPerKeyword
	if score > maxScore {
		score = maxScore
	}
	return score
}
