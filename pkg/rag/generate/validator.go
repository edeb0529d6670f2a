package generate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// citationRegex matches bracketed citations like [Source 1] and [Source 2, 3].
var citationRegex = regexp.MustCompile(`(?i)\[Source\s+\d+(?:\s*,\s*\d+)*\]`)

var numberRegex = regexp.MustCompile(`\d+`)

// uncertaintyPhrases signal the model could not ground an answer. Matched
// case-insensitively as substrings.
var uncertaintyPhrases = []string{
	"i don't have",
	"i do not have",
	"insufficient information",
	"not enough information",
	"cannot find",
	"unable to answer",
	"no information",
	"sources don't contain",
	"sources do not contain",
}

// genericPhrases are filler that often accompanies unsupported claims.
var genericPhrases = []string{
	"in general",
	"typically",
	"usually",
	"commonly",
	"it is known that",
	"studies show",
	"research indicates",
}

// Validation is the citation audit of one generated answer.
type Validation struct {
	Citations        []int
	InvalidCitations []int
	HasHallucination bool
	Confidence       float64
	Warnings         []string
}

// Validator audits answers against the sources the model was actually given.
type Validator struct {
	logger observability.Logger
}

// NewValidator creates an answer validator.
func NewValidator(logger observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NewLogger("generate.validator")
	}
	return &Validator{logger: logger}
}

// Validate extracts citations, checks them against the source map, applies
// the hallucination heuristics, and scores confidence.
func (v *Validator) Validate(answer string, sourceMap map[int]models.SourceInfo) Validation {
	citations := extractCitations(answer)
	invalid := invalidCitations(citations, sourceMap)
	hallucination := detectHallucination(answer, citations, invalid)
	confidence := calculateConfidence(answer, citations, invalid)

	result := Validation{
		Citations:        citations,
		InvalidCitations: invalid,
		HasHallucination: hallucination,
		Confidence:       confidence,
		Warnings:         buildWarnings(citations, invalid, confidence, hallucination),
	}

	v.logger.Debug("Answer validated", map[string]interface{}{
		"citations":         len(citations),
		"invalid_citations": len(invalid),
		"has_hallucination": hallucination,
		"confidence":        confidence,
		"warnings":          len(result.Warnings),
	})

	return result
}

// extractCitations returns the unique citation numbers in ascending order.
func extractCitations(answer string) []int {
	seen := make(map[int]bool)
	for _, match := range citationRegex.FindAllString(answer, -1) {
		for _, num := range numberRegex.FindAllString(match, -1) {
			n, err := strconv.Atoi(num)
			if err != nil {
				continue
			}
			seen[n] = true
		}
	}
	citations := make([]int, 0, len(seen))
	for n := range seen {
		citations = append(citations, n)
	}
	sort.Ints(citations)
	return citations
}

// invalidCitations returns cited numbers with no corresponding source.
func invalidCitations(citations []int, sourceMap map[int]models.SourceInfo) []int {
	invalid := make([]int, 0)
	for _, c := range citations {
		if _, ok := sourceMap[c]; !ok {
			invalid = append(invalid, c)
		}
	}
	return invalid
}

// detectHallucination flags substantive uncited answers, invalid citations,
// and generic-knowledge filler with too few citations.
func detectHallucination(answer string, citations, invalid []int) bool {
	wordCount := len(strings.Fields(answer))
	if wordCount > 20 && len(citations) == 0 {
		return true
	}
	if len(invalid) > 0 {
		return true
	}
	if countPhrases(answer, genericPhrases) > 2 && len(citations) < 2 {
		return true
	}
	return false
}

// calculateConfidence scores an answer in [0, 1]: base 0.5, up to +0.4 for
// the valid citation ratio, +0.3 when nothing invalid is cited (penalty
// otherwise), up to +0.2 for citation density, and +0.1 when the answer
// expresses no uncertainty (penalty otherwise).
func calculateConfidence(answer string, citations, invalid []int) float64 {
	score := 0.5

	if len(citations) > 0 {
		valid := len(citations) - len(invalid)
		if valid > 0 {
			score += 0.4 * float64(valid) / float64(len(citations))
		}
	}

	if len(invalid) == 0 {
		score += 0.3
	} else {
		score -= 0.3 * float64(len(invalid)) / float64(len(citations))
	}

	wordCount := len(strings.Fields(answer))
	if wordCount > 0 {
		density := float64(len(citations)) / float64(wordCount) * 100
		score += min(0.2, density/25*0.2)
	}

	uncertainty := countPhrases(answer, uncertaintyPhrases)
	if uncertainty == 0 {
		score += 0.1
	} else {
		score -= min(0.1, float64(uncertainty)*0.05)
	}

	return max(0.0, min(1.0, score))
}

func buildWarnings(citations, invalid []int, confidence float64, hallucination bool) []string {
	warnings := make([]string, 0, 4)
	if len(citations) == 0 {
		warnings = append(warnings, "Answer does not cite any sources. Verify factual accuracy.")
	}
	if len(invalid) > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"Answer contains invalid citations: %v. These sources were not provided in the context.", invalid))
	}
	if confidence < 0.5 {
		warnings = append(warnings, fmt.Sprintf(
			"Low confidence score (%.2f). Answer may not be reliable.", confidence))
	}
	if hallucination {
		warnings = append(warnings, "Potential hallucinations detected. Answer may contain unsupported claims.")
	}
	return warnings
}

func countPhrases(answer string, phrases []string) int {
	lower := strings.ToLower(answer)
	count := 0
	for _, phrase := range phrases {
		count += strings.Count(lower, phrase)
	}
	return count
}
