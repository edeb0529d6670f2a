// Package classify assigns queries to retrieval strategy classes.
package classify

import (
	"regexp"
	"strings"
)

// Class is the retrieval strategy bucket a query falls into.
type Class string

// Query classes
const (
	Factual        Class = "factual"
	Comparative    Class = "comparative"
	Temporal       Class = "temporal"
	Conversational Class = "conversational"
	MultiHop       Class = "multi_hop"
)

// Classes lists all classes in scoring order.
var Classes = []Class{Factual, Comparative, Temporal, Conversational, MultiHop}

// multiHopThreshold is the score at which MultiHop wins outright; compound
// queries need the wider retrieval regardless of other signals.
const multiHopThreshold = 2

var classPatterns = map[Class][]*regexp.Regexp{
	Factual: {
		regexp.MustCompile(`(?i)\b(what|who|when|where|which|how many|how much)\b`),
		regexp.MustCompile(`(?i)\b(define|definition|explain|describe)\b`),
		regexp.MustCompile(`(?i)\b(is|are|was|were|does|did)\b.*\?`),
	},
	Comparative: {
		regexp.MustCompile(`(?i)\b(vs|versus|compare|comparison|difference|similar|different)\b`),
		regexp.MustCompile(`(?i)\b(better|worse|more|less|greater|smaller)\s+than\b`),
		regexp.MustCompile(`(?i)\b(advantage|disadvantage|pros|cons)\b`),
	},
	Temporal: {
		regexp.MustCompile(`(?i)\b(before|after|during|since|until|between)\b`),
		regexp.MustCompile(`(?i)\b(recent|latest|current|past|future|history)\b`),
		regexp.MustCompile(`(?i)\b(today|yesterday|tomorrow|last|next)\b`),
		regexp.MustCompile(`(?i)\b(timeline|chronology|sequence|evolution)\b`),
	},
	Conversational: {
		regexp.MustCompile(`(?i)\b(also|too|as well|additionally|furthermore)\b`),
		regexp.MustCompile(`(?i)\b(this|that|these|those|it|they)\b`),
		regexp.MustCompile(`(?i)\b(tell me more|can you|what about)\b`),
	},
	MultiHop: {
		regexp.MustCompile(`(?i)\band\b.*\band\b`),
		regexp.MustCompile(`(?i)\bor\b.*\bor\b`),
		regexp.MustCompile(`(?i)\b(both|all|each|every)\b`),
		regexp.MustCompile(`(?i)\b(first.*then|step.*step)\b`),
		regexp.MustCompile(`(?i)\b(because|therefore|thus|hence)\b`),
	},
}

// ClassifiedQuery carries the winning class and the per-class pattern scores.
type ClassifiedQuery struct {
	Class  Class
	Scores map[Class]int
}

// Classify scores the query against every class's pattern family. MultiHop
// wins outright at score >= 2; otherwise the highest score wins, with ties
// and all-zero defaulting to Factual.
func Classify(query string) ClassifiedQuery {
	query = strings.TrimSpace(query)

	scores := make(map[Class]int, len(Classes))
	for _, class := range Classes {
		score := 0
		for _, pattern := range classPatterns[class] {
			if pattern.MatchString(query) {
				score++
			}
		}
		scores[class] = score
	}

	if scores[MultiHop] >= multiHopThreshold {
		return ClassifiedQuery{Class: MultiHop, Scores: scores}
	}

	best := Factual
	bestScore := 0
	tied := false
	for _, class := range Classes {
		switch {
		case scores[class] > bestScore:
			best = class
			bestScore = scores[class]
			tied = false
		case scores[class] == bestScore && class != best && bestScore > 0:
			tied = true
		}
	}

	if bestScore == 0 || tied {
		best = Factual
	}
	return ClassifiedQuery{Class: best, Scores: scores}
}

// RetrievalParams are the class-tuned knobs for the hybrid retriever.
type RetrievalParams struct {
	TopK          int
	DenseWeight   float64
	LexicalWeight float64
	RecencyWeight float64
	MMRLambda     float64
}

var retrievalParams = map[Class]RetrievalParams{
	Factual:        {TopK: 5, DenseWeight: 0.7, LexicalWeight: 0.2, RecencyWeight: 0.1, MMRLambda: 0.5},
	Comparative:    {TopK: 8, DenseWeight: 0.6, LexicalWeight: 0.3, RecencyWeight: 0.1, MMRLambda: 0.7},
	Temporal:       {TopK: 5, DenseWeight: 0.5, LexicalWeight: 0.2, RecencyWeight: 0.3, MMRLambda: 0.6},
	Conversational: {TopK: 5, DenseWeight: 0.8, LexicalWeight: 0.1, RecencyWeight: 0.1, MMRLambda: 0.5},
	MultiHop:       {TopK: 10, DenseWeight: 0.6, LexicalWeight: 0.3, RecencyWeight: 0.1, MMRLambda: 0.8},
}

// ParamsFor returns the retrieval parameters for a class, falling back to
// the Factual defaults for unknown values.
func ParamsFor(class Class) RetrievalParams {
	if params, ok := retrievalParams[class]; ok {
		return params
	}
	return retrievalParams[Factual]
}
