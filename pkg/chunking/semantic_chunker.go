package chunking

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/tokenizer"
)

// sentenceEnd marks sentence boundaries: terminator followed by whitespace.
// The terminator stays with its sentence.
var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Config configures the semantic chunker
type Config struct {
	MinChunkTokens int // sections below this merge with neighbors
	MaxChunkTokens int // sections above this split
	OverlapTokens  int // trailing tokens repeated at the head of the next split
}

// DefaultConfig returns the default chunking configuration
func DefaultConfig() Config {
	return Config{
		MinChunkTokens: 50,
		MaxChunkTokens: 500,
		OverlapTokens:  100,
	}
}

// SemanticChunker merges small sections and splits large ones
type SemanticChunker struct {
	tokenizer tokenizer.Tokenizer
	config    Config
	logger    observability.Logger
}

// NewSemanticChunker creates a chunker. Zero config fields fall back to the
// defaults; an overlap at or above the max chunk size is halved.
func NewSemanticChunker(tok tokenizer.Tokenizer, config Config, logger observability.Logger) *SemanticChunker {
	if logger == nil {
		logger = observability.NewLogger("chunking")
	}
	defaults := DefaultConfig()
	if config.MinChunkTokens <= 0 {
		config.MinChunkTokens = defaults.MinChunkTokens
	}
	if config.MaxChunkTokens <= 0 {
		config.MaxChunkTokens = defaults.MaxChunkTokens
	}
	if config.OverlapTokens < 0 {
		config.OverlapTokens = defaults.OverlapTokens
	}
	if config.OverlapTokens >= config.MaxChunkTokens {
		logger.Warn("Overlap at or above max chunk tokens, reducing", map[string]interface{}{
			"overlap_tokens":   config.OverlapTokens,
			"max_chunk_tokens": config.MaxChunkTokens,
		})
		config.OverlapTokens = config.MaxChunkTokens / 2
	}
	return &SemanticChunker{
		tokenizer: tok,
		config:    config,
		logger:    logger,
	}
}

// Config returns the normalized configuration in effect
func (c *SemanticChunker) Config() Config {
	return c.config
}

// Chunk converts ordered sections into ordered chunks. Chunk indices are
// sequential from zero across the whole document.
func (c *SemanticChunker) Chunk(ctx context.Context, sections []Section) ([]Chunk, error) {
	if len(sections) == 0 {
		return []Chunk{}, nil
	}

	merged := c.mergeSmallSections(sections)

	chunks := []Chunk{}
	for idx, section := range merged {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		parentID := fmt.Sprintf("section_%d", idx)
		content := strings.TrimSpace(section.Content)
		if content == "" {
			continue
		}

		if c.tokenizer.CountTokens(content) <= c.config.MaxChunkTokens {
			chunks = append(chunks, c.newChunk(content, len(chunks), section, parentID))
			continue
		}

		for _, part := range c.splitByTokenLimit(content) {
			chunks = append(chunks, c.newChunk(part, len(chunks), section, parentID))
		}
	}

	c.logger.Debug("Chunking complete", map[string]interface{}{
		"sections":        len(sections),
		"merged_sections": len(merged),
		"chunks":          len(chunks),
	})

	return chunks, nil
}

// mergeSmallSections accumulates consecutive sections below the minimum and
// joins them with blank lines. Merged sections lose their titles and keep the
// first contributing page number. Whitespace-only sections are dropped.
func (c *SemanticChunker) mergeSmallSections(sections []Section) []Section {
	var merged []Section
	var pending []string
	var pendingPage *int

	flush := func() {
		if len(pending) == 0 {
			return
		}
		merged = append(merged, Section{
			Content:    strings.Join(pending, "\n\n"),
			PageNumber: pendingPage,
		})
		pending = nil
		pendingPage = nil
	}

	for _, section := range sections {
		if strings.TrimSpace(section.Content) == "" {
			continue
		}
		if c.tokenizer.CountTokens(section.Content) >= c.config.MinChunkTokens {
			flush()
			merged = append(merged, section)
			continue
		}
		if pendingPage == nil {
			pendingPage = section.PageNumber
		}
		pending = append(pending, section.Content)
	}
	flush()

	return merged
}

// splitByTokenLimit splits text at sentence boundaries, greedily filling each
// chunk to the max and prepending overlap sentences from the previous chunk.
// A single sentence over the limit force-splits at word boundaries.
func (c *SemanticChunker) splitByTokenLimit(text string) []string {
	sentences := c.splitSentences(text)

	var parts []string
	var current []string
	currentTokens := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		parts = append(parts, strings.Join(current, " "))
	}

	for _, sentence := range sentences {
		sentenceTokens := c.tokenizer.CountTokens(sentence)

		if sentenceTokens > c.config.MaxChunkTokens {
			emit()
			current = nil
			currentTokens = 0
			parts = append(parts, c.splitLargeSentence(sentence)...)
			continue
		}

		if currentTokens+sentenceTokens > c.config.MaxChunkTokens {
			emit()
			current = c.overlapSentences(current)
			current = append(current, sentence)
			currentTokens = c.tokenizer.CountTokens(strings.Join(current, " "))
			continue
		}

		current = append(current, sentence)
		currentTokens += sentenceTokens
	}
	emit()

	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// splitSentences keeps terminators with their sentences. Text without
// sentence punctuation falls back to line splitting, then to the whole text.
func (c *SemanticChunker) splitSentences(text string) []string {
	var sentences []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentence := strings.TrimSpace(text[start : loc[0]+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}

	if len(sentences) <= 1 {
		var lines []string
		for _, line := range strings.Split(text, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				lines = append(lines, trimmed)
			}
		}
		if len(lines) > 1 {
			return lines
		}
	}

	if len(sentences) == 0 {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}
	return sentences
}

// splitLargeSentence force-splits a sentence that alone exceeds the max.
// Each candidate is recounted joined so no part ever exceeds the limit.
func (c *SemanticChunker) splitLargeSentence(sentence string) []string {
	words := strings.Fields(sentence)

	var parts []string
	var current []string

	for _, word := range words {
		candidate := append(current, word)
		if c.tokenizer.CountTokens(strings.Join(candidate, " ")) > c.config.MaxChunkTokens && len(current) > 0 {
			parts = append(parts, strings.Join(current, " "))
			current = []string{word}
			continue
		}
		current = candidate
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}

// overlapSentences returns trailing sentences of the previous chunk that fit
// within the overlap budget, in original order
func (c *SemanticChunker) overlapSentences(previous []string) []string {
	if len(previous) == 0 || c.config.OverlapTokens <= 0 {
		return nil
	}

	var overlap []string
	tokens := 0
	for i := len(previous) - 1; i >= 0; i-- {
		sentenceTokens := c.tokenizer.CountTokens(previous[i])
		if tokens+sentenceTokens > c.config.OverlapTokens {
			break
		}
		overlap = append([]string{previous[i]}, overlap...)
		tokens += sentenceTokens
	}
	return overlap
}

func (c *SemanticChunker) newChunk(content string, index int, section Section, parentID string) Chunk {
	return Chunk{
		ChunkIndex:      index,
		Content:         content,
		ContentHash:     ContentHash(content),
		TokenCount:      c.tokenizer.CountTokens(content),
		SectionTitle:    section.Title,
		PageNumber:      section.PageNumber,
		ParentSectionID: parentID,
	}
}
