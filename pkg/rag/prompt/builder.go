// Package prompt renders ranked chunks into numbered source blocks and
// assembles the system and user prompts for generation. Source numbering is
// 1-based and tracked in a map so citations in the answer can be validated
// against what was actually provided.
package prompt

import (
	"fmt"
	"strings"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/rag/retrieval"
)

// SystemInstructions is the standing instruction set for grounded answering.
const SystemInstructions = `You are a helpful AI assistant that answers questions based on provided source documents.

CRITICAL RULES:
1. Answer ONLY using information from the provided sources
2. If the sources don't contain sufficient information to answer the question, explicitly state: "I don't have enough information in the provided sources to answer this question"
3. ALWAYS cite your sources using [Source X] notation when referencing information
4. If sources provide conflicting information, mention the conflict and cite both sources
5. When providing numbers, dates, or specific facts, quote them exactly as they appear in the sources
6. Do not make assumptions or add information not present in the sources
7. If a source is partially relevant, acknowledge what it does and doesn't cover
8. Be concise but complete in your answers

CITATION FORMAT:
- Reference sources as [Source 1], [Source 2], etc.
- Multiple sources for the same fact: [Source 1, Source 3]
- When quoting directly, use quotation marks and cite the source

ANSWER QUALITY:
- Provide specific, factual answers
- Use clear, professional language
- Organize information logically
- Highlight key points
- If the question has multiple parts, address each part`

const sourceSeparator = "\n\n---\n\n"

// Prompt is the assembled prompt pair plus citation bookkeeping.
type Prompt struct {
	System      string
	User        string
	Context     string
	SourceCount int
	SourceMap   map[int]models.SourceInfo
}

// Builder formats retrieved chunks into prompts.
type Builder struct {
	logger observability.Logger
}

// NewBuilder creates a prompt builder.
func NewBuilder(logger observability.Logger) *Builder {
	if logger == nil {
		logger = observability.NewLogger("rag.prompt")
	}
	return &Builder{logger: logger}
}

// Build assembles the prompt from an already-optimized slate. filenames maps
// document id to the uploaded filename for the Document: line; missing
// entries fall back to a shortened document id.
func (b *Builder) Build(query string, results []retrieval.SearchResult, filenames map[string]string) (*Prompt, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ragerrors.New("PROMPT_EMPTY_QUERY", "query cannot be empty", ragerrors.ClassValidation)
	}

	if len(results) == 0 {
		return &Prompt{
			System:    SystemInstructions,
			User:      buildUserPromptNoContext(query),
			SourceMap: map[int]models.SourceInfo{},
		}, nil
	}

	blocks := make([]string, len(results))
	sourceMap := make(map[int]models.SourceInfo, len(results))
	for i, r := range results {
		number := i + 1
		blocks[i] = formatSource(number, r, documentLabel(r.DocumentID, filenames))
		sourceMap[number] = models.SourceInfo{
			SourceNumber: number,
			ChunkID:      r.ChunkID,
			DocumentID:   r.DocumentID,
			SectionTitle: r.SectionTitle,
			PageNumber:   r.PageNumber,
			Score:        r.Score,
		}
	}

	context := strings.Join(blocks, sourceSeparator)
	prompt := &Prompt{
		System:      SystemInstructions,
		User:        buildUserPrompt(query, context),
		Context:     context,
		SourceCount: len(results),
		SourceMap:   sourceMap,
	}

	b.logger.Debug("Prompt assembled", map[string]interface{}{
		"source_count":  len(results),
		"context_chars": len(context),
	})

	return prompt, nil
}

// formatSource renders one numbered source block. Section and page lines are
// omitted when unknown.
func formatSource(number int, r retrieval.SearchResult, document string) string {
	lines := []string{fmt.Sprintf("[Source %d]", number)}
	if document != "" {
		lines = append(lines, "Document: "+document)
	}
	if r.SectionTitle != "" {
		lines = append(lines, "Section: "+r.SectionTitle)
	}
	if r.PageNumber != nil {
		lines = append(lines, fmt.Sprintf("Page: %d", *r.PageNumber))
	}
	lines = append(lines, "Content:", strings.TrimSpace(r.Content))
	return strings.Join(lines, "\n")
}

// documentLabel resolves the Document: line for a chunk.
func documentLabel(documentID string, filenames map[string]string) string {
	if name := filenames[documentID]; name != "" {
		return name
	}
	if documentID != "" {
		id := documentID
		if len(id) > 8 {
			id = id[:8]
		}
		return "Document " + id
	}
	return "Unknown Document"
}

func buildUserPrompt(query, context string) string {
	return fmt.Sprintf(`Based on the following sources, please answer the question.

SOURCES:
%s

QUESTION:
%s

ANSWER:`, context, query)
}

func buildUserPromptNoContext(query string) string {
	return fmt.Sprintf(`I don't have any relevant sources to answer this question.

QUESTION:
%s

Please respond that you don't have information to answer this question.`, query)
}
