package chunking

import (
	"fmt"
	"strconv"
	"strings"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
)

// Stats summarizes a chunked document for logging and validation
type Stats struct {
	Chunks     int
	Sections   int
	MeanTokens float64
	MaxTokens  int
}

// ValidateHierarchy checks that chunk indices are a contiguous run from zero
// and that parent section ids reference a contiguous set of sections. Returns
// summary stats on success.
func ValidateHierarchy(chunks []Chunk) (Stats, error) {
	if len(chunks) == 0 {
		return Stats{}, nil
	}

	sections := make(map[int]bool)
	maxSection := -1
	totalTokens := 0
	maxTokens := 0

	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			return Stats{}, ragerrors.New("CHUNK_INDEX_GAP",
				fmt.Sprintf("chunk at position %d has index %d", i, chunk.ChunkIndex),
				ragerrors.ClassValidation)
		}

		idx, err := parseSectionID(chunk.ParentSectionID)
		if err != nil {
			return Stats{}, err
		}
		sections[idx] = true
		if idx > maxSection {
			maxSection = idx
		}

		totalTokens += chunk.TokenCount
		if chunk.TokenCount > maxTokens {
			maxTokens = chunk.TokenCount
		}
	}

	for idx := 0; idx <= maxSection; idx++ {
		if !sections[idx] {
			return Stats{}, ragerrors.New("SECTION_GAP",
				fmt.Sprintf("no chunks reference section_%d", idx),
				ragerrors.ClassValidation)
		}
	}

	return Stats{
		Chunks:     len(chunks),
		Sections:   len(sections),
		MeanTokens: float64(totalTokens) / float64(len(chunks)),
		MaxTokens:  maxTokens,
	}, nil
}

func parseSectionID(id string) (int, error) {
	rest, ok := strings.CutPrefix(id, "section_")
	if !ok {
		return 0, ragerrors.New("BAD_PARENT_SECTION",
			fmt.Sprintf("parent_section_id %q is not of the form section_<n>", id),
			ragerrors.ClassValidation)
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return 0, ragerrors.New("BAD_PARENT_SECTION",
			fmt.Sprintf("parent_section_id %q is not of the form section_<n>", id),
			ragerrors.ClassValidation)
	}
	return idx, nil
}
