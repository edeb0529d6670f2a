package chunking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
)

func TestValidateHierarchy(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		stats, err := ValidateHierarchy(nil)
		require.NoError(t, err)
		assert.Equal(t, Stats{}, stats)
	})

	t.Run("valid chunks", func(t *testing.T) {
		chunks := []Chunk{
			{ChunkIndex: 0, ParentSectionID: "section_0", TokenCount: 100},
			{ChunkIndex: 1, ParentSectionID: "section_0", TokenCount: 200},
			{ChunkIndex: 2, ParentSectionID: "section_1", TokenCount: 300},
		}
		stats, err := ValidateHierarchy(chunks)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Chunks)
		assert.Equal(t, 2, stats.Sections)
		assert.Equal(t, 300, stats.MaxTokens)
		assert.InDelta(t, 200.0, stats.MeanTokens, 0.001)
	})

	t.Run("chunk index gap", func(t *testing.T) {
		chunks := []Chunk{
			{ChunkIndex: 0, ParentSectionID: "section_0"},
			{ChunkIndex: 2, ParentSectionID: "section_0"},
		}
		_, err := ValidateHierarchy(chunks)
		require.Error(t, err)
		assert.True(t, ragerrors.IsValidation(err))
	})

	t.Run("section gap", func(t *testing.T) {
		chunks := []Chunk{
			{ChunkIndex: 0, ParentSectionID: "section_0"},
			{ChunkIndex: 1, ParentSectionID: "section_2"},
		}
		_, err := ValidateHierarchy(chunks)
		require.Error(t, err)
		assert.True(t, ragerrors.IsValidation(err))
	})

	t.Run("malformed parent id", func(t *testing.T) {
		chunks := []Chunk{
			{ChunkIndex: 0, ParentSectionID: "sect-0"},
		}
		_, err := ValidateHierarchy(chunks)
		require.Error(t, err)
		assert.True(t, ragerrors.IsValidation(err))
	})

	t.Run("chunker output validates", func(t *testing.T) {
		chunker := newTestChunker(t, DefaultConfig())
		chunks, err := chunker.Chunk(context.Background(), []Section{
			{Title: "A", Content: wordsOf("aa", 10)},
			{Title: "B", Content: wordsOf("bb", 60)},
			{Title: "C", Content: wordsOf("cc", 600)},
		})
		require.NoError(t, err)

		stats, err := ValidateHierarchy(chunks)
		require.NoError(t, err)
		assert.Equal(t, len(chunks), stats.Chunks)
		assert.Equal(t, 3, stats.Sections)
	})
}
