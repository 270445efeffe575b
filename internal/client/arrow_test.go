package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

func sampleEmbeddings() []embeddings.Embedding {
	return []embeddings.Embedding{
		{Text: "a cat", SeqLen: 2, Dim: 3, Values: []float32{1, 2, 3, 4, 5, 6}},
		{Text: "", SeqLen: 2, Dim: 3, Values: []float32{7, 8, 9, 10, 11, 12}},
	}
}

func TestBuildRecordBatch(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch("clip-l", nil)
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Valid input", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch("clip-l", sampleEmbeddings())
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(2), rb.NumRows())
		assert.Equal(t, int64(2), rb.NumCols())
		assert.Equal(t, TextColumn, rb.ColumnName(0))
		assert.Equal(t, EmbeddingColumn, rb.ColumnName(1))

		listType := rb.Schema().Field(1).Type.(*arrow.FixedSizeListType)
		assert.Equal(t, int32(6), listType.Len())

		md := rb.Schema().Metadata()
		assert.Equal(t, "2", md.Values()[md.FindKey(MetaSequenceLength)])
		assert.Equal(t, "3", md.Values()[md.FindKey(MetaEmbeddingDim)])
		assert.Equal(t, "clip-l", md.Values()[md.FindKey(MetaPreset)])

		decoded, err := ReadEmbeddings(rb)
		require.NoError(t, err)
		assert.Equal(t, sampleEmbeddings(), decoded)
	})

	t.Run("Mixed shapes", func(t *testing.T) {
		embs := sampleEmbeddings()
		embs[1].Dim = 2
		_, err := builder.BuildRecordBatch("clip-l", embs)
		assert.Error(t, err)
	})
}

func TestTextRecordBatch(t *testing.T) {
	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	rb := builder.BuildTextRecordBatch([]string{"a photo of a cat", ""})
	defer rb.Release()

	texts, err := ReadTexts(rb)
	require.NoError(t, err)
	assert.Equal(t, []string{"a photo of a cat", ""}, texts)

	_, err = ReadEmbeddings(rb)
	assert.Error(t, err, "text batches carry no embedding metadata")
}
