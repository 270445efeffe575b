package client

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

// Schema metadata keys carried on embedding batches.
const (
	MetaSequenceLength = "sequence_length"
	MetaEmbeddingDim   = "embedding_dim"
	MetaPreset         = "preset"

	TextColumn      = "text"
	EmbeddingColumn = "embedding"
)

// TextSchema is the schema of prompt batches sent for encoding.
var TextSchema = arrow.NewSchema([]arrow.Field{{Name: TextColumn, Type: arrow.BinaryTypes.String}}, nil)

// EmbeddingSchema describes a batch of prompts and their flattened
// (seqLen, dim) hidden states.
func EmbeddingSchema(preset string, seqLen, dim int) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{MetaSequenceLength, MetaEmbeddingDim, MetaPreset},
		[]string{strconv.Itoa(seqLen), strconv.Itoa(dim), preset},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: TextColumn, Type: arrow.BinaryTypes.String},
		{Name: EmbeddingColumn, Type: arrow.FixedSizeListOf(int32(seqLen*dim), arrow.PrimitiveTypes.Float32)},
	}, &md)
}

// RecordBatchBuilder creates Arrow record batches from embeddings.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch converts embeddings of one preset into a record batch.
// All embeddings must share the same shape. Returns nil for empty input.
func (b *RecordBatchBuilder) BuildRecordBatch(preset string, embs []embeddings.Embedding) (arrow.RecordBatch, error) {
	if len(embs) == 0 {
		return nil, nil
	}
	seqLen, dim := embs[0].SeqLen, embs[0].Dim
	schema := EmbeddingSchema(preset, seqLen, dim)

	rb := array.NewRecordBuilder(b.mem, schema)
	defer rb.Release()

	texts := rb.Field(0).(*array.StringBuilder)
	lists := rb.Field(1).(*array.FixedSizeListBuilder)
	values := lists.ValueBuilder().(*array.Float32Builder)
	values.Reserve(len(embs) * seqLen * dim)

	for i, emb := range embs {
		if emb.SeqLen != seqLen || emb.Dim != dim || len(emb.Values) != seqLen*dim {
			return nil, fmt.Errorf("embedding %d has shape (%d, %d) with %d values, batch is (%d, %d)",
				i, emb.SeqLen, emb.Dim, len(emb.Values), seqLen, dim)
		}
		texts.Append(emb.Text)
		lists.Append(true)
		values.AppendValues(emb.Values, nil)
	}
	return rb.NewRecord(), nil
}

// BuildTextRecordBatch packs prompts into a TextSchema batch.
func (b *RecordBatchBuilder) BuildTextRecordBatch(texts []string) arrow.RecordBatch {
	rb := array.NewRecordBuilder(b.mem, TextSchema)
	defer rb.Release()
	rb.Field(0).(*array.StringBuilder).AppendValues(texts, nil)
	return rb.NewRecord()
}

// ReadTexts extracts the text column of a batch.
func ReadTexts(rec arrow.RecordBatch) ([]string, error) {
	col, err := column[*array.String](rec, TextColumn)
	if err != nil {
		return nil, err
	}
	out := make([]string, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out, nil
}

// ReadEmbeddings decodes a batch produced by BuildRecordBatch.
func ReadEmbeddings(rec arrow.RecordBatch) ([]embeddings.Embedding, error) {
	md := rec.Schema().Metadata()
	seqLen, err := metaInt(md, MetaSequenceLength)
	if err != nil {
		return nil, err
	}
	dim, err := metaInt(md, MetaEmbeddingDim)
	if err != nil {
		return nil, err
	}

	texts, err := ReadTexts(rec)
	if err != nil {
		return nil, err
	}
	lists, err := column[*array.FixedSizeList](rec, EmbeddingColumn)
	if err != nil {
		return nil, err
	}
	values, ok := lists.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %s does not hold float32 values", EmbeddingColumn)
	}

	width := seqLen * dim
	raw := values.Float32Values()
	out := make([]embeddings.Embedding, len(texts))
	for i := range out {
		vec := make([]float32, width)
		copy(vec, raw[i*width:(i+1)*width])
		out[i] = embeddings.Embedding{Text: texts[i], SeqLen: seqLen, Dim: dim, Values: vec}
	}
	return out, nil
}

func column[T arrow.Array](rec arrow.RecordBatch, name string) (T, error) {
	var zero T
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return zero, fmt.Errorf("record batch has no %q column", name)
	}
	col, ok := rec.Column(idx[0]).(T)
	if !ok {
		return zero, fmt.Errorf("column %q has type %s", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

func metaInt(md arrow.Metadata, key string) (int, error) {
	idx := md.FindKey(key)
	if idx < 0 {
		return 0, fmt.Errorf("schema metadata missing %q", key)
	}
	v, err := strconv.Atoi(md.Values()[idx])
	if err != nil {
		return 0, fmt.Errorf("schema metadata %q: %w", key, err)
	}
	return v, nil
}
