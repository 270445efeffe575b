package main

import (
	"bytes"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/fletcher-clip/internal/device"
	"github.com/23skdu/fletcher-clip/internal/embeddings/model"
	"github.com/23skdu/fletcher-clip/internal/embeddings/weights"
)

func tinyEncoder(t *testing.T) *model.CLIPTextEncoder {
	t.Helper()
	cfg := model.Config{
		Name:              "tiny",
		EmbeddingDim:      8,
		MaxSequenceLength: 4,
		VocabularySize:    10,
		NumLayers:         1,
		NumAttentionHeads: 2,
		FeedforwardDim:    16,
		LayerNormEps:      1e-5,
		UseQuickGELU:      true,
	}
	enc, err := model.NewCLIPTextEncoder(cfg, model.WithSeed(3))
	require.NoError(t, err)
	return enc
}

func TestInspect_ParameterRows(t *testing.T) {
	enc := tinyEncoder(t)
	rows := parameterRows(enc)
	require.Len(t, rows, enc.Parameters().Len())
	assert.Equal(t, []string{"text_model.embeddings.token_embedding.weight", "fp32", "10x8", "80"}, rows[0])

	var buf bytes.Buffer
	renderParameters(&buf, rows)
	out := buf.String()
	assert.Contains(t, out, "text_model.final_layer_norm.bias")
	assert.Contains(t, out, strconv.Itoa(enc.ParameterCount()))
}

func TestInspect_CheckpointRows(t *testing.T) {
	enc := tinyEncoder(t)
	path := filepath.Join(t.TempDir(), "tiny.safetensors")
	require.NoError(t, weights.SaveSafetensors(path, enc, device.Float16))

	st, err := weights.Open(path)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	rows := checkpointRows(st)
	require.Len(t, rows, enc.Parameters().Len())
	for _, row := range rows {
		assert.Equal(t, "F16", row[1])
		if row[0] == "text_model.final_layer_norm.weight" {
			assert.Equal(t, "8", row[2])
		}
	}
}
