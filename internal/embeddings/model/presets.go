package model

import (
	"fmt"
	"sort"
	"strings"
)

const (
	clipVocabularySize    = 49408
	clipMaxSequenceLength = 77
	clipLayerNormEps      = 1e-5

	// endOfTextTokenID doubles as the default pad token of the CLIP tokenizer.
	endOfTextTokenID = 49407
)

// ConfigL is the text encoder of CLIP ViT-L/14 (Stable Diffusion 1.x).
func ConfigL() Config {
	return Config{
		Name:              "clip-l",
		EmbeddingDim:      768,
		MaxSequenceLength: clipMaxSequenceLength,
		VocabularySize:    clipVocabularySize,
		NumLayers:         12,
		NumAttentionHeads: 12,
		FeedforwardDim:    3072,
		LayerNormEps:      clipLayerNormEps,
		UseQuickGELU:      true,
		PadTokenID:        endOfTextTokenID,
	}
}

// ConfigH is the OpenCLIP ViT-H/14 text encoder (Stable Diffusion 2.x).
// It ships with 23 of the 24 original layers; the penultimate hidden state
// is the conditioning signal.
func ConfigH() Config {
	return Config{
		Name:              "clip-h",
		EmbeddingDim:      1024,
		MaxSequenceLength: clipMaxSequenceLength,
		VocabularySize:    clipVocabularySize,
		NumLayers:         23,
		NumAttentionHeads: 16,
		FeedforwardDim:    4096,
		LayerNormEps:      clipLayerNormEps,
		PadTokenID:        endOfTextTokenID,
	}
}

// ConfigG is the OpenCLIP ViT-bigG/14 text encoder used by SDXL, padded with 0.
func ConfigG() Config {
	return Config{
		Name:              "clip-g",
		EmbeddingDim:      1280,
		MaxSequenceLength: clipMaxSequenceLength,
		VocabularySize:    clipVocabularySize,
		NumLayers:         32,
		NumAttentionHeads: 20,
		FeedforwardDim:    5120,
		LayerNormEps:      clipLayerNormEps,
		PadTokenID:        0,
	}
}

var presets = map[string]func() Config{
	"clip-l": ConfigL,
	"clip-h": ConfigH,
	"clip-g": ConfigG,
}

// PresetByName returns a preset by name. "l", "h" and "g" are accepted as
// short forms.
func PresetByName(name string) (Config, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(key, "clip-") {
		key = "clip-" + key
	}
	fn, ok := presets[key]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q (known: %s)",
			ErrInvalidConfig, name, strings.Join(PresetNames(), ", "))
	}
	return fn(), nil
}

// PresetNames lists the known preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
