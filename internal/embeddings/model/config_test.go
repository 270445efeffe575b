package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"HeadsDoNotDivide", func(c *Config) { c.NumAttentionHeads = 3 }},
		{"ZeroDim", func(c *Config) { c.EmbeddingDim = 0 }},
		{"ZeroLayers", func(c *Config) { c.NumLayers = 0 }},
		{"NegativeFeedforward", func(c *Config) { c.FeedforwardDim = -1 }},
		{"ZeroEps", func(c *Config) { c.LayerNormEps = 0 }},
		{"PadOutsideVocabulary", func(c *Config) { c.PadTokenID = c.VocabularySize }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	require.NoError(t, smallConfig().Validate())
}

func TestPresets(t *testing.T) {
	tests := []struct {
		cfg                    Config
		dim, layers, heads, ff int
		quick                  bool
		pad                    int
	}{
		{ConfigL(), 768, 12, 12, 3072, true, 49407},
		{ConfigH(), 1024, 23, 16, 4096, false, 49407},
		{ConfigG(), 1280, 32, 20, 5120, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Name, func(t *testing.T) {
			require.NoError(t, tt.cfg.Validate())
			require.Equal(t, tt.dim, tt.cfg.EmbeddingDim)
			require.Equal(t, tt.layers, tt.cfg.NumLayers)
			require.Equal(t, tt.heads, tt.cfg.NumAttentionHeads)
			require.Equal(t, tt.ff, tt.cfg.FeedforwardDim)
			require.Equal(t, tt.quick, tt.cfg.UseQuickGELU)
			require.Equal(t, tt.pad, tt.cfg.PadTokenID)
			require.Equal(t, 49408, tt.cfg.VocabularySize)
			require.Equal(t, 77, tt.cfg.MaxSequenceLength)
			require.Equal(t, float32(1e-5), tt.cfg.LayerNormEps)
		})
	}
}

func TestPresetByName(t *testing.T) {
	for name, want := range map[string]string{
		"clip-l":  "clip-l",
		"H":       "clip-h",
		" CLIP-G": "clip-g",
	} {
		cfg, err := PresetByName(name)
		require.NoError(t, err)
		require.Equal(t, want, cfg.Name)
	}

	_, err := PresetByName("clip-xl")
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Equal(t, []string{"clip-g", "clip-h", "clip-l"}, PresetNames())
}

func TestConfig_Activation(t *testing.T) {
	require.Equal(t, ActivationQuickGELU, ConfigL().Activation())
	require.Equal(t, ActivationGELU, ConfigG().Activation())
	require.Equal(t, "quick_gelu", ActivationQuickGELU.String())
	require.Equal(t, 64, ConfigH().HeadDim())
}
