package main

import (
	"github.com/spf13/cobra"

	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

// addModelFlags binds the flags every model-loading command shares.
func addModelFlags(cmd *cobra.Command, cfg *embeddings.Config) {
	flags := cmd.Flags()
	flags.StringVar(&cfg.Preset, "preset", "clip-l", "Encoder preset (clip-l, clip-h, clip-g)")
	flags.StringVar(&cfg.VocabPath, "vocab", "vocab.json", "Path to tokenizer vocab.json")
	flags.StringVar(&cfg.MergesPath, "merges", "merges.txt", "Path to tokenizer merges.txt")
	flags.StringVar(&cfg.WeightsPath, "weights", "", "Path to model.safetensors (empty: seeded initialization)")
	flags.StringVar(&cfg.Precision, "precision", "fp32", "Parameter precision (fp32, fp16, bf16)")
	flags.Int64Var(&cfg.Seed, "seed", 0, "Seed for parameter initialization when no weights are given")
	flags.IntVar(&cfg.BatchSize, "batch-size", 8, "Prompts per encoder pass")
}
