package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/fletcher-clip/internal/device"
	"github.com/23skdu/fletcher-clip/internal/embeddings/model"
	"github.com/23skdu/fletcher-clip/internal/embeddings/weights"
)

type exportOptions struct {
	preset      string
	weightsPath string
	seed        int64
	dtype       string
	output      string
}

func newExportCmd() *cobra.Command {
	var o exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write encoder parameters to a safetensors file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(o)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&o.preset, "preset", "clip-l", "Encoder preset")
	flags.StringVar(&o.weightsPath, "weights", "", "Checkpoint to convert (empty: seeded initialization)")
	flags.Int64Var(&o.seed, "seed", 0, "Seed for parameter initialization")
	flags.StringVar(&o.dtype, "dtype", "fp32", "Output dtype (fp32, fp16, bf16)")
	flags.StringVarP(&o.output, "output", "o", "model.safetensors", "Output path")
	return cmd
}

func runExport(o exportOptions) error {
	cfg, err := model.PresetByName(o.preset)
	if err != nil {
		return err
	}
	dtype, err := device.ParseDType(o.dtype)
	if err != nil {
		return err
	}

	enc, err := model.NewCLIPTextEncoder(cfg, model.WithSeed(o.seed))
	if err != nil {
		return err
	}
	if o.weightsPath != "" {
		if err := weights.LoadSafetensors(o.weightsPath, enc); err != nil {
			return err
		}
	}

	if err := weights.SaveSafetensors(o.output, enc, dtype); err != nil {
		return err
	}
	log.Info().
		Str("preset", cfg.Name).
		Stringer("dtype", dtype).
		Int("parameters", enc.ParameterCount()).
		Str("output", o.output).
		Msg("Exported encoder")
	return nil
}
