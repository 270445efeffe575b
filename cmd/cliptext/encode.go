package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/fletcher-clip/internal/client"
	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

type encodeOptions struct {
	model       embeddings.Config
	random      int
	duration    time.Duration
	serverAddr  string
	datasetName string
	remoteAddr  string
}

func newEncodeCmd() *cobra.Command {
	var o encodeOptions
	cmd := &cobra.Command{
		Use:   "encode [prompt...]",
		Short: "Encode prompts and write an Arrow IPC stream to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd.Context(), o, args, cmd.OutOrStdout())
		},
	}
	addModelFlags(cmd, &o.model)
	flags := cmd.Flags()
	flags.IntVar(&o.random, "random", 0, "Encode N generated prompts instead of arguments")
	flags.DurationVar(&o.duration, "duration", 0, "Run a soak test for the given duration (e.g. 10s, 20m)")
	flags.StringVar(&o.serverAddr, "server", "", "Longbow Flight address to forward embeddings to")
	flags.StringVar(&o.datasetName, "dataset", "clip_prompts", "Target dataset name on server")
	flags.StringVar(&o.remoteAddr, "remote", "", "Encode on a remote cliptext Flight server instead of locally")
	return cmd
}

func runEncode(ctx context.Context, o encodeOptions, args []string, stdout io.Writer) error {
	texts := args
	if o.random > 0 {
		texts = embeddings.GeneratePrompts(o.random, time.Now().UnixNano())
	}
	if len(texts) == 0 {
		texts = []string{""}
	}

	var embed embedFunc
	preset := o.model.Preset
	if o.remoteAddr != "" {
		fc, err := client.NewFlightClient(o.remoteAddr)
		if err != nil {
			return err
		}
		defer func() { _ = fc.Close() }()
		embed = fc.Embed
	} else {
		embedder, err := embeddings.New(o.model)
		if err != nil {
			return err
		}
		preset = embedder.Encoder().Config.Name
		embed = embedder.Embed
	}

	if o.duration > 0 {
		return soak(ctx, embed, texts, o.duration)
	}
	return encodeOnce(ctx, o, embed, preset, texts, stdout)
}

type embedFunc func(context.Context, []string) ([]embeddings.Embedding, error)

var errNoEmbeddings = errors.New("encoder returned no embeddings")

// encodeOnce embeds texts and either forwards them or writes an Arrow stream.
func encodeOnce(ctx context.Context, o encodeOptions, embed embedFunc, preset string, texts []string, stdout io.Writer) error {
	start := time.Now()
	embs, err := embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(embs) == 0 {
		return fmt.Errorf("%w for %d prompts", errNoEmbeddings, len(texts))
	}
	elapsed := time.Since(start)
	log.Info().
		Int("count", len(embs)).
		Dur("elapsed", elapsed).
		Int("seq_len", embs[0].SeqLen).
		Int("dim", embs[0].Dim).
		Float64("tps", float64(len(embs))/elapsed.Seconds()).
		Msg("Encoded prompts")

	if o.serverAddr != "" {
		fc, err := client.NewFlightClient(o.serverAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to Longbow: %w", err)
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		fwd := client.NewForwarder(fc, o.datasetName, preset, nil)
		if err := fwd.Forward(ctx, embs); err != nil {
			return err
		}
		log.Info().Str("server", o.serverAddr).Str("dataset", o.datasetName).Msg("Sent embeddings to Longbow")
		return nil
	}

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(preset, embs)
	if err != nil {
		return err
	}
	defer rec.Release()
	return writeArrowStream(stdout, rec)
}

func soak(ctx context.Context, embed embedFunc, texts []string, d time.Duration) error {
	log.Info().Str("duration", d.String()).Int("batch", len(texts)).Msg("Starting soak test")

	startTime := time.Now()
	endTime := startTime.Add(d)
	var total int64
	var iter int
	for time.Now().Before(endTime) {
		if _, err := embed(ctx, texts); err != nil {
			return err
		}
		total += int64(len(texts))
		iter++

		if iter%10 == 0 {
			elapsed := time.Since(startTime)
			log.Info().
				Str("elapsed", elapsed.Round(time.Second).String()).
				Int("iter", iter).
				Int64("total_prompts", total).
				Float64("tps", float64(total)/elapsed.Seconds()).
				Msg("Soak test progress")
		}
	}

	elapsed := time.Since(startTime)
	log.Info().
		Int64("total_prompts", total).
		Dur("total_time", elapsed).
		Float64("avg_tps", float64(total)/elapsed.Seconds()).
		Msg("Soak test complete")
	return nil
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
