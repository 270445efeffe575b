package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/fletcher-clip/internal/client"
)

// EncoderFlightServer answers DoExchange streams of prompt batches with
// streams of embedding batches.
type EncoderFlightServer struct {
	flight.BaseFlightServer
	embedder Embedder
	preset   string
	alloc    memory.Allocator
}

func NewEncoderFlightServer(embedder Embedder, preset string) *EncoderFlightServer {
	return &EncoderFlightServer{
		embedder: embedder,
		preset:   preset,
		alloc:    memory.NewGoAllocator(),
	}
}

func (s *EncoderFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoExchange")
	defer span.End()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	defer reader.Release()

	builder := client.NewRecordBatchBuilder(s.alloc)
	var writer *flight.Writer
	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	for reader.Next() {
		texts, err := client.ReadTexts(reader.Record())
		if err != nil {
			return err
		}
		if len(texts) == 0 {
			continue
		}

		embs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to encode %d prompts: %w", len(texts), err)
		}
		vectorsProcessed.Add(float64(len(embs)))
		if len(embs) == 0 {
			continue
		}

		out, err := builder.BuildRecordBatch(s.preset, embs)
		if err != nil {
			return err
		}
		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(out.Schema()), ipc.WithAllocator(s.alloc))
		}
		err = writer.Write(out)
		out.Release()
		if err != nil {
			return err
		}
		log.Debug().Int("rows", len(embs)).Msg("DoExchange encoded batch")
	}
	return reader.Err()
}

// NewFlightServer registers the encoder service on a Flight server listening
// on addr. The caller runs Serve and Shutdown.
func NewFlightServer(addr string, embedder Embedder, preset string) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewEncoderFlightServer(embedder, preset))
	if err := server.Init(addr); err != nil {
		return nil, fmt.Errorf("failed to init Flight server: %w", err)
	}
	return server, nil
}
