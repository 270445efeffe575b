package client

import (
	"context"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

type mockFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	dataset  []string
	received []arrow.Record
}

func (s *mockFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	s.mu.Lock()
	s.dataset = rdr.LatestFlightDescriptor().GetPath()
	s.mu.Unlock()

	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		s.mu.Lock()
		s.received = append(s.received, rec)
		s.mu.Unlock()
	}
	return rdr.Err()
}

// DoExchange answers every prompt with a (2, 3) embedding filled with the
// prompt length.
func (s *mockFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	var writer *flight.Writer
	for rdr.Next() {
		texts, err := ReadTexts(rdr.Record())
		if err != nil {
			return err
		}
		embs := make([]embeddings.Embedding, len(texts))
		for i, text := range texts {
			vals := make([]float32, 6)
			for j := range vals {
				vals[j] = float32(len(text))
			}
			embs[i] = embeddings.Embedding{Text: text, SeqLen: 2, Dim: 3, Values: vals}
		}
		out, err := builder.BuildRecordBatch("mock", embs)
		if err != nil {
			return err
		}
		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(out.Schema()))
		}
		err = writer.Write(out)
		out.Release()
		if err != nil {
			return err
		}
	}
	if writer != nil {
		return writer.Close()
	}
	return rdr.Err()
}

func startMockServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	mock := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mock)
	require.NoError(t, server.Init("localhost:0"))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return mock, server.Addr().String()
}

func TestFlightClient_DoPut(t *testing.T) {
	mock, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	rb, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch("clip-l", sampleEmbeddings())
	require.NoError(t, err)
	defer rb.Release()

	require.NoError(t, client.DoPut(context.Background(), "prompts", rb))

	mock.mu.Lock()
	defer mock.mu.Unlock()
	require.Equal(t, []string{"prompts"}, mock.dataset)
	require.Len(t, mock.received, 1)

	got, err := ReadEmbeddings(mock.received[0])
	require.NoError(t, err)
	require.Equal(t, sampleEmbeddings(), got)
	for _, rec := range mock.received {
		rec.Release()
	}
}

func TestFlightClient_Embed(t *testing.T) {
	_, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	out, err := client.Embed(context.Background(), []string{"a cat", "a photo of a cat"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a cat", out[0].Text)
	require.Equal(t, 2, out[1].SeqLen)
	require.Equal(t, 3, out[1].Dim)
	require.Equal(t, float32(len("a photo of a cat")), out[1].Values[5])
}
