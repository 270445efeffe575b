package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

// FlightClient talks Arrow Flight to either a Longbow dataset server (DoPut)
// or an encoder server (DoExchange).
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
	mem    memory.Allocator
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
		mem:    memory.NewGoAllocator(),
	}, nil
}

// DoPut sends a record batch to the given dataset.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	})
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	// Drain put results until the server closes the stream.
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Embed sends prompts to an encoder server over DoExchange and returns the
// embeddings it streams back.
func (c *FlightClient) Embed(ctx context.Context, texts []string) ([]embeddings.Embedding, error) {
	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, err
	}

	req := NewRecordBatchBuilder(c.mem).BuildTextRecordBatch(texts)
	defer req.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(TextSchema))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorCMD, Cmd: []byte("encode")})
	if err := writer.Write(req); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to send prompts: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	defer reader.Release()

	var out []embeddings.Embedding
	for reader.Next() {
		batch, err := ReadEmbeddings(reader.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return out, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
