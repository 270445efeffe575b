package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record.NumRows())
	return args.Error(0)
}

func TestForwarder_Forward(t *testing.T) {
	putter := &mockPutter{}
	putter.On("DoPut", mock.Anything, "prompts", int64(2)).Return(nil).Once()

	f := NewForwarder(putter, "prompts", "clip-l", nil)
	require.NoError(t, f.Forward(context.Background(), sampleEmbeddings()))
	require.NoError(t, f.Forward(context.Background(), nil), "empty batches are skipped")

	putter.AssertExpectations(t)
}

func TestForwarder_OpensCircuit(t *testing.T) {
	putter := &mockPutter{}
	down := errors.New("connection refused")
	putter.On("DoPut", mock.Anything, "prompts", int64(2)).Return(down).Twice()

	f := NewForwarder(putter, "prompts", "clip-l", NewCircuitBreaker(2, time.Hour))
	ctx := context.Background()

	require.ErrorIs(t, f.Forward(ctx, sampleEmbeddings()), down)
	require.ErrorIs(t, f.Forward(ctx, sampleEmbeddings()), down)
	require.ErrorIs(t, f.Forward(ctx, sampleEmbeddings()), ErrCircuitOpen)

	putter.AssertExpectations(t)
	putter.AssertNumberOfCalls(t, "DoPut", 2)
}
