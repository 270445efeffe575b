package device

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	_ = m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func requireClose(t *testing.T, expected, actual []float32, delta float64) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		require.InDelta(t, expected[i], actual[i], delta, "index %d", i)
	}
}

func TestCPUBackend_TensorOps(t *testing.T) {
	backend := NewCPUBackend()

	t.Run("Add", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		b := backend.NewTensor(2, 2, []float32{10, 20, 30, 40})

		a.Add(b)

		require.Equal(t, []float32{11, 22, 33, 44}, a.ToHost())
	})

	t.Run("Mul", func(t *testing.T) {
		// A: 2x3, B: 3x2 -> C: 2x2
		a := backend.NewTensor(2, 3, []float32{
			1, 2, 3,
			4, 5, 6,
		})
		b := backend.NewTensor(3, 2, []float32{
			7, 8,
			9, 10,
			11, 12,
		})

		c := backend.NewTensor(2, 2, nil)
		c.Mul(a, b)

		requireClose(t, []float32{58, 64, 139, 154}, c.ToHost(), 1e-4)
	})

	t.Run("MulTransposed", func(t *testing.T) {
		// W stored (out=2, in=3); x * W^T is the checkpoint-layout Linear.
		x := backend.NewTensor(1, 3, []float32{1, 2, 3})
		w := backend.NewTensor(2, 3, []float32{
			1, 0, 1,
			0, 1, 0,
		})

		c := backend.NewTensor(1, 2, nil)
		c.Mul(x, w.T())

		requireClose(t, []float32{4, 2}, c.ToHost(), 1e-6)
	})

	t.Run("MulDimensionMismatchPanics", func(t *testing.T) {
		a := backend.NewTensor(2, 3, nil)
		b := backend.NewTensor(2, 3, nil)
		c := backend.NewTensor(2, 3, nil)
		require.Panics(t, func() { c.Mul(a, b) })
	})

	t.Run("Scale", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		a.Scale(2.0)
		require.Equal(t, []float32{2, 4, 6, 8}, a.ToHost())
	})

	t.Run("AddBias", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		a.AddBias(backend.NewTensor(1, 2, []float32{10, 20}))
		require.Equal(t, []float32{11, 22, 13, 24}, a.ToHost())
	})

	t.Run("LayerNorm", func(t *testing.T) {
		a := backend.NewTensor(1, 4, []float32{1, 2, 3, 4})
		gamma := backend.NewTensor(1, 4, []float32{1, 1, 1, 1})
		beta := backend.NewTensor(1, 4, []float32{0, 0, 0, 0})

		// Mean = 2.5, Variance = 1.25, StdDev ≈ 1.11803
		a.LayerNorm(gamma, beta, 1e-12)

		requireClose(t, []float32{-1.3416407, -0.4472136, 0.4472136, 1.3416407}, a.ToHost(), 1e-5)
	})

	t.Run("LayerNormEpsInsideSqrt", func(t *testing.T) {
		// Constant row: variance 0, output is beta regardless of gamma.
		a := backend.NewTensor(1, 3, []float32{5, 5, 5})
		gamma := backend.NewTensor(1, 3, []float32{2, 2, 2})
		beta := backend.NewTensor(1, 3, []float32{0.5, 0.5, 0.5})
		a.LayerNorm(gamma, beta, 1e-5)
		requireClose(t, []float32{0.5, 0.5, 0.5}, a.ToHost(), 1e-6)

		// eps = 1 on a row with variance 1 divides by sqrt(2).
		b := backend.NewTensor(1, 2, []float32{-1, 1})
		ones := backend.NewTensor(1, 2, []float32{1, 1})
		zeros := backend.NewTensor(1, 2, nil)
		b.LayerNorm(ones, zeros, 1)
		requireClose(t, []float32{-1 / float32(math.Sqrt2), 1 / float32(math.Sqrt2)}, b.ToHost(), 1e-6)
	})

	t.Run("Gather", func(t *testing.T) {
		table := backend.NewTensor(3, 2, []float32{0, 1, 10, 11, 20, 21})
		out := table.Gather([]int{2, 0, 2})
		r, c := out.Dims()
		require.Equal(t, 3, r)
		require.Equal(t, 2, c)
		require.Equal(t, []float32{20, 21, 0, 1, 20, 21}, out.ToHost())

		require.Panics(t, func() { table.Gather([]int{3}) })
		require.Panics(t, func() { table.Gather([]int{-1}) })
	})

	t.Run("LinearActivation", func(t *testing.T) {
		x := backend.NewTensor(1, 2, []float32{1, -1})
		w := backend.NewTensor(2, 2, []float32{1, 0, 0, 1})
		bias := backend.NewTensor(1, 2, []float32{0, 0})

		exact := x.LinearActivation(x, w, bias, ActivationGELU).ToHost()
		quick := x.LinearActivation(x, w, bias, ActivationQuickGELU).ToHost()

		require.InDelta(t, 0.8413447, exact[0], 1e-5)
		require.InDelta(t, -0.1586553, exact[1], 1e-5)
		require.InDelta(t, 1/(1+math.Exp(-1.702)), quick[0], 1e-5)
		require.NotEqual(t, exact, quick)
	})

	t.Run("Pooling", func(t *testing.T) {
		startHits := getMetricValue(poolHits)

		t1 := backend.GetTensor(10, 10)
		t1.Set(0, 0, 123)
		backend.PutTensor(t1)

		t2 := backend.GetTensor(10, 10)
		// Pooled memory must come back zeroed
		require.Equal(t, float32(0), t2.At(0, 0))
		require.GreaterOrEqual(t, getMetricValue(poolHits), startHits)
	})

	t.Run("Transpose", func(t *testing.T) {
		a := backend.NewTensor(2, 3, []float32{1, 2, 3, 4, 5, 6})
		at := a.T()
		r, c := at.Dims()
		require.Equal(t, 3, r)
		require.Equal(t, 2, c)
		require.Nil(t, at.Data())
		require.Equal(t, []float32{1, 4, 2, 5, 3, 6}, at.ToHost())
	})
}

// referenceAttention is a straightforward multi-head attention with an explicit
// -Inf mask above the diagonal.
func referenceAttention(q, k, v []float32, batch, seq, hidden, heads int, scale float32, causal bool) []float32 {
	headDim := hidden / heads
	out := make([]float32, batch*seq*hidden)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for i := 0; i < seq; i++ {
				scores := make([]float64, seq)
				maxVal := math.Inf(-1)
				for j := 0; j < seq; j++ {
					if causal && j > i {
						scores[j] = math.Inf(-1)
						continue
					}
					var sum float64
					for d := 0; d < headDim; d++ {
						sum += float64(q[(b*seq+i)*hidden+h*headDim+d]) * float64(k[(b*seq+j)*hidden+h*headDim+d])
					}
					scores[j] = sum * float64(scale)
					maxVal = math.Max(maxVal, scores[j])
				}
				var total float64
				for j := range scores {
					scores[j] = math.Exp(scores[j] - maxVal)
					total += scores[j]
				}
				for d := 0; d < headDim; d++ {
					var acc float64
					for j := 0; j < seq; j++ {
						acc += scores[j] / total * float64(v[(b*seq+j)*hidden+h*headDim+d])
					}
					out[(b*seq+i)*hidden+h*headDim+d] = float32(acc)
				}
			}
		}
	}
	return out
}

func TestCPUTensor_Attention(t *testing.T) {
	backend := NewCPUBackend()
	const batch, seq, hidden, heads = 2, 4, 6, 3

	fill := func(seed int) []float32 {
		data := make([]float32, batch*seq*hidden)
		for i := range data {
			data[i] = float32(math.Sin(float64(i*seed+1))) * 0.5
		}
		return data
	}
	qd, kd, vd := fill(3), fill(5), fill(7)
	scale := float32(1 / math.Sqrt(float64(hidden/heads)))

	for _, causal := range []bool{false, true} {
		q := backend.NewTensor(batch*seq, hidden, qd)
		k := backend.NewTensor(batch*seq, hidden, kd)
		v := backend.NewTensor(batch*seq, hidden, vd)

		got := q.Attention(q, k, v, batch, seq, heads, scale, causal).ToHost()
		want := referenceAttention(qd, kd, vd, batch, seq, hidden, heads, scale, causal)
		requireClose(t, want, got, 1e-5)
	}

	t.Run("CausalFirstRowCopiesValue", func(t *testing.T) {
		q := backend.NewTensor(batch*seq, hidden, qd)
		k := backend.NewTensor(batch*seq, hidden, kd)
		v := backend.NewTensor(batch*seq, hidden, vd)
		got := q.Attention(q, k, v, batch, seq, heads, scale, true).ToHost()
		// Position 0 can only attend to itself.
		requireClose(t, vd[:hidden], got[:hidden], 1e-6)
	})

	t.Run("HeadsMustDivideHidden", func(t *testing.T) {
		q := backend.NewTensor(seq, hidden, nil)
		require.Panics(t, func() { q.Attention(q, q, q, 1, seq, 4, 1, true) })
	})
}
