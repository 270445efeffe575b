package device

import (
	"math"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/fletcher-clip/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

// numWorkers defines the default parallelism for CPU operations
var numWorkers = runtime.NumCPU()

type CPUBackend struct {
	dtype DType
	pool  sync.Pool
}

// NewCPUBackend returns a float32 CPU backend.
func NewCPUBackend() *CPUBackend {
	return NewCPUBackendWithDType(Float32)
}

// NewCPUBackendWithDType returns a CPU backend that stores tensors created
// through NewTensor at the given precision.
func NewCPUBackendWithDType(dtype DType) *CPUBackend {
	return &CPUBackend{dtype: dtype}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) DType() DType {
	return b.dtype
}

func (b *CPUBackend) NewTensor(r, c int, data []float32) Tensor {
	t := b.newTensor(r, c)
	if data != nil {
		if len(data) != r*c {
			log.Panic().Int("rows", r).Int("cols", c).Int("len", len(data)).
				Msg("NewTensor: provided data length does not match dimensions")
		}
		copy(t.data, data)
		b.dtype.Round(t.data)
	}
	return t
}

// newTensor allocates a zeroed float32 tensor for intermediate results.
func (b *CPUBackend) newTensor(r, c int) *CPUTensor {
	return &CPUTensor{
		backend: b,
		rows:    r,
		cols:    c,
		data:    make([]float32, r*c),
	}
}

func (b *CPUBackend) GetTensor(r, c int) Tensor {
	ct, ok := b.pool.Get().(*CPUTensor)
	if !ok || ct == nil {
		poolMisses.Inc()
		return b.newTensor(r, c)
	}

	size := r * c
	if cap(ct.data) < size {
		poolMisses.Inc()
		ct.data = make([]float32, size)
	} else {
		poolHits.Inc()
		ct.data = ct.data[:size]
		clear(ct.data)
	}
	ct.backend = b
	ct.rows = r
	ct.cols = c
	ct.trans = false
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct.trans {
		return // Don't pool foreign tensors or shared transposed views
	}
	ct.rows = 0
	ct.cols = 0
	b.pool.Put(ct)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

type CPUTensor struct {
	backend *CPUBackend
	data    []float32
	rows    int
	cols    int
	trans   bool // Transposed view flag
}

func asCPU(op string, t Tensor) *CPUTensor {
	ct, ok := t.(*CPUTensor)
	if !ok {
		log.Panic().Str("op", op).Msg("mixed backend operation not supported")
	}
	return ct
}

// parallelRows splits [0, n) across workers and waits for completion.
func parallelRows(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := numWorkers
	if n < workers {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	per := (n + workers - 1) / workers
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

func (t *CPUTensor) Dims() (int, int) {
	if t.trans {
		return t.cols, t.rows
	}
	return t.rows, t.cols
}

func (t *CPUTensor) At(i, j int) float32 {
	if t.trans {
		// Logical (i, j) -> Physical (j, i)
		return t.data[j*t.cols+i]
	}
	return t.data[i*t.cols+j]
}

func (t *CPUTensor) Set(i, j int, v float32) {
	if t.trans {
		t.data[j*t.cols+i] = v
	} else {
		t.data[i*t.cols+j] = v
	}
}

func (t *CPUTensor) Data() []float32 {
	// If transposed, data is not contiguous in logical order
	if t.trans {
		return nil
	}
	return t.data
}

func (t *CPUTensor) ToHost() []float32 {
	rows, cols := t.Dims()
	out := make([]float32, rows*cols)
	if !t.trans {
		copy(out, t.data)
		return out
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = t.At(i, j)
		}
	}
	return out
}

func (t *CPUTensor) CopyFromFloat32(data []float32) {
	if len(data) != len(t.data) {
		log.Panic().Int("want", len(t.data)).Int("got", len(data)).Msg("CopyFromFloat32: size mismatch")
	}
	if t.trans {
		rows, cols := t.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				t.Set(i, j, data[i*cols+j])
			}
		}
	} else {
		copy(t.data, data)
	}
	t.backend.dtype.Round(t.data)
}

func (t *CPUTensor) Copy(from Tensor) {
	ft := asCPU("Copy", from)

	tr, tc := t.Dims()
	fr, fc := ft.Dims()
	if tr != fr || tc != fc {
		log.Panic().Msgf("Copy: dimension mismatch. Target: %dx%d, Source: %dx%d", tr, tc, fr, fc)
	}

	if !t.trans && !ft.trans {
		copy(t.data, ft.data)
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, ft.At(i, j))
		}
	}
}

func (t *CPUTensor) Slice(i, k, j, l int) Tensor {
	sliceRows := k - i
	sliceCols := l - j
	if sliceRows <= 0 || sliceCols <= 0 {
		log.Panic().Msgf("Slice: invalid dimensions [%d:%d, %d:%d]", i, k, j, l)
	}

	// This is a copy, not a view.
	out := t.backend.newTensor(sliceRows, sliceCols)
	for rowIdx := 0; rowIdx < sliceRows; rowIdx++ {
		for colIdx := 0; colIdx < sliceCols; colIdx++ {
			out.Set(rowIdx, colIdx, t.At(i+rowIdx, j+colIdx))
		}
	}
	return out
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{
		backend: t.backend,
		data:    t.data, // Share data
		rows:    t.rows,
		cols:    t.cols,
		trans:   !t.trans,
	}
}

// general exposes the physical storage to BLAS together with the transpose
// flag that recovers the logical matrix.
func (t *CPUTensor) general() (blas32.General, blas.Transpose) {
	g := blas32.General{Rows: t.rows, Cols: t.cols, Stride: t.cols, Data: t.data}
	if t.trans {
		return g, blas.Trans
	}
	return g, blas.NoTrans
}

func (t *CPUTensor) Mul(a, b Tensor) {
	ma := asCPU("Mul", a)
	mb := asCPU("Mul", b)

	ar, ac := ma.Dims()
	br, bc := mb.Dims()
	if ac != br {
		log.Panic().Msgf("Mul: dimension mismatch. A cols (%d) != B rows (%d)", ac, br)
	}
	tr, tc := t.Dims()
	if tr != ar || tc != bc {
		log.Panic().Msgf("Mul: result tensor dimension mismatch. Expected %dx%d, got %dx%d", ar, bc, tr, tc)
	}
	if t.trans {
		log.Panic().Msg("Mul: result must not be a transposed view")
	}

	ga, ta := ma.general()
	gb, tb := mb.general()
	c := blas32.General{Rows: t.rows, Cols: t.cols, Stride: t.cols, Data: t.data}
	blas32.Gemm(ta, tb, 1, ga, gb, 0, c)
}

func (t *CPUTensor) Add(other Tensor) {
	ot := asCPU("Add", other)

	tr, tc := t.Dims()
	or, oc := ot.Dims()
	if tr != or || tc != oc {
		log.Panic().Msgf("Add: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, or, oc)
	}

	if !t.trans && !ot.trans {
		simd.VecAdd(t.data, ot.data)
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, t.At(i, j)+ot.At(i, j))
		}
	}
}

func (t *CPUTensor) AddScalar(val float32) {
	for i := range t.data {
		t.data[i] += val
	}
}

// vector returns the logical contents of a 1xN or Nx1 tensor.
func (t *CPUTensor) vector(op string) []float32 {
	r, c := t.Dims()
	if r != 1 && c != 1 {
		log.Panic().Str("op", op).Msgf("expected a vector, got %dx%d", r, c)
	}
	if !t.trans {
		return t.data
	}
	return t.ToHost()
}

func (t *CPUTensor) AddBias(bias Tensor) {
	if t.trans {
		log.Panic().Msg("AddBias not supported on transposed tensor views directly")
	}
	biasData := asCPU("AddBias", bias).vector("AddBias")

	r, c := t.Dims()
	if len(biasData) != c {
		log.Panic().Msgf("AddBias: bias length %d does not match %d columns", len(biasData), c)
	}
	for i := 0; i < r; i++ {
		simd.VecAdd(t.data[i*c:(i+1)*c], biasData)
	}
}

func (t *CPUTensor) Scale(val float32) {
	for i := range t.data {
		t.data[i] *= val
	}
}

func (t *CPUTensor) Gather(indices []int) Tensor {
	r, c := t.Dims()
	out := t.backend.newTensor(len(indices), c)

	for i, idx := range indices {
		if idx < 0 || idx >= r {
			log.Panic().Int("index", idx).Int("rows", r).Msg("Gather index out of bounds")
		}
		if t.trans {
			for j := 0; j < c; j++ {
				out.data[i*c+j] = t.At(idx, j)
			}
		} else {
			copy(out.data[i*c:(i+1)*c], t.data[idx*c:(idx+1)*c])
		}
	}
	return out
}

// rowwise applies fn to each row of a contiguous tensor in parallel.
func (t *CPUTensor) rowwise(op string, fn func(row []float32)) {
	if t.trans {
		log.Panic().Str("op", op).Msg("not supported on transposed tensor views directly")
	}
	r, c := t.Dims()
	parallelRows(r, func(start, end int) {
		for i := start; i < end; i++ {
			fn(t.data[i*c : (i+1)*c])
		}
	})
}

func (t *CPUTensor) Softmax() {
	t.rowwise("Softmax", simd.Softmax)
}

func (t *CPUTensor) Gelu() {
	t.rowwise("Gelu", simd.GeluErf)
}

func (t *CPUTensor) QuickGelu() {
	t.rowwise("QuickGelu", simd.QuickGelu)
}

func (t *CPUTensor) Tanh() {
	t.rowwise("Tanh", simd.TanhInPlace)
}

func (t *CPUTensor) LayerNorm(gamma, beta Tensor, eps float32) {
	gammaData := asCPU("LayerNorm", gamma).vector("LayerNorm")
	betaData := asCPU("LayerNorm", beta).vector("LayerNorm")

	_, c := t.Dims()
	if len(gammaData) != c || len(betaData) != c {
		log.Panic().Msgf("LayerNorm params dim mismatch: gamma %d, beta %d, cols %d", len(gammaData), len(betaData), c)
	}

	t.rowwise("LayerNorm", func(row []float32) {
		mean, variance := simd.MeanVariance(row)
		invStd := float32(1.0 / math.Sqrt(float64(variance)+float64(eps)))
		for j := range row {
			row[j] = (row[j]-mean)*invStd*gammaData[j] + betaData[j]
		}
	})
}

func (t *CPUTensor) Linear(input, weight, bias Tensor) Tensor {
	r, _ := input.Dims()
	_, wc := weight.Dims()

	result := t.backend.GetTensor(r, wc)
	result.Mul(input, weight)
	if bias != nil {
		result.AddBias(bias)
	}
	return result
}

func (t *CPUTensor) LinearActivation(input, weight, bias Tensor, activation ActivationType) Tensor {
	result := t.Linear(input, weight, bias)

	switch activation {
	case ActivationGELU:
		result.Gelu()
	case ActivationQuickGELU:
		result.QuickGelu()
	case ActivationTanh:
		result.Tanh()
	case ActivationSoftmax:
		result.Softmax()
	case ActivationIdentity:
		// No-op
	default:
		log.Panic().Stringer("activation", activation).Msg("LinearActivation: unsupported activation")
	}
	return result
}

func (t *CPUTensor) Attention(q, k, v Tensor, batchSize, seqLen, numHeads int, scale float32, causal bool) Tensor {
	qt := asCPU("Attention", q)
	kt := asCPU("Attention", k)
	vt := asCPU("Attention", v)
	if qt.trans || kt.trans || vt.trans {
		log.Panic().Msg("Attention: transposed inputs not supported")
	}

	r, c := qt.Dims()
	if r != batchSize*seqLen {
		log.Panic().Msgf("Attention: dims mismatch, %d rows for batch %d x seq %d", r, batchSize, seqLen)
	}
	if kr, kc := kt.Dims(); kr != r || kc != c {
		log.Panic().Msgf("Attention: key shape %dx%d does not match query %dx%d", kr, kc, r, c)
	}
	if vr, vc := vt.Dims(); vr != r || vc != c {
		log.Panic().Msgf("Attention: value shape %dx%d does not match query %dx%d", vr, vc, r, c)
	}
	if numHeads <= 0 || c%numHeads != 0 {
		log.Panic().Msgf("Attention: hidden size %d not divisible by %d heads", c, numHeads)
	}
	headDim := c / numHeads

	result := t.backend.newTensor(r, c)

	// One job per (sequence, head) pair.
	parallelRows(batchSize*numHeads, func(start, end int) {
		scores := make([]float32, seqLen)
		for job := start; job < end; job++ {
			offset := (job / numHeads) * seqLen
			col := (job % numHeads) * headDim

			for i := 0; i < seqLen; i++ {
				qIdx := (offset+i)*c + col
				qRow := qt.data[qIdx : qIdx+headDim]

				span := seqLen
				if causal {
					span = i + 1
				}
				row := scores[:span]
				for j := range row {
					kIdx := (offset+j)*c + col
					row[j] = simd.DotProduct(qRow, kt.data[kIdx:kIdx+headDim]) * scale
				}
				simd.Softmax(row)

				outRow := result.data[qIdx : qIdx+headDim]
				for j, p := range row {
					vIdx := (offset+j)*c + col
					simd.VecAddScaled(outRow, vt.data[vIdx:vIdx+headDim], p)
				}
			}
		}
	})
	return result
}
