package device

// Tensor represents a two-dimensional float32 array resident on a backend.
// Hidden states of shape (batch, seq, dim) are carried as (batch*seq, dim).
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	// This is often slow and should be used for debugging or infrequent access.
	At(i, j int) float32

	// Set sets the value at (i, j).
	Set(i, j int, v float32)

	// Data returns the underlying slice if it is contiguous (nil for transposed views).
	Data() []float32

	// ToHost copies the data to a Go slice in logical row-major order.
	ToHost() []float32

	// CopyFromFloat32 copies data from a Go slice into the tensor, rounding
	// through the backend precision.
	CopyFromFloat32(data []float32)

	// Operations

	// Copy copies content from another tensor.
	Copy(from Tensor)

	// Slice copies rows [i, k) and columns [j, l) into a new tensor.
	Slice(i, k, j, l int) Tensor

	// T returns the transpose view.
	T() Tensor

	// Mul performs matrix multiplication: t = a * b
	Mul(a, b Tensor)

	// Add performs element-wise addition: t = t + other
	Add(other Tensor)

	// AddScalar performs: t = t + val
	AddScalar(val float32)

	// Scale performs: t = t * val
	Scale(val float32)

	// AddBias adds a 1xN bias vector to every row.
	AddBias(bias Tensor)

	// Activation functions (In-Place)
	Softmax()
	Gelu()
	QuickGelu()
	Tanh()

	// LayerNorm normalizes every row in-place: (x - mean) / sqrt(var + eps) * gamma + beta.
	LayerNorm(gamma, beta Tensor, eps float32)

	// Gather collects rows based on indices. Returns new Tensor.
	// An index outside [0, rows) is a programming error and panics.
	Gather(indices []int) Tensor

	// Linear performs a fused MatMul + BiasAdd: input * weight + bias.
	// bias may be nil.
	Linear(input, weight, bias Tensor) Tensor

	// LinearActivation performs Linear followed by Activation.
	LinearActivation(input, weight, bias Tensor, activation ActivationType) Tensor

	// Attention performs multi-head scaled dot product attention:
	// Softmax(Q * K^T * scale + mask) * V per head.
	// q, k, v are (batchSize*seqLen, hidden) with hidden divisible by numHeads.
	// When causal is set, position i only attends to positions <= i.
	Attention(q, k, v Tensor, batchSize, seqLen, numHeads int, scale float32, causal bool) Tensor
}

// ActivationType selects the nonlinearity applied by LinearActivation.
type ActivationType int

const (
	ActivationIdentity ActivationType = iota
	ActivationGELU
	ActivationQuickGELU
	ActivationTanh
	ActivationSoftmax
)

func (a ActivationType) String() string {
	switch a {
	case ActivationIdentity:
		return "identity"
	case ActivationGELU:
		return "gelu"
	case ActivationQuickGELU:
		return "quick_gelu"
	case ActivationTanh:
		return "tanh"
	case ActivationSoftmax:
		return "softmax"
	default:
		return "unknown"
	}
}

// Backend creates tensors and manages device memory.
type Backend interface {
	Name() string

	// DType is the storage precision for tensors created with NewTensor.
	DType() DType

	NewTensor(r, c int, data []float32) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}
