package simd

import "math"

// quickGeluAlpha is the sigmoid sharpness used by the OpenAI CLIP checkpoints.
const quickGeluAlpha = 1.702

// Sigmoid returns 1 / (1 + exp(-x)) evaluated in float64.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

// GeluErf applies the exact GELU in-place: 0.5 * x * (1 + erf(x / sqrt(2))).
func GeluErf(data []float32) {
	for i, x := range data {
		v := float64(x)
		data[i] = float32(0.5 * v * (1 + math.Erf(v/math.Sqrt2)))
	}
}

// QuickGelu applies the sigmoid approximation in-place: x * sigmoid(1.702 * x).
func QuickGelu(data []float32) {
	for i, x := range data {
		data[i] = x * Sigmoid(quickGeluAlpha*x)
	}
}

// TanhInPlace applies tanh element-wise.
func TanhInPlace(data []float32) {
	for i, x := range data {
		data[i] = float32(math.Tanh(float64(x)))
	}
}

// Softmax applies a numerically stable softmax in-place to a row.
// An empty row is left untouched.
func Softmax(row []float32) {
	if len(row) == 0 {
		return
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}

	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v - max))
		row[i] = float32(e)
		sum += e
	}

	inv := float32(1.0 / sum)
	for i := range row {
		row[i] *= inv
	}
}

// VecAdd performs dst += src for float32 vectors
func VecAdd(dst, src []float32) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddScaled performs dst += src * scale for float32 vectors
func VecAddScaled(dst, src []float32, scale float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// DotProduct computes the dot product of two float32 vectors
func DotProduct(a, b []float32) float32 {
	var sum float32
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += a[i] * b[i]
		sum += a[i+1] * b[i+1]
		sum += a[i+2] * b[i+2]
		sum += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// MeanVariance returns the mean and biased variance of row.
func MeanVariance(row []float32) (float32, float32) {
	n := float64(len(row))
	var sum float64
	for _, v := range row {
		sum += float64(v)
	}
	mean := sum / n

	var varSum float64
	for _, v := range row {
		d := float64(v) - mean
		varSum += d * d
	}
	return float32(mean), float32(varSum / n)
}
