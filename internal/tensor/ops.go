package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MatMul multiplies two 2D tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Dims() != 2 || b.Dims() != 2 {
		return nil, fmt.Errorf("%w: matmul wants 2-d operands, got %v and %v", ErrShape, a.shape, b.shape)
	}
	if a.shape[1] != b.shape[0] {
		return nil, fmt.Errorf("%w: matrix dimension mismatch: A%v * B%v", ErrShape, a.shape, b.shape)
	}
	out := New(a.shape[0], b.shape[1])
	MatMulInto(out.data, a.data, b.data, a.shape[0], a.shape[1], b.shape[1])
	return out, nil
}

// MatMulInto writes the (m x k)·(k x n) product of row-major slices into dst.
func MatMulInto(dst, a, b []float64, m, k, n int) {
	am := mat.NewDense(m, k, a[:m*k])
	bm := mat.NewDense(k, n, b[:k*n])
	dm := mat.NewDense(m, n, dst[:m*n])
	dm.Mul(am, bm)
}

// AddBias adds bias to every row of a row-major (rows x len(bias)) slice.
func AddBias(x, bias []float64) {
	n := len(bias)
	for r := 0; r*n < len(x); r++ {
		floats.Add(x[r*n:(r+1)*n], bias)
	}
}

func ReLU(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// GELU uses the tanh approximation.
func GELU(x []float64) {
	for i, v := range x {
		x[i] = 0.5 * v * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(v+0.044715*v*v*v)))
	}
}

// Softmax normalizes x in place. -Inf entries receive zero mass. When any
// entry is +Inf the mass is split evenly across the +Inf entries, which is
// the limit of the finite case.
func Softmax(x []float64) {
	if len(x) == 0 {
		return
	}
	max := floats.Max(x)
	switch {
	case math.IsInf(max, -1):
		for i := range x {
			x[i] = 0
		}
		return
	case math.IsInf(max, 1):
		share := 1 / float64(countPosInf(x))
		for i, v := range x {
			if math.IsInf(v, 1) {
				x[i] = share
			} else {
				x[i] = 0
			}
		}
		return
	}
	sum := 0.0
	for i := range x {
		x[i] = math.Exp(x[i] - max)
		sum += x[i]
	}
	floats.Scale(1/sum, x)
}

// LogSoftmax writes log(softmax(x)) in place. Infinite maxima follow
// Softmax: an all -Inf row stays -Inf and +Inf entries share the mass.
func LogSoftmax(x []float64) {
	if len(x) == 0 {
		return
	}
	max := floats.Max(x)
	switch {
	case math.IsInf(max, -1):
		return
	case math.IsInf(max, 1):
		share := -math.Log(float64(countPosInf(x)))
		for i, v := range x {
			if math.IsInf(v, 1) {
				x[i] = share
			} else {
				x[i] = math.Inf(-1)
			}
		}
		return
	}
	sum := 0.0
	for _, v := range x {
		sum += math.Exp(v - max)
	}
	lse := max + math.Log(sum)
	floats.AddConst(-lse, x)
}

func countPosInf(x []float64) int {
	n := 0
	for _, v := range x {
		if math.IsInf(v, 1) {
			n++
		}
	}
	return n
}

// LayerNorm normalizes each row of width n to zero mean and unit variance and
// applies the affine weight and bias when they are non-nil.
func LayerNorm(x []float64, n int, weight, bias []float64, eps float64) {
	for r := 0; r*n < len(x); r++ {
		row := x[r*n : (r+1)*n]
		mean := floats.Sum(row) / float64(n)
		floats.AddConst(-mean, row)
		variance := floats.Dot(row, row) / float64(n)
		floats.Scale(1/math.Sqrt(variance+eps), row)
		if weight != nil {
			floats.Mul(row, weight)
		}
		if bias != nil {
			floats.Add(row, bias)
		}
	}
}

// LastAxisLogSoftmax applies LogSoftmax over the last axis of t.
func LastAxisLogSoftmax(t *Tensor) *Tensor {
	out := t.Clone()
	n := t.shape[len(t.shape)-1]
	for r := 0; r*n < len(out.data); r++ {
		LogSoftmax(out.data[r*n : (r+1)*n])
	}
	return out
}

// ArgMaxLastAxis returns the argmax of every row along the last axis.
func ArgMaxLastAxis(t *Tensor) []int {
	n := t.shape[len(t.shape)-1]
	rows := len(t.data) / n
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		out[r] = floats.MaxIdx(t.data[r*n : (r+1)*n])
	}
	return out
}
