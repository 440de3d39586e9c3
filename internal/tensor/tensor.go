// Package tensor provides the dense float64 tensor shared by the compiled
// program boundary, the runtime and the metric functions.
//
// Tensors are row-major. Shape-changing operations (Reshape, Narrow, Select,
// the head rearrangements) always return a fresh copy, so a tensor handed to
// the runtime never aliases compiled-program memory.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

var ErrShape = errors.New("tensor shape error")

type Tensor struct {
	shape []int
	data  []float64
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func validShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrShape)
	}
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: dim %d is %d (must be positive)", ErrShape, i, d)
		}
	}
	return nil
}

// New allocates a zero tensor. It panics on a non-positive dimension, which is
// always a programming error at call sites that build shapes from configs.
func New(shape ...int) *Tensor {
	if err := validShape(shape); err != nil {
		panic(err)
	}
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  make([]float64, volume(shape)),
	}
}

// FromData wraps data without copying.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if len(data) != volume(shape) {
		return nil, fmt.Errorf("%w: %d values cannot fill shape %v", ErrShape, len(data), shape)
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

// FromRows builds a 2D tensor from equal-length rows.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: empty rows", ErrShape)
	}
	cols := len(rows[0])
	t := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(r), cols)
		}
		copy(t.data[i*cols:], r)
	}
	return t, nil
}

func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

func (t *Tensor) Dims() int { return len(t.shape) }

func (t *Tensor) Dim(i int) int { return t.shape[i] }

func (t *Tensor) Numel() int { return len(t.data) }

// Data exposes the backing slice. Callers that keep it must not mutate a
// tensor they do not own.
func (t *Tensor) Data() []float64 { return t.data }

func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape: append([]int(nil), t.shape...),
		data:  append([]float64(nil), t.data...),
	}
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for %d-d tensor", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dim %d (size %d)", v, i, t.shape[i]))
		}
		off = off*t.shape[i] + v
	}
	return off
}

func (t *Tensor) At(idx ...int) float64 { return t.data[t.offset(idx)] }

func (t *Tensor) Set(v float64, idx ...int) { t.data[t.offset(idx)] = v }

// Add accumulates v at idx.
func (t *Tensor) Add(v float64, idx ...int) { t.data[t.offset(idx)] += v }

// Row returns row i of a 2D tensor as a view.
func (t *Tensor) Row(i int) []float64 {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor: Row on %d-d tensor", len(t.shape)))
	}
	cols := t.shape[1]
	return t.data[i*cols : (i+1)*cols]
}

// Reshape returns a copy with a new shape of identical volume.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if volume(shape) != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShape, t.shape, shape)
	}
	return &Tensor{shape: append([]int(nil), shape...), data: append([]float64(nil), t.data...)}, nil
}

// Narrow keeps length entries of axis starting at start.
func (t *Tensor) Narrow(axis, start, length int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.shape) {
		return nil, fmt.Errorf("%w: axis %d out of range for %v", ErrShape, axis, t.shape)
	}
	if start < 0 || length <= 0 || start+length > t.shape[axis] {
		return nil, fmt.Errorf("%w: narrow [%d:%d] out of range for axis %d of %v", ErrShape, start, start+length, axis, t.shape)
	}
	outer := volume(t.shape[:axis])
	inner := volume(t.shape[axis+1:])
	shape := t.Shape()
	shape[axis] = length
	out := New(shape...)
	for o := 0; o < outer; o++ {
		src := (o*t.shape[axis] + start) * inner
		copy(out.data[o*length*inner:(o+1)*length*inner], t.data[src:src+length*inner])
	}
	return out, nil
}

// Select picks index along axis and drops that axis.
func (t *Tensor) Select(axis, index int) (*Tensor, error) {
	n, err := t.Narrow(axis, index, 1)
	if err != nil {
		return nil, err
	}
	if len(t.shape) == 1 {
		return n, nil
	}
	shape := append(t.Shape()[:axis], t.shape[axis+1:]...)
	n.shape = shape
	return n, nil
}

// Equal reports bitwise equality of shape and values.
func (t *Tensor) Equal(o *Tensor) bool {
	if !ShapeEqual(t.shape, o.shape) {
		return false
	}
	for i, v := range t.data {
		if math.Float64bits(v) != math.Float64bits(o.data[i]) {
			return false
		}
	}
	return true
}

func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Eye returns a rows x cols matrix with ones on the leading diagonal.
func Eye(rows, cols int) *Tensor {
	t := New(rows, cols)
	for i := 0; i < rows && i < cols; i++ {
		t.data[i*cols+i] = 1
	}
	return t
}

// Map applies f element-wise into a new tensor.
func (t *Tensor) Map(f func(float64) float64) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// AllFinite reports whether no element is NaN or ±Inf.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}
