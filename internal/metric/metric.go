// Package metric holds the pure metric functions used to compare a
// candidate run against a baseline. Both metrics discard the BOS output
// position before comparing.
package metric

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/metrics"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

const disjointSupport = "baseline log-probabilities are not finite; one-hot outputs with disjoint support have no defined KL divergence"

type Name string

const (
	KLDiv Name = "kl_div"
	L2    Name = "l2"
)

func ParseName(s string) (Name, error) {
	switch Name(s) {
	case KLDiv, L2:
		return Name(s), nil
	}
	return "", errs.Configf("metric", "unknown metric %q", s)
}

// Value is a metric result: a scalar, or a per-element vector when Vector is
// non-nil.
type Value struct {
	Scalar float64
	Vector []float64
}

func (v Value) IsVector() bool { return v.Vector != nil }

// Mean returns the scalar, or the mean of the vector.
func (v Value) Mean() float64 {
	if v.Vector == nil {
		return v.Scalar
	}
	if len(v.Vector) == 0 {
		return 0
	}
	return floats.Sum(v.Vector) / float64(len(v.Vector))
}

// Func evaluates a candidate output against a baseline bound at construction.
type Func func(candidate *tensor.Tensor) (Value, error)

func dropBOS(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t.Dims() < 2 || t.Dim(1) < 2 {
		return nil, fmt.Errorf("%w: need (batch, seq>=2, ...) to drop BOS, got %v", errs.ErrShapeMismatch, t.Shape())
	}
	return t.Narrow(1, 1, t.Dim(1)-1)
}

// LogProbs takes the elementwise log of outputs that are already
// probabilities.
func LogProbs(outputs *tensor.Tensor) *tensor.Tensor {
	return outputs.Map(math.Log)
}

// LogSoftmax normalizes raw outputs over the last axis.
func LogSoftmax(outputs *tensor.Tensor) *tensor.Tensor {
	return tensor.LastAxisLogSoftmax(outputs)
}

type KLOptions struct {
	// LastSeqElementOnly compares only the final position.
	LastSeqElementOnly bool

	// ReturnOneElement reduces to a scalar mean. Otherwise the result is a
	// per-example vector, or the masked elements when Mask is set.
	ReturnOneElement bool

	// Mask selects (example, position) pairs after BOS is dropped. Shape
	// (batch, seq-1).
	Mask [][]bool
}

// KLDivergence computes sum_v exp(base)*(base - log_softmax(candidate)) per
// position. base is log-probabilities of shape (batch, seq, vocab); candidate
// holds raw outputs of the same shape.
func KLDivergence(candidate, base *tensor.Tensor, opts KLOptions) (Value, error) {
	if !base.AllFinite() {
		return Value{}, &errs.SemanticMisuseError{Metric: string(KLDiv), Reason: disjointSupport}
	}
	if candidate.Dims() != 3 || !tensor.ShapeEqual(candidate.Shape(), base.Shape()) {
		return Value{}, &errs.ShapeMismatchError{Param: "candidate", Want: base.Shape(), Got: candidate.Shape()}
	}
	cand, err := dropBOS(candidate)
	if err != nil {
		return Value{}, err
	}
	ref, err := dropBOS(base)
	if err != nil {
		return Value{}, err
	}

	logprobs := tensor.LastAxisLogSoftmax(cand)
	batch, seq, vocab := cand.Dim(0), cand.Dim(1), cand.Dim(2)
	kl := make([]float64, batch*seq)
	lp, bp := logprobs.Data(), ref.Data()
	for r := range kl {
		sum := 0.0
		for v := 0; v < vocab; v++ {
			b := bp[r*vocab+v]
			sum += math.Exp(b) * (b - lp[r*vocab+v])
		}
		kl[r] = sum
	}

	var answer []float64
	switch {
	case opts.Mask != nil:
		if len(opts.Mask) != batch {
			return Value{}, &errs.ShapeMismatchError{Param: "mask", Want: []int{batch, seq}, Got: []int{len(opts.Mask)}}
		}
		for b, row := range opts.Mask {
			if len(row) != seq {
				return Value{}, &errs.ShapeMismatchError{Param: "mask", Want: []int{batch, seq}, Got: []int{batch, len(row)}}
			}
			for s, keep := range row {
				if keep {
					answer = append(answer, kl[b*seq+s])
				}
			}
		}
	case opts.LastSeqElementOnly:
		answer = make([]float64, batch)
		for b := range answer {
			answer[b] = kl[b*seq+seq-1]
		}
	default:
		answer = make([]float64, batch)
		for b := range answer {
			answer[b] = floats.Sum(kl[b*seq:(b+1)*seq]) / float64(seq)
		}
	}

	if opts.ReturnOneElement {
		return Value{Scalar: Value{Vector: answer}.Mean()}, nil
	}
	if answer == nil {
		answer = []float64{}
	}
	return Value{Vector: answer}, nil
}

type L2Options struct {
	// TakeElementZero compares only output channel 0.
	TakeElementZero bool

	// ReturnOneElement reduces to the mean squared error. Otherwise the
	// flattened per-element squared errors are returned.
	ReturnOneElement bool
}

// SquaredError is the elementwise squared error between candidate[:, 1:]
// (channel 0 only with TakeElementZero) and target.
func SquaredError(candidate, target *tensor.Tensor, opts L2Options) (Value, error) {
	proc, err := dropBOS(candidate)
	if err != nil {
		return Value{}, err
	}
	if opts.TakeElementZero {
		if proc.Dims() != 3 {
			return Value{}, &errs.ShapeMismatchError{Param: "candidate", Reason: fmt.Sprintf("element zero needs a 3-d output, got %v", candidate.Shape())}
		}
		if proc, err = proc.Select(2, 0); err != nil {
			return Value{}, err
		}
	}
	if !tensor.ShapeEqual(proc.Shape(), target.Shape()) {
		return Value{}, &errs.ShapeMismatchError{Param: "target", Want: proc.Shape(), Got: target.Shape()}
	}

	sq := make([]float64, proc.Numel())
	pd, td := proc.Data(), target.Data()
	for i := range sq {
		d := pd[i] - td[i]
		sq[i] = d * d
	}
	if opts.ReturnOneElement {
		return Value{Scalar: floats.Sum(sq) / float64(len(sq))}, nil
	}
	return Value{Vector: sq}, nil
}

// L2Target derives an L2 target from baseline outputs: BOS dropped, and
// reduced to channel 0 with takeElementZero.
func L2Target(outputs *tensor.Tensor, takeElementZero bool) (*tensor.Tensor, error) {
	t, err := dropBOS(outputs)
	if err != nil {
		return nil, err
	}
	if takeElementZero {
		return t.Select(2, 0)
	}
	return t, nil
}

func observed(name Name, fn Func) Func {
	return func(candidate *tensor.Tensor) (Value, error) {
		v, err := fn(candidate)
		if err != nil {
			kind := "other"
			switch {
			case errors.Is(err, errs.ErrSemanticMisuse):
				kind = "semantic_misuse"
			case errors.Is(err, errs.ErrShapeMismatch):
				kind = "shape_mismatch"
			}
			metrics.RecordMetricError(string(name), kind)
			return Value{}, err
		}
		metrics.RecordMetricEvaluation(string(name), v.Mean())
		return v, nil
	}
}

// NewKLDivergence binds a baseline. It fails immediately when the baseline
// cannot support a KL comparison.
func NewKLDivergence(base *tensor.Tensor, opts KLOptions) (Func, error) {
	if !base.AllFinite() {
		metrics.RecordMetricError(string(KLDiv), "semantic_misuse")
		return nil, &errs.SemanticMisuseError{Metric: string(KLDiv), Reason: disjointSupport}
	}
	base = base.Clone()
	return observed(KLDiv, func(candidate *tensor.Tensor) (Value, error) {
		return KLDivergence(candidate, base, opts)
	}), nil
}

// NewL2 binds a target.
func NewL2(target *tensor.Tensor, opts L2Options) Func {
	target = target.Clone()
	return observed(L2, func(candidate *tensor.Tensor) (Value, error) {
		return SquaredError(candidate, target, opts)
	})
}
