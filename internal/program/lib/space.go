// Package lib holds hand-compiled programs in the layout a RASP compiler
// emits: a residual stream partitioned into named one-hot blocks, one
// attention and one MLP sub-layer per layer, and no layer norm.
package lib

import (
	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

const (
	// attnGain makes the selected key dominate the softmax.
	attnGain = 1000.0

	// stepSlope is the slope of the two-ReLU step used to discretize an
	// averaged attention value.
	stepSlope = 1000.0

	defaultMaxSeqLen = 5
)

// block is a contiguous run of residual dimensions.
type block struct {
	off  int
	size int
}

func (b block) at(i int) int { return b.off + i }

type residual struct {
	width int
}

func (r *residual) add(size int) block {
	b := block{off: r.width, size: size}
	r.width += size
	return b
}

func linear(in, out int) program.Linear {
	return program.Linear{W: tensor.New(in, out), B: tensor.New(out)}
}

func emptyLayers(n, dModel, heads, keySize, mlpHidden int) []program.Layer {
	layers := make([]program.Layer, n)
	for i := range layers {
		layers[i] = program.Layer{
			Attn: program.Attention{
				Query:  linear(dModel, heads*keySize),
				Key:    linear(dModel, heads*keySize),
				Value:  linear(dModel, heads*keySize),
				Output: linear(heads*keySize, dModel),
			},
			MLP: program.MLP{
				Hidden: linear(dModel, mlpHidden),
				Output: linear(mlpHidden, dModel),
			},
		}
	}
	return layers
}

// direction returns a unit vector along dimension i of a width-wide stream.
func direction(width, i int) *tensor.Tensor {
	t := tensor.New(width)
	t.Set(1, i)
	return t
}
