package program

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// Metadata is the compiler-reported architecture of a program.
type Metadata struct {
	NumHeads      int
	NumLayers     int
	KeySize       int
	MLPHiddenSize int
	LayerNorm     bool
	Causal        bool
	MaxSeqLen     int
}

// Program is a compiled program as the transplanter sees it.
type Program struct {
	Name     string
	Params   *Params
	Metadata Metadata
	Input    *Encoder

	// Output is nil for programs with a numerical output; their result is
	// read from residual channel 0.
	Output *Encoder
}

// Numerical reports whether the program emits numbers rather than tokens.
func (p *Program) Numerical() bool { return p.Output == nil }

// OutputSize is the width of the output block at the start of the residual.
func (p *Program) OutputSize() int {
	if p.Output == nil {
		return 1
	}
	return p.Output.Size()
}

// Result is the outcome of running a program on one input sequence.
type Result struct {
	// Decoded holds the symbolic output for categorical programs. Position 0
	// always carries the BOS symbol.
	Decoded []string

	// Numeric holds residual channel 0 per position.
	Numeric []float64

	// LayerOutputs holds the residual-stream contribution of every
	// sub-layer in order: attn 0, mlp 0, attn 1, mlp 1, ... Each is (seq, d_model).
	LayerOutputs []*tensor.Tensor

	Residual *tensor.Tensor
}

const layerNormEps = 1e-5

// Apply runs the compiled program on symbols using the fused weight layout.
func (p *Program) Apply(symbols []string) (*Result, error) {
	if err := p.Params.Validate(); err != nil {
		return nil, fmt.Errorf("program %s: %w", p.Name, err)
	}
	ids, err := p.Input.Encode(symbols)
	if err != nil {
		return nil, fmt.Errorf("program %s: %w", p.Name, err)
	}
	seq := len(ids)
	if seq == 0 {
		return nil, fmt.Errorf("program %s: empty input", p.Name)
	}
	if seq > p.Params.ContextSize() {
		return nil, fmt.Errorf("program %s: input length %d exceeds context %d", p.Name, seq, p.Params.ContextSize())
	}

	d := p.Params.DModel()
	resid := tensor.New(seq, d)
	for i, id := range ids {
		row := resid.Row(i)
		copy(row, p.Params.TokenEmbed.Row(id))
		for j, v := range p.Params.PosEmbed.Row(i) {
			row[j] += v
		}
	}

	res := &Result{}
	for l := range p.Params.Layers {
		layer := &p.Params.Layers[l]

		attn, err := p.attend(p.normed(resid), &layer.Attn)
		if err != nil {
			return nil, fmt.Errorf("program %s layer %d attn: %w", p.Name, l, err)
		}
		accumulate(resid, attn)
		res.LayerOutputs = append(res.LayerOutputs, attn)

		mlp, err := p.feedForward(p.normed(resid), &layer.MLP)
		if err != nil {
			return nil, fmt.Errorf("program %s layer %d mlp: %w", p.Name, l, err)
		}
		accumulate(resid, mlp)
		res.LayerOutputs = append(res.LayerOutputs, mlp)
	}
	res.Residual = resid

	readout := p.normed(resid)
	res.Numeric = make([]float64, seq)
	for i := 0; i < seq; i++ {
		res.Numeric[i] = readout.At(i, 0)
	}
	if p.Output != nil {
		block, err := readout.Narrow(1, 0, p.Output.Size())
		if err != nil {
			return nil, fmt.Errorf("program %s readout: %w", p.Name, err)
		}
		decoded, err := p.Output.Decode(tensor.ArgMaxLastAxis(block))
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", p.Name, err)
		}
		decoded[0] = p.Input.BOS()
		res.Decoded = decoded
	}
	return res, nil
}

func (p *Program) normed(x *tensor.Tensor) *tensor.Tensor {
	if !p.Metadata.LayerNorm {
		return x
	}
	out := x.Clone()
	tensor.LayerNorm(out.Data(), x.Dim(1), nil, nil, layerNormEps)
	return out
}

func accumulate(dst, src *tensor.Tensor) {
	d := dst.Data()
	for i, v := range src.Data() {
		d[i] += v
	}
}

func affine(x *tensor.Tensor, lin Linear) (*tensor.Tensor, error) {
	out, err := tensor.MatMul(x, lin.W)
	if err != nil {
		return nil, err
	}
	tensor.AddBias(out.Data(), lin.B.Data())
	return out, nil
}

// attend evaluates multi-head attention with heads laid out side by side in
// the fused projection width.
func (p *Program) attend(x *tensor.Tensor, a *Attention) (*tensor.Tensor, error) {
	q, err := affine(x, a.Query)
	if err != nil {
		return nil, err
	}
	k, err := affine(x, a.Key)
	if err != nil {
		return nil, err
	}
	v, err := affine(x, a.Value)
	if err != nil {
		return nil, err
	}

	heads, ks := p.Metadata.NumHeads, p.Metadata.KeySize
	if q.Dim(1) != heads*ks || v.Dim(1) != heads*ks {
		return nil, fmt.Errorf("fused width %d does not hold %d heads of %d", q.Dim(1), heads, ks)
	}
	seq := x.Dim(0)
	scale := 1 / math.Sqrt(float64(ks))
	z := tensor.New(seq, heads*ks)
	scores := make([]float64, seq)
	for h := 0; h < heads; h++ {
		off := h * ks
		for i := 0; i < seq; i++ {
			qi := q.Row(i)[off : off+ks]
			for j := 0; j < seq; j++ {
				if p.Metadata.Causal && j > i {
					scores[j] = math.Inf(-1)
					continue
				}
				kj := k.Row(j)[off : off+ks]
				dot := 0.0
				for c := range qi {
					dot += qi[c] * kj[c]
				}
				scores[j] = dot * scale
			}
			tensor.Softmax(scores)
			zi := z.Row(i)[off : off+ks]
			for j := 0; j < seq; j++ {
				if scores[j] == 0 {
					continue
				}
				vj := v.Row(j)[off : off+ks]
				for c := range zi {
					zi[c] += scores[j] * vj[c]
				}
			}
		}
	}
	return affine(z, a.Output)
}

func (p *Program) feedForward(x *tensor.Tensor, m *MLP) (*tensor.Tensor, error) {
	hidden, err := affine(x, m.Hidden)
	if err != nil {
		return nil, err
	}
	tensor.ReLU(hidden.Data())
	return affine(hidden, m.Output)
}
