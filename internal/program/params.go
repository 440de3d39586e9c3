// Package program describes a compiled symbolic program at the boundary the
// transplanter consumes: its parameters, metadata and token codecs, plus a
// reference fused-layout forward pass that yields per-layer outputs.
//
// Parameters are held in an indexed structure. Every projection is addressed
// by (layer, kind) and there is no string-keyed lookup except for compiler
// auxiliaries, which have no runtime destination by definition.
package program

import (
	"fmt"

	"github.com/23skdu/longbow-circuit/internal/tensor"
)

type ProjectionKind int

const (
	Query ProjectionKind = iota
	Key
	Value
	AttnOutput
	MLPHidden
	MLPOutput
)

var projectionNames = [...]string{"query", "key", "value", "attn_output", "mlp_hidden", "mlp_output"}

func (k ProjectionKind) String() string {
	if int(k) < len(projectionNames) {
		return projectionNames[k]
	}
	return fmt.Sprintf("projection(%d)", int(k))
}

// AllProjections lists kinds in the order the transplanter walks them.
var AllProjections = []ProjectionKind{Query, Key, Value, AttnOutput, MLPHidden, MLPOutput}

// Linear is a weight matrix with its bias. W is (in, out) and B is (out).
type Linear struct {
	W *tensor.Tensor
	B *tensor.Tensor
}

type Attention struct {
	Query  Linear
	Key    Linear
	Value  Linear
	Output Linear
}

type MLP struct {
	Hidden Linear
	Output Linear
}

type Layer struct {
	Attn Attention
	MLP  MLP
}

type Params struct {
	TokenEmbed *tensor.Tensor // (d_vocab, d_model)
	PosEmbed   *tensor.Tensor // (n_ctx, d_model)
	Layers     []Layer

	// Auxiliary holds compiler helper parameters that have no slot in a
	// generic runtime, keyed by the compiler's own name.
	Auxiliary map[string]*tensor.Tensor
}

// Projection returns the linear map for kind in the given layer.
func (p *Params) Projection(layer int, kind ProjectionKind) (Linear, error) {
	if layer < 0 || layer >= len(p.Layers) {
		return Linear{}, fmt.Errorf("layer %d out of range (%d layers)", layer, len(p.Layers))
	}
	l := &p.Layers[layer]
	switch kind {
	case Query:
		return l.Attn.Query, nil
	case Key:
		return l.Attn.Key, nil
	case Value:
		return l.Attn.Value, nil
	case AttnOutput:
		return l.Attn.Output, nil
	case MLPHidden:
		return l.MLP.Hidden, nil
	case MLPOutput:
		return l.MLP.Output, nil
	}
	return Linear{}, fmt.Errorf("unknown projection kind %v", kind)
}

func (p *Params) DModel() int { return p.TokenEmbed.Dim(1) }

func (p *Params) VocabSize() int { return p.TokenEmbed.Dim(0) }

func (p *Params) ContextSize() int { return p.PosEmbed.Dim(0) }

// Validate checks that every slot is populated and 2-d/1-d as expected. It
// does not check cross-tensor widths; that is the transplanter's contract.
func (p *Params) Validate() error {
	if p.TokenEmbed == nil || p.TokenEmbed.Dims() != 2 {
		return fmt.Errorf("token embedding missing or not 2-d")
	}
	if p.PosEmbed == nil || p.PosEmbed.Dims() != 2 {
		return fmt.Errorf("positional embedding missing or not 2-d")
	}
	for l := range p.Layers {
		for _, kind := range AllProjections {
			lin, err := p.Projection(l, kind)
			if err != nil {
				return err
			}
			if lin.W == nil || lin.W.Dims() != 2 {
				return fmt.Errorf("layer %d %v weight missing or not 2-d", l, kind)
			}
			if lin.B == nil || lin.B.Dims() != 1 {
				return fmt.Errorf("layer %d %v bias missing or not 1-d", l, kind)
			}
		}
	}
	return nil
}
