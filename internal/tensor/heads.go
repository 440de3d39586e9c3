package tensor

import "fmt"

// SplitHeads rearranges a fused projection "d_model (heads d_head)" into the
// per-head layout "heads d_model d_head".
func SplitHeads(w *Tensor, heads, headDim int) (*Tensor, error) {
	if w.Dims() != 2 {
		return nil, fmt.Errorf("%w: split heads wants a 2-d weight, got %v", ErrShape, w.shape)
	}
	if heads <= 0 || headDim <= 0 || w.shape[1] != heads*headDim {
		return nil, fmt.Errorf("%w: fused width %d != heads(%d) * head_dim(%d)", ErrShape, w.shape[1], heads, headDim)
	}
	dModel := w.shape[0]
	out := New(heads, dModel, headDim)
	for h := 0; h < heads; h++ {
		for m := 0; m < dModel; m++ {
			src := w.data[m*heads*headDim+h*headDim : m*heads*headDim+(h+1)*headDim]
			copy(out.data[(h*dModel+m)*headDim:], src)
		}
	}
	return out, nil
}

// MergeHeads is the inverse of SplitHeads.
func MergeHeads(w *Tensor) (*Tensor, error) {
	if w.Dims() != 3 {
		return nil, fmt.Errorf("%w: merge heads wants a 3-d weight, got %v", ErrShape, w.shape)
	}
	heads, dModel, headDim := w.shape[0], w.shape[1], w.shape[2]
	out := New(dModel, heads*headDim)
	for h := 0; h < heads; h++ {
		for m := 0; m < dModel; m++ {
			copy(out.data[m*heads*headDim+h*headDim:], w.data[(h*dModel+m)*headDim:(h*dModel+m+1)*headDim])
		}
	}
	return out, nil
}

// SplitHeadBias rearranges "(heads d_head)" into "heads d_head".
func SplitHeadBias(b *Tensor, heads, headDim int) (*Tensor, error) {
	if b.Dims() != 1 || b.shape[0] != heads*headDim {
		return nil, fmt.Errorf("%w: bias %v does not split into %d heads of %d", ErrShape, b.shape, heads, headDim)
	}
	return b.Reshape(heads, headDim)
}

// SplitOutputHeads rearranges "(heads d_head) d_model" into
// "heads d_head d_model". The memory order is unchanged.
func SplitOutputHeads(w *Tensor, heads, headDim int) (*Tensor, error) {
	if w.Dims() != 2 || w.shape[0] != heads*headDim {
		return nil, fmt.Errorf("%w: output weight %v does not split into %d heads of %d", ErrShape, w.shape, heads, headDim)
	}
	return w.Reshape(heads, headDim, w.shape[1])
}
