package runtime

import (
	"fmt"
	"sort"

	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// WeightSet maps runtime parameter names to tensors.
type WeightSet map[string]*tensor.Tensor

// Names returns the weight names in sorted order.
func (ws WeightSet) Names() []string {
	names := make([]string, 0, len(ws))
	for k := range ws {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

const (
	ParamEmbed    = "embed.W_E"
	ParamPosEmbed = "pos_embed.W_pos"
	ParamUnembedW = "unembed.W_U"
	ParamUnembedB = "unembed.b_U"
	ParamLNFinalW = "ln_final.w"
	ParamLNFinalB = "ln_final.b"
)

// BlockParam returns the full name of a per-layer parameter, for example
// BlockParam(2, "attn.W_Q") is "blocks.2.attn.W_Q".
func BlockParam(layer int, name string) string {
	return fmt.Sprintf("blocks.%d.%s", layer, name)
}

// ParamShapes lists every parameter the runtime expects for cfg.
func ParamShapes(cfg Config) map[string][]int {
	h, d, dh := cfg.NHeads, cfg.DModel, cfg.DHead
	shapes := map[string][]int{
		ParamEmbed:    {cfg.DVocab, d},
		ParamPosEmbed: {cfg.NCtx, d},
		ParamUnembedW: {d, cfg.DVocabOut},
		ParamUnembedB: {cfg.DVocabOut},
	}
	if cfg.Normalization == NormLayerNorm {
		shapes[ParamLNFinalW] = []int{d}
		shapes[ParamLNFinalB] = []int{d}
	}
	for l := 0; l < cfg.NLayers; l++ {
		for _, p := range []string{"attn.W_Q", "attn.W_K", "attn.W_V"} {
			shapes[BlockParam(l, p)] = []int{h, d, dh}
		}
		for _, p := range []string{"attn.b_Q", "attn.b_K", "attn.b_V"} {
			shapes[BlockParam(l, p)] = []int{h, dh}
		}
		shapes[BlockParam(l, "attn.W_O")] = []int{h, dh, d}
		shapes[BlockParam(l, "attn.b_O")] = []int{d}
		shapes[BlockParam(l, "mlp.W_in")] = []int{d, cfg.DMLP}
		shapes[BlockParam(l, "mlp.b_in")] = []int{cfg.DMLP}
		shapes[BlockParam(l, "mlp.W_out")] = []int{cfg.DMLP, d}
		shapes[BlockParam(l, "mlp.b_out")] = []int{d}
		if cfg.Normalization == NormLayerNorm {
			for _, p := range []string{"ln1.w", "ln1.b", "ln2.w", "ln2.b"} {
				shapes[BlockParam(l, p)] = []int{d}
			}
		}
	}
	return shapes
}

// LoadResult reports how a weight set was reconciled with the runtime.
type LoadResult struct {
	Loaded     []string
	Missing    []string
	Unexpected []string
}
