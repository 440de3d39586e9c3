// Package runtime is a generic hookable transformer: per-head attention
// weights, named parameters, and an activation cache addressed by
// (hook, layer). It knows nothing about compiled programs.
package runtime

import (
	"fmt"
	"sort"
)

type Activation string

const (
	ActReLU Activation = "relu"
	ActGELU Activation = "gelu"
)

type Normalization string

const (
	NormNone      Normalization = ""
	NormLayerNorm Normalization = "LN"
)

type AttentionDir string

const (
	Bidirectional AttentionDir = "bidirectional"
	Causal        AttentionDir = "causal"
)

// Config is the runtime architecture. DModel need not equal NHeads*DHead.
type Config struct {
	NLayers       int           `json:"n_layers"`
	DModel        int           `json:"d_model"`
	DHead         int           `json:"d_head"`
	NHeads        int           `json:"n_heads"`
	DMLP          int           `json:"d_mlp"`
	NCtx          int           `json:"n_ctx"`
	DVocab        int           `json:"d_vocab"`
	DVocabOut     int           `json:"d_vocab_out"`
	ActFn         Activation    `json:"act_fn"`
	Normalization Normalization `json:"normalization_type"`
	AttentionDir  AttentionDir  `json:"attention_dir"`

	// Hook toggles. With them on, per-head results, per-head q/k/v inputs
	// and the MLP input are exposed in the activation cache.
	UseAttnResult    bool `json:"use_attn_result"`
	UseSplitQKVInput bool `json:"use_split_qkv_input"`
	UseHookMLPIn     bool `json:"use_hook_mlp_in"`

	Eps float64 `json:"eps"`
}

func (c Config) Validate() error {
	dims := map[string]int{
		"n_layers": c.NLayers, "d_model": c.DModel, "d_head": c.DHead, "n_heads": c.NHeads,
		"d_mlp": c.DMLP, "n_ctx": c.NCtx, "d_vocab": c.DVocab, "d_vocab_out": c.DVocabOut,
	}
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if dims[k] <= 0 {
			return fmt.Errorf("runtime config: %s must be positive, got %d", k, dims[k])
		}
	}
	switch c.ActFn {
	case ActReLU, ActGELU:
	default:
		return fmt.Errorf("runtime config: unknown act_fn %q", c.ActFn)
	}
	switch c.Normalization {
	case NormNone, NormLayerNorm:
	default:
		return fmt.Errorf("runtime config: unknown normalization %q", c.Normalization)
	}
	switch c.AttentionDir {
	case Bidirectional, Causal:
	default:
		return fmt.Errorf("runtime config: unknown attention_dir %q", c.AttentionDir)
	}
	if c.Eps < 0 {
		return fmt.Errorf("runtime config: eps must be non-negative")
	}
	return nil
}

func (c Config) eps() float64 {
	if c.Eps == 0 {
		return 1e-5
	}
	return c.Eps
}
