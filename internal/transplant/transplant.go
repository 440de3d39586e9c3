// Package transplant maps a compiled program's fused-layout parameters into
// the per-head layout of the generic runtime and loads them.
package transplant

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/logger"
	"github.com/23skdu/longbow-circuit/internal/metrics"
	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/runtime"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// reservedTokens is the number of input ids (BOS, PAD) with no output slot.
const reservedTokens = 2

// DroppableAuxiliary lists compiler helper parameters that have no runtime
// destination and may be discarded. Any other auxiliary aborts the transplant.
var DroppableAuxiliary = map[string]bool{
	"bos_direction": true,
	"one_direction": true,
}

// Result describes what a transplant did with every parameter.
type Result struct {
	Program  string
	Config   runtime.Config
	Loaded   []string
	Dropped  []string
	Missing  []string
	Duration time.Duration
}

// DeriveConfig builds the runtime config from the program's own metadata and
// embedding shapes.
func DeriveConfig(p *program.Program) (runtime.Config, error) {
	if err := p.Params.Validate(); err != nil {
		return runtime.Config{}, &errs.ShapeMismatchError{Param: "params", Reason: err.Error()}
	}
	meta := p.Metadata
	if meta.NumLayers != len(p.Params.Layers) {
		return runtime.Config{}, &errs.ShapeMismatchError{
			Param:  "layers",
			Want:   []int{meta.NumLayers},
			Got:    []int{len(p.Params.Layers)},
			Reason: fmt.Sprintf("metadata reports %d layers, parameters hold %d", meta.NumLayers, len(p.Params.Layers)),
		}
	}
	dVocab := p.Params.VocabSize()
	dVocabOut := dVocab - reservedTokens
	if dVocabOut <= 0 {
		return runtime.Config{}, &errs.ShapeMismatchError{
			Param:  runtime.ParamEmbed,
			Got:    p.Params.TokenEmbed.Shape(),
			Reason: fmt.Sprintf("vocab of %d leaves no room for BOS and PAD", dVocab),
		}
	}
	if p.Output != nil && p.Output.Size() != dVocabOut {
		return runtime.Config{}, &errs.ShapeMismatchError{
			Param: runtime.ParamUnembedW,
			Want:  []int{p.Params.DModel(), dVocabOut},
			Got:   []int{p.Params.DModel(), p.Output.Size()},
		}
	}

	cfg := runtime.Config{
		NLayers:          meta.NumLayers,
		DModel:           p.Params.DModel(),
		DHead:            meta.KeySize,
		NHeads:           meta.NumHeads,
		DMLP:             meta.MLPHiddenSize,
		NCtx:             p.Params.ContextSize(),
		DVocab:           dVocab,
		DVocabOut:        dVocabOut,
		ActFn:            runtime.ActReLU,
		AttentionDir:     runtime.Bidirectional,
		UseAttnResult:    true,
		UseSplitQKVInput: true,
		UseHookMLPIn:     true,
	}
	if meta.LayerNorm {
		cfg.Normalization = runtime.NormLayerNorm
	}
	if meta.Causal {
		cfg.AttentionDir = runtime.Causal
	}
	if err := cfg.Validate(); err != nil {
		return runtime.Config{}, &errs.ShapeMismatchError{Param: "config", Reason: err.Error()}
	}
	return cfg, nil
}

// BuildWeightSet rearranges p into runtime parameter names. It returns the
// weight set and the auxiliary parameters that were dropped.
func BuildWeightSet(p *program.Program, cfg runtime.Config) (runtime.WeightSet, []string, error) {
	if err := p.Params.Validate(); err != nil {
		return nil, nil, &errs.ShapeMismatchError{Param: "params", Reason: err.Error()}
	}
	ws := runtime.WeightSet{
		runtime.ParamEmbed:    p.Params.TokenEmbed.Clone(),
		runtime.ParamPosEmbed: p.Params.PosEmbed.Clone(),
		runtime.ParamUnembedW: tensor.Eye(cfg.DModel, cfg.DVocabOut),
	}

	headed := []struct {
		kind program.ProjectionKind
		w, b string
	}{
		{program.Query, "attn.W_Q", "attn.b_Q"},
		{program.Key, "attn.W_K", "attn.b_K"},
		{program.Value, "attn.W_V", "attn.b_V"},
	}

	for l := range p.Params.Layers {
		for _, hp := range headed {
			lin, err := p.Params.Projection(l, hp.kind)
			if err != nil {
				return nil, nil, err
			}
			w, err := tensor.SplitHeads(lin.W, cfg.NHeads, cfg.DHead)
			if err != nil {
				return nil, nil, mismatch(runtime.BlockParam(l, hp.w), []int{cfg.DModel, cfg.NHeads * cfg.DHead}, lin.W, err)
			}
			b, err := tensor.SplitHeadBias(lin.B, cfg.NHeads, cfg.DHead)
			if err != nil {
				return nil, nil, mismatch(runtime.BlockParam(l, hp.b), []int{cfg.NHeads * cfg.DHead}, lin.B, err)
			}
			ws[runtime.BlockParam(l, hp.w)] = w
			ws[runtime.BlockParam(l, hp.b)] = b
		}

		out, err := p.Params.Projection(l, program.AttnOutput)
		if err != nil {
			return nil, nil, err
		}
		wo, err := tensor.SplitOutputHeads(out.W, cfg.NHeads, cfg.DHead)
		if err != nil {
			return nil, nil, mismatch(runtime.BlockParam(l, "attn.W_O"), []int{cfg.NHeads * cfg.DHead, cfg.DModel}, out.W, err)
		}
		ws[runtime.BlockParam(l, "attn.W_O")] = wo
		ws[runtime.BlockParam(l, "attn.b_O")] = out.B.Clone()

		hidden, err := p.Params.Projection(l, program.MLPHidden)
		if err != nil {
			return nil, nil, err
		}
		mlpOut, err := p.Params.Projection(l, program.MLPOutput)
		if err != nil {
			return nil, nil, err
		}
		ws[runtime.BlockParam(l, "mlp.W_in")] = hidden.W.Clone()
		ws[runtime.BlockParam(l, "mlp.b_in")] = hidden.B.Clone()
		ws[runtime.BlockParam(l, "mlp.W_out")] = mlpOut.W.Clone()
		ws[runtime.BlockParam(l, "mlp.b_out")] = mlpOut.B.Clone()
	}

	names := make([]string, 0, len(p.Params.Auxiliary))
	for name := range p.Params.Auxiliary {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !DroppableAuxiliary[name] {
			return nil, nil, &errs.ShapeMismatchError{
				Param:  name,
				Got:    p.Params.Auxiliary[name].Shape(),
				Reason: "auxiliary parameter has no runtime destination and is not droppable",
			}
		}
	}
	return ws, names, nil
}

func mismatch(param string, want []int, got *tensor.Tensor, cause error) error {
	return fmt.Errorf("%w (%v)", &errs.ShapeMismatchError{Param: param, Want: want, Got: got.Shape()}, cause)
}

// defaultable reports whether a runtime slot may keep its initial value when
// the program provides nothing for it.
func defaultable(name string) bool {
	switch name {
	case runtime.ParamUnembedB, runtime.ParamLNFinalW, runtime.ParamLNFinalB:
		return true
	}
	for _, suffix := range []string{".ln1.w", ".ln1.b", ".ln2.w", ".ln2.b"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Transplant derives a runtime config for p, builds and loads its weights,
// and returns the ready model.
func Transplant(p *program.Program) (*runtime.Model, *Result, error) {
	log := logger.Log.With("transplant")
	start := time.Now()

	model, res, err := transplant(p)
	if err != nil {
		reason := "load"
		if errors.Is(err, errs.ErrShapeMismatch) {
			reason = "shape_mismatch"
		}
		metrics.RecordTransplantFailure(p.Name, reason)
		log.Error("transplant aborted", "program", p.Name, "error", err)
		return nil, nil, err
	}
	res.Duration = time.Since(start)
	metrics.RecordTransplant(p.Name, len(res.Loaded), len(res.Dropped), len(res.Missing), res.Duration)
	log.Info("transplant complete",
		"program", p.Name,
		"layers", res.Config.NLayers,
		"heads", res.Config.NHeads,
		"d_model", res.Config.DModel,
		"loaded", len(res.Loaded),
		"dropped", res.Dropped,
		"missing", res.Missing)
	return model, res, nil
}

func transplant(p *program.Program) (*runtime.Model, *Result, error) {
	cfg, err := DeriveConfig(p)
	if err != nil {
		return nil, nil, err
	}
	ws, dropped, err := BuildWeightSet(p, cfg)
	if err != nil {
		return nil, nil, err
	}
	model, err := runtime.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	loaded, err := model.LoadWeights(ws, false)
	if err != nil {
		return nil, nil, err
	}
	if len(loaded.Unexpected) > 0 {
		return nil, nil, &errs.ShapeMismatchError{Param: loaded.Unexpected[0], Reason: "runtime has no slot for this parameter"}
	}
	for _, name := range loaded.Missing {
		if !defaultable(name) {
			return nil, nil, &errs.ShapeMismatchError{Param: name, Reason: "runtime slot has no source parameter"}
		}
	}
	return model, &Result{
		Program: p.Name,
		Config:  cfg,
		Loaded:  loaded.Loaded,
		Dropped: dropped,
		Missing: loaded.Missing,
	}, nil
}
