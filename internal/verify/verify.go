// Package verify checks a transplanted runtime against the compiled program
// it came from by comparing per-layer residual contributions.
package verify

import (
	"fmt"
	"slices"
	"strings"

	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/logger"
	"github.com/23skdu/longbow-circuit/internal/metrics"
	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/runtime"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// LayerCheck is the outcome of comparing one sub-layer.
type LayerCheck struct {
	Layer      int
	Hook       string
	Pass       bool
	MaxAbsDiff float64
	Mismatched int
	Elements   int
}

// Report is the structured result of a verification run.
type Report struct {
	Program string
	Input   []string
	Checks  []LayerCheck

	ProgramDecoded []string
	RuntimeDecoded []string
	DecodeMatch    bool

	// Residual is the runtime's final residual stream for the input,
	// shaped (seq, d_model).
	Residual *tensor.Tensor
}

func (r *Report) Passed() bool {
	if !r.DecodeMatch {
		return false
	}
	for _, c := range r.Checks {
		if !c.Pass {
			return false
		}
	}
	return true
}

func (r *Report) Failures() []LayerCheck {
	var out []LayerCheck
	for _, c := range r.Checks {
		if !c.Pass {
			out = append(out, c)
		}
	}
	return out
}

// Err returns nil for a passing report and an error wrapping
// errs.ErrEquivalence otherwise.
func (r *Report) Err() error {
	if r.Passed() {
		return nil
	}
	var parts []string
	for _, f := range r.Failures() {
		parts = append(parts, fmt.Sprintf("layer %d %s (max diff %.3g, %d/%d elements)", f.Layer, f.Hook, f.MaxAbsDiff, f.Mismatched, f.Elements))
	}
	if !r.DecodeMatch {
		parts = append(parts, fmt.Sprintf("decoded %v, program %v", r.RuntimeDecoded, r.ProgramDecoded))
	}
	return fmt.Errorf("%w: %s: %s", errs.ErrEquivalence, r.Program, strings.Join(parts, "; "))
}

// Verifier compares with numpy isclose semantics:
// |a-b| <= ATol + RTol*|b|.
type Verifier struct {
	RTol float64
	ATol float64
}

func New() *Verifier {
	return &Verifier{RTol: tensor.DefaultRTol, ATol: tensor.DefaultATol}
}

var comparedHooks = []string{runtime.HookAttnOut, runtime.HookMLPOut}

// Verify runs p and m on the same input and compares every layer's attention
// and MLP output. A mismatch is reported, not returned as an error; callers
// decide whether to act on Report.Err.
func (v *Verifier) Verify(p *program.Program, m *runtime.Model, input []string) (*Report, error) {
	log := logger.Log.With("verify")

	want, err := p.Apply(input)
	if err != nil {
		return nil, fmt.Errorf("verify: program: %w", err)
	}
	ids, err := p.Input.Encode(input)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	logits, cache, err := m.RunWithCache([][]int{ids})
	if err != nil {
		return nil, fmt.Errorf("verify: runtime: %w", err)
	}
	nLayers := m.Config().NLayers
	if len(want.LayerOutputs) != 2*nLayers {
		return nil, fmt.Errorf("verify: program produced %d layer outputs, runtime has %d layers", len(want.LayerOutputs), nLayers)
	}

	rep := &Report{Program: p.Name, Input: append([]string(nil), input...), ProgramDecoded: want.Decoded}
	for l := 0; l < nLayers; l++ {
		for i, hook := range comparedHooks {
			got, err := cache.Lookup(hook, l)
			if err != nil {
				return nil, fmt.Errorf("verify: %w", err)
			}
			got, err = got.Select(0, 0)
			if err != nil {
				return nil, fmt.Errorf("verify: %w", err)
			}
			c := tensor.AllClose(got, want.LayerOutputs[2*l+i], v.RTol, v.ATol)
			check := LayerCheck{
				Layer:      l,
				Hook:       hook,
				Pass:       c.Close,
				MaxAbsDiff: c.MaxAbsDiff,
				Mismatched: c.Mismatched,
				Elements:   c.Elements,
			}
			rep.Checks = append(rep.Checks, check)
			metrics.RecordVerificationCheck(hook, check.Pass, check.MaxAbsDiff)
			log.Debug("layer check", "layer", l, "hook", hook, "pass", check.Pass, "max_abs_diff", check.MaxAbsDiff)
		}
	}

	if resid, err := cache.Lookup(runtime.HookResidPost, -1); err == nil {
		if rep.Residual, err = resid.Select(0, 0); err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
	}

	if p.Output != nil {
		decoded, err := p.Output.Decode(tensor.ArgMaxLastAxis(logits))
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		decoded[0] = p.Input.BOS()
		rep.RuntimeDecoded = decoded
		rep.DecodeMatch = slices.Equal(decoded, want.Decoded)
	} else {
		rep.DecodeMatch = true
		for i, x := range want.Numeric {
			c := tensor.AllClose(scalar(logits.At(0, i, 0)), scalar(x), v.RTol, v.ATol)
			if !c.Close {
				rep.DecodeMatch = false
			}
		}
	}

	passed := rep.Passed()
	metrics.RecordVerification(p.Name, passed)
	if passed {
		log.Info("equivalence verified", "program", p.Name, "checks", len(rep.Checks))
	} else {
		log.Warn("equivalence check failed", "program", p.Name, "failures", len(rep.Failures()), "decode_match", rep.DecodeMatch)
	}
	return rep, nil
}

func scalar(x float64) *tensor.Tensor {
	t := tensor.New(1)
	t.Set(x, 0)
	return t
}
