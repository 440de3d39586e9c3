package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

var (
	ErrAlreadyLoaded = errors.New("runtime: weights already loaded")
	ErrNotLoaded     = errors.New("runtime: weights not loaded")
)

// Model is a transformer instance. Weights are written once by LoadWeights
// and read-only afterwards.
type Model struct {
	cfg    Config
	shapes map[string][]int
	params map[string]*tensor.Tensor
	loaded bool
}

// New allocates a model with zero weights and unit layer-norm scales.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	shapes := ParamShapes(cfg)
	m := &Model{cfg: cfg, shapes: shapes, params: make(map[string]*tensor.Tensor, len(shapes))}
	for name, shape := range shapes {
		t := tensor.New(shape...)
		if isLayerNormScale(name) {
			for i := range t.Data() {
				t.Data()[i] = 1
			}
		}
		m.params[name] = t
	}
	return m, nil
}

func isLayerNormScale(name string) bool {
	return name == ParamLNFinalW || strings.HasSuffix(name, ".ln1.w") || strings.HasSuffix(name, ".ln2.w")
}

func (m *Model) Config() Config { return m.cfg }

func (m *Model) Loaded() bool { return m.loaded }

// Param returns a copy of a named parameter.
func (m *Model) Param(name string) (*tensor.Tensor, bool) {
	t, ok := m.params[name]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// ParamNames returns every parameter name in sorted order.
func (m *Model) ParamNames() []string {
	names := make([]string, 0, len(m.shapes))
	for k := range m.shapes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// LoadWeights installs ws. A shape mismatch is always an error; unknown or
// absent names are errors only when strict. Nothing is written unless the
// whole set is accepted.
func (m *Model) LoadWeights(ws WeightSet, strict bool) (LoadResult, error) {
	if m.loaded {
		return LoadResult{}, ErrAlreadyLoaded
	}
	var res LoadResult
	for _, name := range ws.Names() {
		t := ws[name]
		want, ok := m.shapes[name]
		if !ok {
			res.Unexpected = append(res.Unexpected, name)
			continue
		}
		if t == nil || !tensor.ShapeEqual(want, t.Shape()) {
			var got []int
			if t != nil {
				got = t.Shape()
			}
			return LoadResult{}, &errs.ShapeMismatchError{Param: name, Want: want, Got: got}
		}
		res.Loaded = append(res.Loaded, name)
	}
	for _, name := range m.ParamNames() {
		if _, ok := ws[name]; !ok {
			res.Missing = append(res.Missing, name)
		}
	}
	if strict && (len(res.Missing) > 0 || len(res.Unexpected) > 0) {
		return res, fmt.Errorf("runtime: strict load: missing %v, unexpected %v", res.Missing, res.Unexpected)
	}
	for _, name := range res.Loaded {
		m.params[name] = ws[name].Clone()
	}
	m.loaded = true
	return res, nil
}
