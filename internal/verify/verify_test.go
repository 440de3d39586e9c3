package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/program/lib"
	"github.com/23skdu/longbow-circuit/internal/runtime"
	"github.com/23skdu/longbow-circuit/internal/transplant"
)

func TestVerifyReversePasses(t *testing.T) {
	p, err := lib.ReverseDigits()
	require.NoError(t, err)
	m, _, err := transplant.Transplant(p)
	require.NoError(t, err)

	rep, err := New().Verify(p, m, []string{"BOS", "1", "2", "3"})
	require.NoError(t, err)

	assert.True(t, rep.Passed(), "failures: %+v", rep.Failures())
	assert.NoError(t, rep.Err())
	assert.Len(t, rep.Checks, 2*p.Metadata.NumLayers)
	assert.Equal(t, []string{"BOS", "3", "2", "1"}, rep.RuntimeDecoded)
	assert.Equal(t, rep.ProgramDecoded, rep.RuntimeDecoded)
	require.NotNil(t, rep.Residual)
	assert.Equal(t, []int{4, p.Params.DModel()}, rep.Residual.Shape())

	assert.Equal(t, 0, rep.Checks[0].Layer)
	assert.Equal(t, runtime.HookAttnOut, rep.Checks[0].Hook)
	assert.Equal(t, runtime.HookMLPOut, rep.Checks[1].Hook)
}

func TestVerifyFracPrevsPasses(t *testing.T) {
	p, err := lib.FracPrevsX()
	require.NoError(t, err)
	m, _, err := transplant.Transplant(p)
	require.NoError(t, err)

	rep, err := New().Verify(p, m, []string{"BOS", "x", "w", "w", "x"})
	require.NoError(t, err)
	assert.True(t, rep.Passed(), "failures: %+v", rep.Failures())
	assert.Nil(t, rep.RuntimeDecoded)
}

// tamperedModel transplants p by hand and perturbs one MLP bias before
// loading.
func tamperedModel(t *testing.T, p *program.Program, layer int) *runtime.Model {
	t.Helper()
	cfg, err := transplant.DeriveConfig(p)
	require.NoError(t, err)
	ws, _, err := transplant.BuildWeightSet(p, cfg)
	require.NoError(t, err)
	ws[runtime.BlockParam(layer, "mlp.b_out")].Add(0.25, 0)
	m, err := runtime.New(cfg)
	require.NoError(t, err)
	_, err = m.LoadWeights(ws, false)
	require.NoError(t, err)
	return m
}

func TestVerifyDetectsTamperedLayer(t *testing.T) {
	p, err := lib.ReverseDigits()
	require.NoError(t, err)
	m := tamperedModel(t, p, 2)

	rep, err := New().Verify(p, m, []string{"BOS", "1", "2", "3"})
	require.NoError(t, err)

	require.False(t, rep.Passed())
	failures := rep.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Layer)
	assert.Equal(t, runtime.HookMLPOut, failures[0].Hook)
	assert.InDelta(t, 0.25, failures[0].MaxAbsDiff, 1e-9)
	assert.Equal(t, 4, failures[0].Mismatched)
	assert.ErrorIs(t, rep.Err(), errs.ErrEquivalence)
}

func TestVerifyTolerance(t *testing.T) {
	p, err := lib.ReverseDigits()
	require.NoError(t, err)
	m := tamperedModel(t, p, 2)

	loose := &Verifier{RTol: 0, ATol: 0.5}
	rep, err := loose.Verify(p, m, []string{"BOS", "1", "2", "3"})
	require.NoError(t, err)
	for _, c := range rep.Checks {
		assert.True(t, c.Pass, "layer %d %s", c.Layer, c.Hook)
	}
}

func TestVerifyRejectsBadInput(t *testing.T) {
	p, err := lib.ReverseDigits()
	require.NoError(t, err)
	m, _, err := transplant.Transplant(p)
	require.NoError(t, err)
	_, err = New().Verify(p, m, []string{"BOS", "9"})
	assert.Error(t, err)
}
