package runtime

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

func smallConfig() Config {
	return Config{
		NLayers: 1, DModel: 3, DHead: 2, NHeads: 2, DMLP: 2, NCtx: 4,
		DVocab: 3, DVocabOut: 3,
		ActFn: ActReLU, AttentionDir: Bidirectional,
		UseAttnResult: true, UseSplitQKVInput: true, UseHookMLPIn: true,
	}
}

// identityWeights embeds token t as e_t and reads e_t back out, with all
// sub-layers zeroed.
func identityWeights(cfg Config) WeightSet {
	ws := WeightSet{}
	for name, shape := range ParamShapes(cfg) {
		ws[name] = tensor.New(shape...)
	}
	ws[ParamEmbed] = tensor.Eye(cfg.DVocab, cfg.DModel)
	ws[ParamUnembedW] = tensor.Eye(cfg.DModel, cfg.DVocabOut)
	return ws
}

func loadedModel(t *testing.T, cfg Config, ws WeightSet) *Model {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	_, err = m.LoadWeights(ws, true)
	require.NoError(t, err)
	return m
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, smallConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero layers", func(c *Config) { c.NLayers = 0 }},
		{"negative d_head", func(c *Config) { c.DHead = -1 }},
		{"bad activation", func(c *Config) { c.ActFn = "swish" }},
		{"bad normalization", func(c *Config) { c.Normalization = "RMS" }},
		{"bad direction", func(c *Config) { c.AttentionDir = "sideways" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := smallConfig()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParamShapes(t *testing.T) {
	cfg := smallConfig()
	shapes := ParamShapes(cfg)
	assert.Equal(t, []int{2, 3, 2}, shapes["blocks.0.attn.W_Q"])
	assert.Equal(t, []int{2, 2}, shapes["blocks.0.attn.b_V"])
	assert.Equal(t, []int{2, 2, 3}, shapes["blocks.0.attn.W_O"])
	assert.Equal(t, []int{3}, shapes["blocks.0.attn.b_O"])
	assert.Equal(t, []int{3, 3}, shapes[ParamUnembedW])
	_, hasLN := shapes[ParamLNFinalW]
	assert.False(t, hasLN)

	cfg.Normalization = NormLayerNorm
	shapes = ParamShapes(cfg)
	assert.Equal(t, []int{3}, shapes["blocks.0.ln2.w"])
}

func TestLoadWeightsWriteOnce(t *testing.T) {
	cfg := smallConfig()
	m := loadedModel(t, cfg, identityWeights(cfg))
	assert.True(t, m.Loaded())
	_, err := m.LoadWeights(identityWeights(cfg), true)
	assert.ErrorIs(t, err, ErrAlreadyLoaded)
}

func TestLoadWeightsShapeMismatch(t *testing.T) {
	cfg := smallConfig()
	ws := identityWeights(cfg)
	ws["blocks.0.attn.W_Q"] = tensor.New(3, 4)

	m, err := New(cfg)
	require.NoError(t, err)
	_, err = m.LoadWeights(ws, false)
	require.ErrorIs(t, err, errs.ErrShapeMismatch)

	var sm *errs.ShapeMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, "blocks.0.attn.W_Q", sm.Param)
	assert.Equal(t, []int{2, 3, 2}, sm.Want)
	assert.False(t, m.Loaded(), "a rejected set must not mark the model loaded")
}

func TestLoadWeightsLenient(t *testing.T) {
	cfg := smallConfig()
	ws := identityWeights(cfg)
	delete(ws, ParamUnembedB)
	ws["extra.thing"] = tensor.New(1)

	m, err := New(cfg)
	require.NoError(t, err)
	_, err = m.LoadWeights(ws, true)
	require.Error(t, err)
	assert.False(t, m.Loaded())

	res, err := m.LoadWeights(ws, false)
	require.NoError(t, err)
	assert.Equal(t, []string{ParamUnembedB}, res.Missing)
	assert.Equal(t, []string{"extra.thing"}, res.Unexpected)
	assert.Len(t, res.Loaded, len(ParamShapes(cfg))-1)
}

func TestLoadWeightsCopies(t *testing.T) {
	cfg := smallConfig()
	ws := identityWeights(cfg)
	m := loadedModel(t, cfg, ws)
	ws[ParamEmbed].Set(42, 0, 0)
	got, ok := m.Param(ParamEmbed)
	require.True(t, ok)
	assert.Equal(t, 1.0, got.At(0, 0))
}

func TestForwardRequiresLoad(t *testing.T) {
	m, err := New(smallConfig())
	require.NoError(t, err)
	_, err = m.Forward([][]int{{0}})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestForwardRejectsBadTokens(t *testing.T) {
	cfg := smallConfig()
	m := loadedModel(t, cfg, identityWeights(cfg))
	for _, batch := range [][][]int{
		nil,
		{{0, 1}, {0}},
		{{0, 3}},
		{{0, 0, 0, 0, 0}},
	} {
		_, err := m.Forward(batch)
		assert.Error(t, err, "batch %v", batch)
	}
}

func TestForwardIdentity(t *testing.T) {
	cfg := smallConfig()
	m := loadedModel(t, cfg, identityWeights(cfg))
	logits, err := m.Forward([][]int{{2, 0, 1}, {1, 1, 0}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 3}, logits.Shape())
	assert.Equal(t, []int{2, 0, 1, 1, 1, 0}, tensor.ArgMaxLastAxis(logits))
}

func TestRunWithCacheHooks(t *testing.T) {
	cfg := smallConfig()
	ws := identityWeights(cfg)
	// Head 1 copies residual dim 0 into the output's dim 2.
	ws["blocks.0.attn.W_V"].Set(1, 1, 0, 0)
	ws["blocks.0.attn.W_O"].Set(1, 1, 0, 2)
	m := loadedModel(t, cfg, ws)

	_, cache, err := m.RunWithCache([][]int{{0, 1}})
	require.NoError(t, err)

	result, err := cache.Lookup("result", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 3}, result.Shape())

	pattern, err := cache.Lookup("pattern", -1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 2}, pattern.Shape())
	assert.InDelta(t, 0.5, pattern.At(0, 0, 0, 1), 1e-12)

	attnOut, err := cache.Lookup("attn_out", 0)
	require.NoError(t, err)
	// Uniform attention over tokens 0 and 1: half of token 0 reaches dim 2.
	assert.InDelta(t, 0.5, attnOut.At(0, 0, 2), 1e-12)
	assert.InDelta(t, 0.5, result.At(0, 0, 1, 2), 1e-12)
	assert.InDelta(t, 0.0, result.At(0, 0, 0, 2), 1e-12)

	for _, name := range []string{"embed", "pos_embed", "resid_pre", "q_input", "q", "z", "mlp_in", "pre", "post", "mlp_out", "resid_post"} {
		_, err := cache.Lookup(name, 0)
		assert.NoError(t, err, name)
	}
	_, err = cache.Lookup("nonsense", 0)
	assert.Error(t, err)
	_, err = cache.Lookup("attn_out", 3)
	assert.Error(t, err)

	keys := cache.Keys()
	assert.Equal(t, cache.Len(), len(keys))
	assert.Equal(t, "blocks.0.attn.hook_attn_scores", keys[0].FullName())
}

func TestCausalPattern(t *testing.T) {
	cfg := smallConfig()
	cfg.AttentionDir = Causal
	m := loadedModel(t, cfg, identityWeights(cfg))
	_, cache, err := m.RunWithCache([][]int{{0, 1, 2}})
	require.NoError(t, err)
	pattern, err := cache.Lookup("pattern", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pattern.At(0, 0, 0, 0))
	assert.Equal(t, 0.0, pattern.At(0, 0, 0, 2))
	scores, err := cache.Lookup("attn_scores", 0)
	require.NoError(t, err)
	assert.True(t, math.IsInf(scores.At(0, 1, 0, 1), -1))
}

func TestLayerNormModel(t *testing.T) {
	cfg := smallConfig()
	cfg.Normalization = NormLayerNorm
	m, err := New(cfg)
	require.NoError(t, err)
	w, ok := m.Param("blocks.0.ln1.w")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1, 1}, w.Data())

	ws := identityWeights(cfg)
	ws[ParamLNFinalW] = tensor.New(3)
	for i := range ws[ParamLNFinalW].Data() {
		ws[ParamLNFinalW].Data()[i] = 1
	}
	_, err = m.LoadWeights(ws, true)
	require.NoError(t, err)
	logits, err := m.Forward([][]int{{0, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, tensor.ArgMaxLastAxis(logits))
}

func TestParseHookName(t *testing.T) {
	key, err := ParseHookName("blocks.1.attn.hook_result")
	require.NoError(t, err)
	assert.Equal(t, HookKey{Name: HookResult, Layer: 1}, key)
	assert.Equal(t, "blocks.1.attn.hook_result", key.FullName())

	key, err = ParseHookName("hook_embed")
	require.NoError(t, err)
	assert.Equal(t, GlobalLayer, key.Layer)

	for _, bad := range []string{"blocks.x.hook_attn_out", "blocks.0", "blocks.0.hook_nope", "unembed"} {
		_, err := ParseHookName(bad)
		assert.Error(t, err, bad)
	}
}
