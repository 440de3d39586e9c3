package runtime

import (
	"fmt"
	"math"
	"time"

	"github.com/23skdu/longbow-circuit/internal/metrics"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// Forward returns logits of shape (batch, seq, d_vocab_out).
func (m *Model) Forward(tokens [][]int) (*tensor.Tensor, error) {
	return m.run(tokens, nil)
}

// RunWithCache returns logits together with every activation recorded at the
// hook points enabled in the config.
func (m *Model) RunWithCache(tokens [][]int) (*tensor.Tensor, *ActivationCache, error) {
	rec := &recorder{batch: len(tokens), cache: newActivationCache(m.cfg.NLayers)}
	logits, err := m.run(tokens, rec)
	if err != nil {
		return nil, nil, err
	}
	return logits, rec.cache, nil
}

func (m *Model) checkTokens(tokens [][]int) (int, error) {
	if !m.loaded {
		return 0, ErrNotLoaded
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("runtime: empty batch")
	}
	seq := len(tokens[0])
	if seq == 0 || seq > m.cfg.NCtx {
		return 0, fmt.Errorf("runtime: sequence length %d outside [1, %d]", seq, m.cfg.NCtx)
	}
	for b, row := range tokens {
		if len(row) != seq {
			return 0, fmt.Errorf("runtime: ragged batch: row %d has %d tokens, row 0 has %d", b, len(row), seq)
		}
		for i, id := range row {
			if id < 0 || id >= m.cfg.DVocab {
				return 0, fmt.Errorf("runtime: token %d at [%d,%d] outside vocab %d", id, b, i, m.cfg.DVocab)
			}
		}
	}
	return seq, nil
}

func (m *Model) run(tokens [][]int, rec *recorder) (*tensor.Tensor, error) {
	start := time.Now()
	seq, err := m.checkTokens(tokens)
	if err != nil {
		return nil, err
	}
	logits := tensor.New(len(tokens), seq, m.cfg.DVocabOut)
	n := seq * m.cfg.DVocabOut
	for b, row := range tokens {
		out := m.forwardSeq(row, b, rec)
		copy(logits.Data()[b*n:(b+1)*n], out)
	}
	metrics.RecordForward(len(tokens), rec != nil, time.Since(start))
	return logits, nil
}

func (m *Model) p(name string) []float64 { return m.params[name].Data() }

func (m *Model) bp(layer int, name string) []float64 { return m.params[BlockParam(layer, name)].Data() }

func (m *Model) normalize(x []float64, w, b string) []float64 {
	out := append([]float64(nil), x...)
	if m.cfg.Normalization == NormLayerNorm {
		tensor.LayerNorm(out, m.cfg.DModel, m.p(w), m.p(b), m.cfg.eps())
	}
	return out
}

func (m *Model) forwardSeq(ids []int, b int, rec *recorder) []float64 {
	cfg := m.cfg
	seq, d, h, dh := len(ids), cfg.DModel, cfg.NHeads, cfg.DHead
	global := func(name string) HookKey { return HookKey{Name: name, Layer: GlobalLayer} }

	embed := make([]float64, seq*d)
	pos := make([]float64, seq*d)
	we, wp := m.p(ParamEmbed), m.p(ParamPosEmbed)
	for i, id := range ids {
		copy(embed[i*d:(i+1)*d], we[id*d:(id+1)*d])
		copy(pos[i*d:(i+1)*d], wp[i*d:(i+1)*d])
	}
	rec.put(global(HookEmbed), b, embed, seq, d)
	rec.put(global(HookPosEmbed), b, pos, seq, d)

	resid := make([]float64, seq*d)
	for i := range resid {
		resid[i] = embed[i] + pos[i]
	}

	scale := 1 / math.Sqrt(float64(dh))
	for l := 0; l < cfg.NLayers; l++ {
		key := func(name string) HookKey { return HookKey{Name: name, Layer: l} }
		rec.put(key(HookResidPre), b, resid, seq, d)

		if cfg.UseSplitQKVInput {
			split := make([]float64, seq*h*d)
			for i := 0; i < seq; i++ {
				for hh := 0; hh < h; hh++ {
					copy(split[(i*h+hh)*d:], resid[i*d:(i+1)*d])
				}
			}
			rec.put(key(HookQInput), b, split, seq, h, d)
			rec.put(key(HookKInput), b, split, seq, h, d)
			rec.put(key(HookVInput), b, split, seq, h, d)
		}

		x := m.normalize(resid, BlockParam(l, "ln1.w"), BlockParam(l, "ln1.b"))
		wq, wk, wv, wo := m.bp(l, "attn.W_Q"), m.bp(l, "attn.W_K"), m.bp(l, "attn.W_V"), m.bp(l, "attn.W_O")
		bq, bk, bv := m.bp(l, "attn.b_Q"), m.bp(l, "attn.b_K"), m.bp(l, "attn.b_V")

		qAll := make([]float64, seq*h*dh)
		kAll := make([]float64, seq*h*dh)
		vAll := make([]float64, seq*h*dh)
		zAll := make([]float64, seq*h*dh)
		scoresAll := make([]float64, h*seq*seq)
		patternAll := make([]float64, h*seq*seq)
		resultAll := make([]float64, seq*h*d)
		attnOut := make([]float64, seq*d)

		q := make([]float64, seq*dh)
		k := make([]float64, seq*dh)
		v := make([]float64, seq*dh)
		z := make([]float64, seq*dh)
		res := make([]float64, seq*d)
		for hh := 0; hh < h; hh++ {
			tensor.MatMulInto(q, x, wq[hh*d*dh:(hh+1)*d*dh], seq, d, dh)
			tensor.MatMulInto(k, x, wk[hh*d*dh:(hh+1)*d*dh], seq, d, dh)
			tensor.MatMulInto(v, x, wv[hh*d*dh:(hh+1)*d*dh], seq, d, dh)
			tensor.AddBias(q, bq[hh*dh:(hh+1)*dh])
			tensor.AddBias(k, bk[hh*dh:(hh+1)*dh])
			tensor.AddBias(v, bv[hh*dh:(hh+1)*dh])

			for i := range z {
				z[i] = 0
			}
			for i := 0; i < seq; i++ {
				scores := scoresAll[(hh*seq+i)*seq : (hh*seq+i+1)*seq]
				for j := 0; j < seq; j++ {
					if cfg.AttentionDir == Causal && j > i {
						scores[j] = math.Inf(-1)
						continue
					}
					dot := 0.0
					for c := 0; c < dh; c++ {
						dot += q[i*dh+c] * k[j*dh+c]
					}
					scores[j] = dot * scale
				}
				pattern := patternAll[(hh*seq+i)*seq : (hh*seq+i+1)*seq]
				copy(pattern, scores)
				tensor.Softmax(pattern)
				for j, w := range pattern {
					if w == 0 {
						continue
					}
					for c := 0; c < dh; c++ {
						z[i*dh+c] += w * v[j*dh+c]
					}
				}
			}

			tensor.MatMulInto(res, z, wo[hh*dh*d:(hh+1)*dh*d], seq, dh, d)
			for i := 0; i < seq; i++ {
				copy(qAll[(i*h+hh)*dh:], q[i*dh:(i+1)*dh])
				copy(kAll[(i*h+hh)*dh:], k[i*dh:(i+1)*dh])
				copy(vAll[(i*h+hh)*dh:], v[i*dh:(i+1)*dh])
				copy(zAll[(i*h+hh)*dh:], z[i*dh:(i+1)*dh])
				copy(resultAll[(i*h+hh)*d:], res[i*d:(i+1)*d])
				for c := 0; c < d; c++ {
					attnOut[i*d+c] += res[i*d+c]
				}
			}
		}
		tensor.AddBias(attnOut, m.bp(l, "attn.b_O"))

		rec.put(key(HookQ), b, qAll, seq, h, dh)
		rec.put(key(HookK), b, kAll, seq, h, dh)
		rec.put(key(HookV), b, vAll, seq, h, dh)
		rec.put(key(HookAttnScores), b, scoresAll, h, seq, seq)
		rec.put(key(HookPattern), b, patternAll, h, seq, seq)
		rec.put(key(HookZ), b, zAll, seq, h, dh)
		if cfg.UseAttnResult {
			rec.put(key(HookResult), b, resultAll, seq, h, d)
		}
		rec.put(key(HookAttnOut), b, attnOut, seq, d)

		for i := range resid {
			resid[i] += attnOut[i]
		}
		rec.put(key(HookResidMid), b, resid, seq, d)
		if cfg.UseHookMLPIn {
			rec.put(key(HookMLPIn), b, resid, seq, d)
		}

		x = m.normalize(resid, BlockParam(l, "ln2.w"), BlockParam(l, "ln2.b"))
		pre := make([]float64, seq*cfg.DMLP)
		tensor.MatMulInto(pre, x, m.bp(l, "mlp.W_in"), seq, d, cfg.DMLP)
		tensor.AddBias(pre, m.bp(l, "mlp.b_in"))
		rec.put(key(HookMLPPre), b, pre, seq, cfg.DMLP)

		post := append([]float64(nil), pre...)
		switch cfg.ActFn {
		case ActGELU:
			tensor.GELU(post)
		default:
			tensor.ReLU(post)
		}
		rec.put(key(HookMLPPost), b, post, seq, cfg.DMLP)

		mlpOut := make([]float64, seq*d)
		tensor.MatMulInto(mlpOut, post, m.bp(l, "mlp.W_out"), seq, cfg.DMLP, d)
		tensor.AddBias(mlpOut, m.bp(l, "mlp.b_out"))
		rec.put(key(HookMLPOut), b, mlpOut, seq, d)

		for i := range resid {
			resid[i] += mlpOut[i]
		}
		rec.put(key(HookResidPost), b, resid, seq, d)
	}

	final := m.normalize(resid, ParamLNFinalW, ParamLNFinalB)
	logits := make([]float64, seq*cfg.DVocabOut)
	tensor.MatMulInto(logits, final, m.p(ParamUnembedW), seq, d, cfg.DVocabOut)
	tensor.AddBias(logits, m.p(ParamUnembedB))
	return logits
}
