package lib

import (
	"fmt"

	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// FracPrevs builds the program that outputs, at every position, the fraction
// of tokens so far (BOS excluded) equal to target. The result is numerical
// and lands in residual channel 0.
//
// Layer 0's MLP writes an indicator of target. Layer 1 attends uniformly over
// positions 1..p by giving every key at or before p the same score.
func FracPrevs(vocab []string, target string, maxSeqLen int) (*program.Program, error) {
	input := program.NewInputEncoder(vocab, "BOS", "PAD")
	targetID, err := input.Encode([]string{target})
	if err != nil {
		return nil, fmt.Errorf("frac_prevs: %w", err)
	}
	if maxSeqLen <= 0 {
		return nil, fmt.Errorf("frac_prevs: max sequence length %d must be positive", maxSeqLen)
	}
	nv := input.Size() - 2
	nCtx := maxSeqLen + 1

	var r residual
	out := r.add(nv)
	tok := r.add(nv)
	bos := r.add(1)
	one := r.add(1)
	pos := r.add(nCtx)
	isTarget := r.add(1)
	d := r.width

	keySize := nCtx
	params := &program.Params{
		TokenEmbed: tensor.New(input.Size(), d),
		PosEmbed:   tensor.New(nCtx, d),
		Layers:     emptyLayers(2, d, 1, keySize, 1),
		Auxiliary: map[string]*tensor.Tensor{
			"bos_direction": direction(d, bos.at(0)),
			"one_direction": direction(d, one.at(0)),
		},
	}
	for i := 0; i < nv; i++ {
		params.TokenEmbed.Set(1, i, tok.at(i))
		params.TokenEmbed.Set(1, i, one.at(0))
	}
	params.TokenEmbed.Set(1, input.BOSToken(), bos.at(0))
	params.TokenEmbed.Set(1, input.BOSToken(), one.at(0))
	for p := 0; p < nCtx; p++ {
		params.PosEmbed.Set(1, p, pos.at(p))
	}

	l0 := &params.Layers[0]
	l0.MLP.Hidden.W.Set(1, tok.at(targetID[0]), 0)
	l0.MLP.Output.W.Set(1, 0, isTarget.at(0))

	// Query at position p scores gain on every key slot 1..p. Key position q
	// lights slot q, BOS lights slot 0 at half gain so it wins only for p = 0.
	l1 := &params.Layers[1]
	for p := 1; p < nCtx; p++ {
		for j := 1; j <= p; j++ {
			l1.Attn.Query.W.Set(attnGain, pos.at(p), j)
		}
		l1.Attn.Key.W.Set(1, pos.at(p), p)
	}
	l1.Attn.Query.W.Set(attnGain/2, one.at(0), 0)
	l1.Attn.Key.W.Set(1, bos.at(0), 0)
	l1.Attn.Value.W.Set(1, isTarget.at(0), 0)
	l1.Attn.Output.W.Set(1, 0, out.at(0))

	return &program.Program{
		Name:   "frac_prevs",
		Params: params,
		Metadata: program.Metadata{
			NumHeads:      1,
			NumLayers:     2,
			KeySize:       keySize,
			MLPHiddenSize: 1,
			MaxSeqLen:     maxSeqLen,
		},
		Input: input,
	}, nil
}

// FracPrevsX is the proportion-of-"x" program over the alphabet wxyz.
func FracPrevsX() (*program.Program, error) {
	return FracPrevs([]string{"w", "x", "y", "z"}, "x", defaultMaxSeqLen)
}
