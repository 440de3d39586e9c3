package lib

import (
	"fmt"
	"strconv"

	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// Reverse builds the sequence-reversal program over the given vocabulary for
// inputs of up to maxSeqLen tokens after BOS.
//
// Layer 0 averages the BOS marker to get 1/(n+1) and discretizes it into a
// one-hot length. Layers 1 and 2 turn (length, position) into the opposite
// index. Layer 3 attends from each opposite index to the matching position
// and copies its token.
func Reverse(vocab []string, maxSeqLen int) (*program.Program, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("reverse: empty vocabulary")
	}
	if maxSeqLen <= 0 {
		return nil, fmt.Errorf("reverse: max sequence length %d must be positive", maxSeqLen)
	}
	input := program.NewInputEncoder(vocab, "BOS", "PAD")
	output := program.NewOutputEncoder(vocab)
	nv := output.Size()
	nCtx := maxSeqLen + 1

	var r residual
	out := r.add(nv)
	tok := r.add(nv)
	bos := r.add(1)
	one := r.add(1)
	pos := r.add(nCtx)
	avg := r.add(1)
	length := r.add(maxSeqLen + 1)
	target := r.add(maxSeqLen) // target.at(t-1) is t for t in 1..maxSeqLen
	opp := r.add(maxSeqLen)
	d := r.width

	keySize := maxSeqLen + 1
	lengthNeurons := 2 * maxSeqLen
	pairNeurons := maxSeqLen * (maxSeqLen + 1) / 2
	mlpHidden := max(lengthNeurons, pairNeurons, maxSeqLen)

	params := &program.Params{
		TokenEmbed: tensor.New(input.Size(), d),
		PosEmbed:   tensor.New(nCtx, d),
		Layers:     emptyLayers(4, d, 1, keySize, mlpHidden),
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

	// Layer 0 attention: uniform over the sequence, reading the BOS marker.
	l0 := &params.Layers[0]
	l0.Attn.Value.W.Set(1, bos.at(0), 0)
	l0.Attn.Output.W.Set(1, 0, avg.at(0))

	// Layer 0 MLP: step_j fires when avg > midpoint(1/(j+1), 1/(j+2)), which
	// holds exactly when the length is at most j.
	for j := 0; j < maxSeqLen; j++ {
		mid := (1/float64(j+1) + 1/float64(j+2)) / 2
		a, b := 2*j, 2*j+1
		l0.MLP.Hidden.W.Set(stepSlope, avg.at(0), a)
		l0.MLP.Hidden.B.Set(1-stepSlope*mid, a)
		l0.MLP.Hidden.W.Set(stepSlope, avg.at(0), b)
		l0.MLP.Hidden.B.Set(-stepSlope*mid, b)
		// length_j gains step_j, length_{j+1} loses it.
		l0.MLP.Output.W.Add(1, a, length.at(j))
		l0.MLP.Output.W.Add(-1, b, length.at(j))
		l0.MLP.Output.W.Add(-1, a, length.at(j+1))
		l0.MLP.Output.W.Add(1, b, length.at(j+1))
	}
	l0.MLP.Output.B.Set(1, length.at(maxSeqLen))

	// Layer 1 MLP: one neuron per (length, position) pair with p <= length.
	l1 := &params.Layers[1]
	n := 0
	for ln := 1; ln <= maxSeqLen; ln++ {
		for p := 1; p <= ln; p++ {
			l1.MLP.Hidden.W.Set(1, length.at(ln), n)
			l1.MLP.Hidden.W.Set(1, pos.at(p), n)
			l1.MLP.Hidden.B.Set(-1, n)
			l1.MLP.Output.W.Set(1, n, target.at(ln-p))
			n++
		}
	}

	// Layer 2 MLP: target position t maps to attention slot t-1.
	l2 := &params.Layers[2]
	for t := 1; t <= maxSeqLen; t++ {
		l2.MLP.Hidden.W.Set(1, target.at(t-1), t-1)
		l2.MLP.Output.W.Set(1, t-1, opp.at(t-1))
	}

	// Layer 3 attention: query slot o selects key position o+1, falling back
	// to BOS when no slot is set.
	l3 := &params.Layers[3]
	for o := 0; o < maxSeqLen; o++ {
		l3.Attn.Query.W.Set(attnGain, opp.at(o), o)
		l3.Attn.Key.W.Set(1, pos.at(o+1), o)
	}
	l3.Attn.Query.W.Set(attnGain/2, one.at(0), maxSeqLen)
	l3.Attn.Key.W.Set(1, bos.at(0), maxSeqLen)
	for i := 0; i < nv; i++ {
		l3.Attn.Value.W.Set(1, tok.at(i), i)
		l3.Attn.Output.W.Set(1, i, out.at(i))
	}

	return &program.Program{
		Name:   "reverse",
		Params: params,
		Metadata: program.Metadata{
			NumHeads:      1,
			NumLayers:     4,
			KeySize:       keySize,
			MLPHiddenSize: mlpHidden,
			MaxSeqLen:     maxSeqLen,
		},
		Input:  input,
		Output: output,
	}, nil
}

// ReverseDigits is the reversal program over {1,2,3} for up to five tokens.
func ReverseDigits() (*program.Program, error) {
	vocab := make([]string, 3)
	for i := range vocab {
		vocab[i] = strconv.Itoa(i + 1)
	}
	return Reverse(vocab, defaultMaxSeqLen)
}
