// Package dataset builds the validation, test and patch batches for the
// supported tasks.
package dataset

import (
	"math/rand"

	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/logger"
	"github.com/23skdu/longbow-circuit/internal/metrics"
)

// Batch is a set of equal-length token rows with a parallel batch of
// counterfactual rows of the same shape.
type Batch struct {
	Data  [][]int
	Patch [][]int
}

func (b *Batch) Len() int { return len(b.Data) }

func (b *Batch) SeqLen() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Split holds the validation and test batches. They may be the same batch.
type Split struct {
	Validation *Batch
	Test       *Batch
}

// Permutations returns every ordering of values, in lexicographic order of
// positions.
func Permutations(values []int) [][]int {
	var out [][]int
	used := make([]bool, len(values))
	cur := make([]int, 0, len(values))
	var walk func()
	walk = func() {
		if len(cur) == len(values) {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i, v := range values {
			if used[i] {
				continue
			}
			used[i] = true
			cur = append(cur, v)
			walk()
			cur = cur[:len(cur)-1]
			used[i] = false
		}
	}
	walk()
	return out
}

// ReversalSize is the number of ordered pairs of distinct permutations of k
// values.
func ReversalSize(k int) int {
	f := 1
	for i := 2; i <= k; i++ {
		f *= i
	}
	return f * (f - 1)
}

// Reversal pairs every permutation of values with every other permutation as
// (main, patch), each row prefixed with bos. n must equal the number of pairs
// (30 for three values). The same batch serves validation and test.
func Reversal(values []int, bos, n int) (*Split, error) {
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		if v == bos {
			return nil, errs.Configf("values", "bos token %d collides with a value", bos)
		}
		if seen[v] {
			return nil, errs.Configf("values", "duplicate value %d", v)
		}
		seen[v] = true
	}
	if len(values) < 2 {
		return nil, errs.Configf("values", "need at least 2 distinct values, got %d", len(values))
	}
	if want := ReversalSize(len(values)); n != want {
		return nil, errs.Configf("num_examples", "reverse task needs exactly %d examples, got %d", want, n)
	}

	perms := Permutations(values)
	b := &Batch{Data: make([][]int, 0, n), Patch: make([][]int, 0, n)}
	for i, main := range perms {
		for j, patch := range perms {
			if i == j {
				continue
			}
			b.Data = append(b.Data, append([]int{bos}, main...))
			b.Patch = append(b.Patch, append([]int{bos}, patch...))
		}
	}

	metrics.RecordDataset("reverse", "validation", b.Len())
	logger.Log.With("dataset").Debug("reverse batch built", "examples", b.Len(), "seq_len", b.SeqLen())
	return &Split{Validation: b, Test: b}, nil
}

// Codes maps each symbol of s to its offset from the first alphabet symbol.
func Codes(alphabet, s string) ([]int, error) {
	if alphabet == "" {
		return nil, errs.Configf("alphabet", "empty alphabet")
	}
	base := rune(alphabet[0])
	out := make([]int, 0, len(s))
	for _, c := range s {
		code := int(c - base)
		if code < 0 || code >= len(alphabet) || rune(alphabet[code]) != c {
			return nil, errs.Configf("alphabet", "symbol %q is not in %q", c, alphabet)
		}
		out = append(out, code)
	}
	return out, nil
}

// Universe enumerates every length-seqLen string over alphabet in
// lexicographic order.
func Universe(alphabet string, seqLen int) []string {
	total := 1
	for i := 0; i < seqLen; i++ {
		total *= len(alphabet)
	}
	out := make([]string, total)
	buf := make([]byte, seqLen)
	for i := 0; i < total; i++ {
		x := i
		for p := seqLen - 1; p >= 0; p-- {
			buf[p] = alphabet[x%len(alphabet)]
			x /= len(alphabet)
		}
		out[i] = string(buf)
	}
	return out
}

// ProportionOptions tunes patch selection.
type ProportionOptions struct {
	// DerangePatches forbids a row from being its own patch.
	DerangePatches bool
}

// Proportion draws 2n distinct rows from the full alphabet^seqLen universe:
// the first n form the validation batch and the rest the test batch. Each
// batch's patch rows are a random permutation of that batch's own rows.
func Proportion(alphabet string, seqLen, n int, rng *rand.Rand, opts ProportionOptions) (*Split, error) {
	if seqLen <= 0 {
		return nil, errs.Configf("seq_len", "must be positive, got %d", seqLen)
	}
	if _, err := Codes(alphabet, alphabet); err != nil {
		return nil, errs.Configf("alphabet", "%q must be contiguous and ascending", alphabet)
	}
	universe := Universe(alphabet, seqLen)
	if n < 1 || 2*n > len(universe) {
		return nil, errs.Configf("num_examples", "proportion task needs 1 <= n <= %d, got %d", len(universe)/2, n)
	}
	if opts.DerangePatches && n < 2 {
		return nil, errs.Configf("num_examples", "deranged patches need at least 2 examples per split")
	}

	order := rng.Perm(len(universe))
	rows := make([][]int, 2*n)
	for i := range rows {
		codes, err := Codes(alphabet, universe[order[i]])
		if err != nil {
			return nil, err
		}
		rows[i] = codes
	}

	half := func(rows [][]int) *Batch {
		var perm []int
		if opts.DerangePatches {
			perm = Derangement(len(rows), rng)
		} else {
			perm = rng.Perm(len(rows))
		}
		b := &Batch{Data: rows, Patch: make([][]int, len(rows))}
		for i, j := range perm {
			b.Patch[i] = append([]int(nil), rows[j]...)
		}
		return b
	}
	split := &Split{Validation: half(rows[:n]), Test: half(rows[n:])}

	metrics.RecordDataset("proportion", "validation", n)
	metrics.RecordDataset("proportion", "test", n)
	logger.Log.With("dataset").Debug("proportion batches built", "examples", n, "universe", len(universe))
	return split, nil
}

// Derangement returns a random permutation of 0..n-1 with no fixed points.
// n must be at least 2.
func Derangement(n int, rng *rand.Rand) []int {
	for {
		perm := rng.Perm(n)
		fixed := false
		for i, v := range perm {
			if i == v {
				fixed = true
				break
			}
		}
		if !fixed {
			return perm
		}
	}
}
