package program

import (
	"fmt"
	"sort"
)

// Encoder maps raw symbols to integer ids and back. Input encoders append
// the BOS and PAD symbols after the sorted vocabulary, so a vocabulary of n
// symbols yields ids 0..n-1, BOS = n and PAD = n+1.
type Encoder struct {
	symbols []string
	index   map[string]int
	bos     string
	pad     string
}

func newEncoder(symbols []string, bos, pad string) *Encoder {
	e := &Encoder{symbols: symbols, index: make(map[string]int, len(symbols)), bos: bos, pad: pad}
	for i, s := range symbols {
		e.index[s] = i
	}
	return e
}

func sortedUnique(vocab []string) []string {
	seen := make(map[string]bool, len(vocab))
	out := make([]string, 0, len(vocab))
	for _, v := range vocab {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func NewInputEncoder(vocab []string, bos, pad string) *Encoder {
	symbols := append(sortedUnique(vocab), bos, pad)
	return newEncoder(symbols, bos, pad)
}

func NewOutputEncoder(vocab []string) *Encoder {
	return newEncoder(sortedUnique(vocab), "", "")
}

func (e *Encoder) Size() int { return len(e.symbols) }

func (e *Encoder) BOS() string { return e.bos }

// BOSToken returns the id of the BOS symbol, or -1 for output encoders.
func (e *Encoder) BOSToken() int {
	if e.bos == "" {
		return -1
	}
	return e.index[e.bos]
}

// PADToken returns the id of the PAD symbol, or -1 for output encoders.
func (e *Encoder) PADToken() int {
	if e.pad == "" {
		return -1
	}
	return e.index[e.pad]
}

func (e *Encoder) Encode(symbols []string) ([]int, error) {
	ids := make([]int, len(symbols))
	for i, s := range symbols {
		id, ok := e.index[s]
		if !ok {
			return nil, fmt.Errorf("symbol %q at position %d is not in the vocabulary", s, i)
		}
		ids[i] = id
	}
	return ids, nil
}

func (e *Encoder) Decode(ids []int) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(e.symbols) {
			return nil, fmt.Errorf("token %d at position %d is out of vocab range [0, %d)", id, i, len(e.symbols))
		}
		out[i] = e.symbols[id]
	}
	return out, nil
}
