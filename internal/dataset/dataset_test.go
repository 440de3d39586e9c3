package dataset

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-circuit/internal/errs"
)

func key(row []int) string { return fmt.Sprint(row) }

func TestPermutationsOrder(t *testing.T) {
	got := Permutations([]int{0, 1, 2})
	want := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Permutations mismatch (-want +got):\n%s", diff)
	}
}

func TestReversalPairs(t *testing.T) {
	split, err := Reversal([]int{0, 1, 2}, 3, 30)
	require.NoError(t, err)
	b := split.Validation
	require.Equal(t, 30, b.Len())
	require.Len(t, b.Patch, 30)
	assert.Same(t, split.Validation, split.Test)

	pairs := make(map[string]bool)
	for i := range b.Data {
		assert.Equal(t, 3, b.Data[i][0], "row %d must start with BOS", i)
		assert.Equal(t, 3, b.Patch[i][0])
		assert.Len(t, b.Data[i], 4)
		assert.NotEqual(t, b.Data[i], b.Patch[i], "row %d pairs a permutation with itself", i)
		k := key(b.Data[i]) + "|" + key(b.Patch[i])
		assert.False(t, pairs[k], "duplicate pair %s", k)
		pairs[k] = true
	}
	assert.Len(t, pairs, 30)

	// First pair follows itertools order: (0,1,2) with (0,2,1).
	assert.Equal(t, []int{3, 0, 1, 2}, b.Data[0])
	assert.Equal(t, []int{3, 0, 2, 1}, b.Patch[0])
}

func TestReversalRejectsCounts(t *testing.T) {
	for _, n := range []int{0, 1, 29, 31, 60} {
		_, err := Reversal([]int{0, 1, 2}, 3, n)
		assert.ErrorIs(t, err, errs.ErrConfiguration, "n=%d", n)
	}
	_, err := Reversal([]int{0, 1, 2}, 2, 30)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	_, err = Reversal([]int{0, 0, 2}, 3, 30)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestProportionDisjointAndUnique(t *testing.T) {
	for _, n := range []int{1, 10, 50, 127, 128} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			split, err := Proportion("wxyz", 4, n, rand.New(rand.NewSource(int64(n))), ProportionOptions{})
			require.NoError(t, err)
			require.Equal(t, n, split.Validation.Len())
			require.Equal(t, n, split.Test.Len())

			val := make(map[string]bool)
			for _, row := range split.Validation.Data {
				require.Len(t, row, 4)
				for _, c := range row {
					require.True(t, c >= 0 && c < 4)
				}
				assert.False(t, val[key(row)], "duplicate validation row %v", row)
				val[key(row)] = true
			}
			test := make(map[string]bool)
			for _, row := range split.Test.Data {
				assert.False(t, val[key(row)], "row %v in both splits", row)
				assert.False(t, test[key(row)], "duplicate test row %v", row)
				test[key(row)] = true
			}

			// Patch rows come from the same split.
			for _, row := range split.Validation.Patch {
				assert.True(t, val[key(row)])
			}
			for _, row := range split.Test.Patch {
				assert.True(t, test[key(row)])
			}
		})
	}
}

func TestProportionSeeded(t *testing.T) {
	a, err := Proportion("wxyz", 4, 20, rand.New(rand.NewSource(7)), ProportionOptions{})
	require.NoError(t, err)
	b, err := Proportion("wxyz", 4, 20, rand.New(rand.NewSource(7)), ProportionOptions{})
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different splits:\n%s", diff)
	}
}

func TestProportionRejectsCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, -1, 129} {
		_, err := Proportion("wxyz", 4, n, rng, ProportionOptions{})
		assert.ErrorIs(t, err, errs.ErrConfiguration, "n=%d", n)
	}
	_, err := Proportion("wyz", 4, 2, rng, ProportionOptions{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestProportionDerangedPatches(t *testing.T) {
	split, err := Proportion("wxyz", 4, 16, rand.New(rand.NewSource(3)), ProportionOptions{DerangePatches: true})
	require.NoError(t, err)
	for _, b := range []*Batch{split.Validation, split.Test} {
		for i := range b.Data {
			assert.NotEqual(t, b.Data[i], b.Patch[i])
		}
	}
}

func TestCodes(t *testing.T) {
	got, err := Codes("wxyz", "zxwy")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 0, 2}, got)
	_, err = Codes("wxyz", "wq")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestUniverse(t *testing.T) {
	u := Universe("wxyz", 4)
	require.Len(t, u, 256)
	assert.Equal(t, "wwww", u[0])
	assert.Equal(t, "wwwx", u[1])
	assert.Equal(t, "zzzz", u[255])
}

func TestDerangement(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		perm := Derangement(5, rng)
		for j, v := range perm {
			assert.NotEqual(t, j, v)
		}
	}
}
