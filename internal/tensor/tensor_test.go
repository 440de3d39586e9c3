package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func randomTensor(r *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = r.NormFloat64()
	}
	return t
}

func TestSplitMergeHeadsRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	tests := []struct {
		dModel, heads, headDim int
	}{
		{31, 1, 6},
		{17, 2, 3},
		{8, 4, 2},
		{5, 3, 7},
	}

	for _, tt := range tests {
		w := randomTensor(r, tt.dModel, tt.heads*tt.headDim)
		split, err := SplitHeads(w, tt.heads, tt.headDim)
		if err != nil {
			t.Fatalf("SplitHeads(%v): %v", w.shape, err)
		}
		if got := split.Shape(); !ShapeEqual(got, []int{tt.heads, tt.dModel, tt.headDim}) {
			t.Fatalf("split shape = %v", got)
		}
		merged, err := MergeHeads(split)
		if err != nil {
			t.Fatalf("MergeHeads: %v", err)
		}
		if !merged.Equal(w) {
			t.Errorf("round trip for %+v is not bit-for-bit", tt)
		}
	}
}

func TestSplitHeadsLayout(t *testing.T) {
	// d_model=2, heads=2, d_head=2: column h*2+d of row m lands at [h][m][d].
	w, _ := FromData([]float64{
		0, 1, 2, 3,
		4, 5, 6, 7,
	}, 2, 4)
	split, err := SplitHeads(w, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 1, 4, 5, 2, 3, 6, 7}
	for i, v := range want {
		if split.data[i] != v {
			t.Fatalf("split data = %v, want %v", split.data, want)
		}
	}
	if split.At(1, 0, 1) != 3 {
		t.Errorf("At(1,0,1) = %v, want 3", split.At(1, 0, 1))
	}
}

func TestSplitHeadsRejectsNonVolumePreserving(t *testing.T) {
	w := New(4, 6)
	if _, err := SplitHeads(w, 4, 2); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
	if _, err := SplitHeadBias(New(6), 4, 2); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for bias, got %v", err)
	}
	if _, err := SplitOutputHeads(New(6, 4), 4, 2); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for output weight, got %v", err)
	}
}

func TestSplitOutputHeadsKeepsMemoryOrder(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	w := randomTensor(r, 6, 5)
	split, err := SplitOutputHeads(w, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if split.At(1, 2, 4) != w.At(5, 4) {
		t.Errorf("output head split moved data")
	}
	split.data[0] = 99
	if w.data[0] == 99 {
		t.Error("split must not alias its source")
	}
}

func TestNarrowAndSelect(t *testing.T) {
	x, _ := FromData([]float64{
		0, 1, 2, 3, 4, 5,
		6, 7, 8, 9, 10, 11,
	}, 2, 3, 2)

	n, err := x.Narrow(1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 3, 4, 5, 8, 9, 10, 11}
	for i, v := range want {
		if n.data[i] != v {
			t.Fatalf("narrow = %v, want %v", n.data, want)
		}
	}

	s, err := x.Select(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ShapeEqual(s.Shape(), []int{2, 3}) {
		t.Fatalf("select shape = %v", s.Shape())
	}
	if s.At(1, 2) != 10 {
		t.Errorf("select At(1,2) = %v, want 10", s.At(1, 2))
	}

	if _, err := x.Narrow(1, 2, 2); !errors.Is(err, ErrShape) {
		t.Errorf("expected out-of-range narrow to fail, got %v", err)
	}
}

func TestEye(t *testing.T) {
	e := Eye(5, 3)
	for i := 0; i < 5; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if e.At(i, j) != want {
				t.Errorf("Eye(5,3)[%d][%d] = %v", i, j, e.At(i, j))
			}
		}
	}
}

func TestMatMul(t *testing.T) {
	a, _ := FromRows([][]float64{{1, 2}, {3, 4}, {5, 6}})
	b, _ := FromRows([][]float64{{1, 0, 2}, {0, 1, 3}})
	c, err := MatMul(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{{1, 2, 8}, {3, 4, 18}, {5, 6, 28}}
	for i, row := range want {
		for j, v := range row {
			if c.At(i, j) != v {
				t.Errorf("c[%d][%d] = %v, want %v", i, j, c.At(i, j), v)
			}
		}
	}
	if _, err := MatMul(b, b); !errors.Is(err, ErrShape) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestSoftmaxStability(t *testing.T) {
	x := []float64{1000, 1001, 1002, math.Inf(-1)}
	Softmax(x)
	sum := 0.0
	for _, v := range x {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Fatalf("softmax value out of range: %v", x)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("softmax sums to %v", sum)
	}
	if x[3] != 0 {
		t.Errorf("masked entry got mass %v", x[3])
	}
}

func TestLogSoftmaxMatchesSoftmax(t *testing.T) {
	x := []float64{0.5, -1, 3, 2}
	p := append([]float64(nil), x...)
	Softmax(p)
	LogSoftmax(x)
	for i := range x {
		if math.Abs(math.Exp(x[i])-p[i]) > 1e-12 {
			t.Errorf("exp(logsoftmax)[%d] = %v, softmax = %v", i, math.Exp(x[i]), p[i])
		}
	}
}

func TestSoftmaxInfiniteRows(t *testing.T) {
	inf := math.Inf(1)
	tests := []struct {
		name    string
		in      []float64
		want    []float64
		wantLog []float64
	}{
		{"single +Inf", []float64{1, inf, -2}, []float64{0, 1, 0}, []float64{math.Inf(-1), 0, math.Inf(-1)}},
		{"two +Inf", []float64{inf, 3, inf, math.Inf(-1)}, []float64{0.5, 0, 0.5, 0}, []float64{-math.Ln2, math.Inf(-1), -math.Ln2, math.Inf(-1)}},
		{"all -Inf", []float64{math.Inf(-1), math.Inf(-1)}, []float64{0, 0}, []float64{math.Inf(-1), math.Inf(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := append([]float64(nil), tt.in...)
			Softmax(p)
			lp := append([]float64(nil), tt.in...)
			LogSoftmax(lp)
			for i := range tt.in {
				if math.IsNaN(p[i]) || math.Abs(p[i]-tt.want[i]) > 1e-12 {
					t.Errorf("softmax = %v, want %v", p, tt.want)
					break
				}
				if math.IsNaN(lp[i]) || !(lp[i] == tt.wantLog[i] || math.Abs(lp[i]-tt.wantLog[i]) < 1e-12) {
					t.Errorf("logsoftmax = %v, want %v", lp, tt.wantLog)
					break
				}
			}
		})
	}
}

func TestLayerNormRow(t *testing.T) {
	x := []float64{1, 2, 3, 4, 10, 10, 10, 10}
	LayerNorm(x, 4, nil, nil, 1e-5)
	mean := (x[0] + x[1] + x[2] + x[3]) / 4
	if math.Abs(mean) > 1e-12 {
		t.Errorf("row mean = %v", mean)
	}
	for _, v := range x[4:] {
		if v != 0 {
			t.Errorf("constant row should normalize to zero, got %v", x[4:])
		}
	}
}

func TestAllClose(t *testing.T) {
	a, _ := FromData([]float64{1, 2, 3}, 3)
	b, _ := FromData([]float64{1, 2 + 1e-9, 3}, 1, 3)
	c := AllClose(a, b, DefaultRTol, DefaultATol)
	if !c.Close {
		t.Errorf("expected close, got %+v", c)
	}

	d, _ := FromData([]float64{1, 2.1, math.NaN()}, 3)
	c = AllClose(d, a, DefaultRTol, DefaultATol)
	if c.Close || c.Mismatched != 2 {
		t.Errorf("expected two mismatches, got %+v", c)
	}

	c = AllClose(New(2), a, DefaultRTol, DefaultATol)
	if c.Close {
		t.Error("different volumes must not be close")
	}
}

func TestFromDataRejectsBadVolume(t *testing.T) {
	if _, err := FromData([]float64{1, 2, 3}, 2, 2); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
	if _, err := FromData(nil, 0); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for zero dim, got %v", err)
	}
}

func TestArgMaxLastAxis(t *testing.T) {
	x, _ := FromData([]float64{0, 1, 0, 0.9, 0.1, 0}, 2, 3)
	got := ArgMaxLastAxis(x)
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("argmax = %v", got)
	}
}
