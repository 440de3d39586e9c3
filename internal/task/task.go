// Package task is the closed registry of supported tasks. Each Spec bundles
// everything that varies per task so callers look data up instead of
// branching on the task name.
package task

import (
	"math/rand"
	"sort"

	"github.com/23skdu/longbow-circuit/internal/dataset"
	"github.com/23skdu/longbow-circuit/internal/errs"
	"github.com/23skdu/longbow-circuit/internal/metric"
	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/program/lib"
	"github.com/23skdu/longbow-circuit/internal/tensor"
)

type Kind int

const (
	Reverse Kind = iota
	Proportion
)

func (k Kind) String() string {
	switch k {
	case Reverse:
		return "reverse"
	case Proportion:
		return "proportion"
	}
	return "unknown"
}

// BOSConvention says whether dataset rows start with the BOS token.
type BOSConvention int

const (
	BOSPrefixed BOSConvention = iota
	NoBOS
)

type Spec struct {
	Kind     Kind
	Alphabet string
	SeqLen   int
	BOS      BOSConvention

	// FixedBatchSize is the only accepted example count, or 0 when any count
	// the dataset rule supports is fine.
	FixedBatchSize int

	// DefaultExamples is used when the caller asks for no particular count.
	DefaultExamples int

	// Metrics lists valid metrics; the first is the default.
	Metrics []metric.Name

	// Rejected maps metrics that are meaningless for this task to the
	// reason.
	Rejected map[metric.Name]string

	// Baseline turns runtime outputs into KL baseline log-probabilities.
	Baseline func(*tensor.Tensor) *tensor.Tensor

	// L2ElementZero restricts L2 to output channel 0.
	L2ElementZero bool

	// SampleInput is the verification input.
	SampleInput []string

	NewProgram func() (*program.Program, error)

	dataset func(n int, rng *rand.Rand, opts dataset.ProportionOptions) (*dataset.Split, error)
}

func (s *Spec) Name() string { return s.Kind.String() }

// Dataset builds the task's batches for n examples.
func (s *Spec) Dataset(n int, rng *rand.Rand, opts dataset.ProportionOptions) (*dataset.Split, error) {
	if s.FixedBatchSize > 0 && n != s.FixedBatchSize {
		return nil, errs.Configf("num_examples", "%s task needs exactly %d examples, got %d", s.Name(), s.FixedBatchSize, n)
	}
	return s.dataset(n, rng, opts)
}

// CheckMetric reports a SemanticMisuseError for rejected metrics and a
// ConfigurationError for metrics the task does not know.
func (s *Spec) CheckMetric(name metric.Name) error {
	if reason, ok := s.Rejected[name]; ok {
		return &errs.SemanticMisuseError{Metric: string(name), Reason: reason}
	}
	for _, m := range s.Metrics {
		if m == name {
			return nil
		}
	}
	return errs.Configf("metric", "metric %q not recognized for task %s", name, s.Name())
}

// MetricFor binds metric name to baseline outputs of shape
// (batch, seq, d_vocab_out).
func (s *Spec) MetricFor(name metric.Name, outputs *tensor.Tensor) (metric.Func, error) {
	if err := s.CheckMetric(name); err != nil {
		return nil, err
	}
	switch name {
	case metric.L2:
		target, err := metric.L2Target(outputs, s.L2ElementZero)
		if err != nil {
			return nil, err
		}
		return metric.NewL2(target, metric.L2Options{TakeElementZero: s.L2ElementZero, ReturnOneElement: true}), nil
	case metric.KLDiv:
		return metric.NewKLDivergence(s.Baseline(outputs), metric.KLOptions{ReturnOneElement: true})
	}
	return nil, errs.Configf("metric", "unknown metric %q", name)
}

// TestMetrics binds every valid metric to outputs.
func (s *Spec) TestMetrics(outputs *tensor.Tensor) (map[metric.Name]metric.Func, error) {
	out := make(map[metric.Name]metric.Func, len(s.Metrics))
	for _, name := range s.Metrics {
		fn, err := s.MetricFor(name, outputs)
		if err != nil {
			return nil, err
		}
		out[name] = fn
	}
	return out, nil
}

var registry = map[string]*Spec{
	"reverse": {
		Kind:            Reverse,
		Alphabet:        "123",
		SeqLen:          4,
		BOS:             BOSPrefixed,
		FixedBatchSize:  dataset.ReversalSize(3),
		DefaultExamples: dataset.ReversalSize(3),
		Metrics:         []metric.Name{metric.L2},
		Rejected: map[metric.Name]string{
			metric.KLDiv: "outputs are one-hot distributions and KL divergence between distributions with different supports is not defined",
		},
		Baseline:    metric.LogProbs,
		SampleInput: []string{"BOS", "1", "2", "3"},
		NewProgram:  lib.ReverseDigits,
		dataset: func(n int, _ *rand.Rand, _ dataset.ProportionOptions) (*dataset.Split, error) {
			// Token ids of the reverse program: values 0..2, BOS 3.
			return dataset.Reversal([]int{0, 1, 2}, 3, n)
		},
	},
	"proportion": {
		Kind:            Proportion,
		Alphabet:        "wxyz",
		SeqLen:          4,
		BOS:             NoBOS,
		DefaultExamples: 50,
		Metrics:         []metric.Name{metric.L2, metric.KLDiv},
		Baseline:        metric.LogSoftmax,
		L2ElementZero:   true,
		SampleInput:     []string{"BOS", "x", "w", "w", "x"},
		NewProgram:      lib.FracPrevsX,
		dataset: func(n int, rng *rand.Rand, opts dataset.ProportionOptions) (*dataset.Split, error) {
			return dataset.Proportion("wxyz", 4, n, rng, opts)
		},
	},
}

// Lookup returns the spec for a task name.
func Lookup(name string) (*Spec, error) {
	s, ok := registry[name]
	if !ok {
		return nil, errs.Configf("task", "unknown task %q (known: %v)", name, Names())
	}
	return s, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
