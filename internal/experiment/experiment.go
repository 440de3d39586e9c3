// Package experiment assembles everything a circuit-discovery run consumes:
// a verified transplanted model, the datasets and the metrics bound to the
// model's baseline outputs.
package experiment

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-circuit/internal/config"
	"github.com/23skdu/longbow-circuit/internal/dataset"
	"github.com/23skdu/longbow-circuit/internal/logger"
	"github.com/23skdu/longbow-circuit/internal/metric"
	"github.com/23skdu/longbow-circuit/internal/program"
	"github.com/23skdu/longbow-circuit/internal/runtime"
	"github.com/23skdu/longbow-circuit/internal/task"
	"github.com/23skdu/longbow-circuit/internal/tensor"
	"github.com/23skdu/longbow-circuit/internal/transplant"
	"github.com/23skdu/longbow-circuit/internal/verify"
)

// Bundle is the output of Build.
type Bundle struct {
	RunID   uuid.UUID
	Task    *task.Spec
	Program *program.Program
	Model   *runtime.Model

	MetricName       metric.Name
	ValidationMetric metric.Func
	TestMetrics      map[metric.Name]metric.Func

	ValidationData      [][]int
	ValidationPatchData [][]int
	TestData            [][]int
	TestPatchData       [][]int

	// Labels and masks are unused by the supported tasks and stay nil.
	ValidationLabels *tensor.Tensor
	ValidationMask   *tensor.Tensor
	TestLabels       *tensor.Tensor
	TestMask         *tensor.Tensor

	Transplant   *transplant.Result
	Verification *verify.Report
}

// Build runs the whole pipeline for cfg. Any failure aborts with no partial
// bundle. A failed equivalence check aborts only when cfg.Verify.Strict is set.
func Build(cfg *config.Config) (*Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := task.Lookup(cfg.Task)
	if err != nil {
		return nil, err
	}
	name, err := metric.ParseName(cfg.Metric)
	if err != nil {
		return nil, err
	}
	if err := spec.CheckMetric(name); err != nil {
		return nil, err
	}

	runID := uuid.New()
	log := logger.Log.With("experiment")
	log.Info("building experiment", "run_id", runID.String(), "task", spec.Name(), "metric", string(name))

	prog, err := spec.NewProgram()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s program: %w", spec.Name(), err)
	}
	model, tres, err := transplant.Transplant(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to transplant %s: %w", prog.Name, err)
	}

	var report *verify.Report
	if cfg.Verify.Enabled {
		v := &verify.Verifier{RTol: cfg.Verify.RTol, ATol: cfg.Verify.ATol}
		report, err = v.Verify(prog, model, spec.SampleInput)
		if err != nil {
			return nil, fmt.Errorf("failed to verify %s: %w", prog.Name, err)
		}
		if verr := report.Err(); verr != nil {
			if cfg.Verify.Strict {
				return nil, verr
			}
			log.Warn("equivalence check failed, continuing", "error", verr)
		}
	}

	n := cfg.Examples(spec.DefaultExamples)
	rng := rand.New(rand.NewSource(cfg.Seed))
	split, err := spec.Dataset(n, rng, dataset.ProportionOptions{DerangePatches: cfg.DerangePatches})
	if err != nil {
		return nil, err
	}

	valOut, err := model.Forward(split.Validation.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to run validation baseline: %w", err)
	}
	valMetric, err := spec.MetricFor(name, valOut)
	if err != nil {
		return nil, err
	}

	testOut, err := model.Forward(split.Test.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to run test baseline: %w", err)
	}
	testMetrics, err := spec.TestMetrics(testOut)
	if err != nil {
		return nil, err
	}

	log.Info("experiment ready",
		"run_id", runID.String(),
		"examples", n,
		"seq_len", split.Validation.SeqLen(),
		"verified", report != nil && report.Passed())

	return &Bundle{
		RunID:               runID,
		Task:                spec,
		Program:             prog,
		Model:               model,
		MetricName:          name,
		ValidationMetric:    valMetric,
		TestMetrics:         testMetrics,
		ValidationData:      split.Validation.Data,
		ValidationPatchData: split.Validation.Patch,
		TestData:            split.Test.Data,
		TestPatchData:       split.Test.Patch,
		Transplant:          tres,
		Verification:        report,
	}, nil
}

// Evaluation holds metric values of the model on the patch batches, which is
// what a fully ablated circuit would score.
type Evaluation struct {
	Validation metric.Value
	Test       map[metric.Name]metric.Value
}

// EvaluatePatched runs the model on the patch data and scores it with the
// bundle's metrics.
func (b *Bundle) EvaluatePatched() (*Evaluation, error) {
	valOut, err := b.Model.Forward(b.ValidationPatchData)
	if err != nil {
		return nil, err
	}
	val, err := b.ValidationMetric(valOut)
	if err != nil {
		return nil, fmt.Errorf("validation %s: %w", b.MetricName, err)
	}

	testOut, err := b.Model.Forward(b.TestPatchData)
	if err != nil {
		return nil, err
	}
	ev := &Evaluation{Validation: val, Test: make(map[metric.Name]metric.Value, len(b.TestMetrics))}
	for name, fn := range b.TestMetrics {
		v, err := fn(testOut)
		if err != nil {
			return nil, fmt.Errorf("test %s: %w", name, err)
		}
		ev.Test[name] = v
	}
	return ev, nil
}
