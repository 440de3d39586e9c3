package main

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-circuit/internal/arrowexport"
	"github.com/23skdu/longbow-circuit/internal/catalog"
	"github.com/23skdu/longbow-circuit/internal/dataset"
	"github.com/23skdu/longbow-circuit/internal/experiment"
	"github.com/23skdu/longbow-circuit/internal/monitoring"
	"github.com/23skdu/longbow-circuit/internal/task"
	"github.com/23skdu/longbow-circuit/internal/transplant"
	"github.com/23skdu/longbow-circuit/internal/verify"
)

// taskFlags are the per-command overrides of the loaded config.
type taskFlags struct {
	task   string
	metric string
	n      int
	seed   int64
}

func (f *taskFlags) register(cmd *cobra.Command, withMetric bool) {
	cmd.Flags().StringVar(&f.task, "task", "", "Task name ("+strings.Join(task.Names(), ", ")+")")
	cmd.Flags().IntVar(&f.n, "n", 0, "Number of examples (task default when unset)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Dataset seed")
	if withMetric {
		cmd.Flags().StringVar(&f.metric, "metric", "", "Validation metric (l2, kl_div)")
	}
}

func (f *taskFlags) apply(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("task") {
		cfg.Task = f.task
	}
	if flags.Changed("metric") {
		cfg.Metric = f.metric
	}
	if flags.Changed("n") {
		cfg.SetNumExamples(f.n)
	}
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
}

func newTransplantCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "transplant",
		Short: "Transplant a task's program and verify it against the compiled original",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd)
			spec, err := task.Lookup(cfg.Task)
			if err != nil {
				return err
			}
			prog, err := spec.NewProgram()
			if err != nil {
				return err
			}
			model, res, err := transplant.Transplant(prog)
			if err != nil {
				return err
			}
			v := &verify.Verifier{RTol: cfg.Verify.RTol, ATol: cfg.Verify.ATol}
			report, err := v.Verify(prog, model, spec.SampleInput)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printTransplant(out, res)
			printReport(out, report)
			return report.Err()
		},
	}
	f.register(cmd, false)
	return cmd
}

func printTransplant(w io.Writer, res *transplant.Result) {
	c := res.Config
	fmt.Fprintf(w, "program %s: layers=%d heads=%d d_model=%d d_head=%d d_mlp=%d n_ctx=%d d_vocab=%d d_vocab_out=%d\n",
		res.Program, c.NLayers, c.NHeads, c.DModel, c.DHead, c.DMLP, c.NCtx, c.DVocab, c.DVocabOut)
	fmt.Fprintf(w, "loaded %d parameters, dropped %v, defaulted %v\n", len(res.Loaded), res.Dropped, res.Missing)
}

func printReport(w io.Writer, r *verify.Report) {
	for _, c := range r.Checks {
		status := "ok"
		if !c.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  layer %d %-14s %-4s max_abs_diff=%.3g mismatched=%d/%d\n",
			c.Layer, c.Hook, status, c.MaxAbsDiff, c.Mismatched, c.Elements)
	}
	fmt.Fprintf(w, "input   %v\nprogram %v\nruntime %v\n", r.Input, r.ProgramDecoded, r.RuntimeDecoded)
	fmt.Fprintf(w, "equivalent: %t\n", r.Passed())
}

func newDatasetCmd() *cobra.Command {
	var f taskFlags
	var derange bool
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Print a task's validation and test batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd)
			if cmd.Flags().Changed("derange") {
				cfg.DerangePatches = derange
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			spec, err := task.Lookup(cfg.Task)
			if err != nil {
				return err
			}
			split, err := spec.Dataset(cfg.Examples(spec.DefaultExamples), rand.New(rand.NewSource(cfg.Seed)), dataset.ProportionOptions{DerangePatches: cfg.DerangePatches})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printBatch(out, "validation", split.Validation)
			if split.Test != split.Validation {
				printBatch(out, "test", split.Test)
			}
			return nil
		},
	}
	f.register(cmd, false)
	cmd.Flags().BoolVar(&derange, "derange", false, "Never pair a row with itself as its patch")
	return cmd
}

func printBatch(w io.Writer, name string, b *dataset.Batch) {
	fmt.Fprintf(w, "%s: %d examples, seq_len %d\n", name, b.Len(), b.SeqLen())
	for i := range b.Data {
		fmt.Fprintf(w, "  %3d %v <- %v\n", i, b.Data[i], b.Patch[i])
	}
}

func newRunCmd() *cobra.Command {
	var f taskFlags
	var exportPath, flightAddr string
	var lenient bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the full experiment bundle and score the patched baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd)
			if cmd.Flags().Changed("export") {
				cfg.Export.Path = exportPath
			}
			if cmd.Flags().Changed("flight-addr") {
				cfg.Export.FlightAddr = flightAddr
			}
			if lenient {
				cfg.Verify.Strict = false
			}

			start := time.Now()
			bundle, err := experiment.Build(cfg)
			if err != nil {
				monitor.RecordRun(monitoring.RunInfo{Task: cfg.Task, Duration: time.Since(start), Finished: time.Now(), Error: err.Error()})
				return err
			}
			monitor.RecordRun(monitoring.RunInfo{
				RunID:    bundle.RunID.String(),
				Task:     bundle.Task.Name(),
				Verified: bundle.Verification != nil && bundle.Verification.Passed(),
				Duration: time.Since(start),
				Finished: time.Now(),
			})
			ev, err := bundle.EvaluatePatched()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s task=%s examples=%d\n", bundle.RunID, bundle.Task.Name(), len(bundle.ValidationData))
			if bundle.Verification != nil {
				fmt.Fprintf(out, "equivalent: %t\n", bundle.Verification.Passed())
			}
			fmt.Fprintf(out, "validation %s (patched): %.6g\n", bundle.MetricName, ev.Validation.Mean())
			for _, v := range arrowexport.SortedMetricValues("test", ev.Test) {
				fmt.Fprintf(out, "test %s (patched): %.6g\n", v.Metric, v.Value.Mean())
			}

			return export(cmd, bundle, ev)
		},
	}
	f.register(cmd, true)
	cmd.Flags().StringVar(&exportPath, "export", "", "Directory to write Arrow IPC streams into")
	cmd.Flags().StringVar(&flightAddr, "flight-addr", "", "Arrow Flight endpoint to push records to")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Continue when the equivalence check fails")
	return cmd
}

func export(cmd *cobra.Command, bundle *experiment.Bundle, ev *experiment.Evaluation) error {
	if cfg.Export.Path == "" && cfg.Export.FlightAddr == "" {
		return nil
	}
	mem := memory.NewGoAllocator()
	recs, err := arrowexport.BundleRecords(mem, bundle, ev)
	if err != nil {
		return err
	}
	defer arrowexport.Release(recs)

	var sinks []arrowexport.Sink
	if cfg.Export.Path != "" {
		sinks = append(sinks, &arrowexport.DirSink{Dir: cfg.Export.Path, Mem: mem})
	}
	if cfg.Export.FlightAddr != "" {
		client := arrowexport.NewFlightClient(cfg.Export.FlightAddr, mem)
		if err := client.Connect(cmd.Context()); err != nil {
			return err
		}
		defer client.Close()
		sinks = append(sinks, client)
	}
	if err := arrowexport.Export(cmd.Context(), recs, sinks...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %d sinks\n", len(recs), len(sinks))
	return nil
}

func newCatalogCmd() *cobra.Command {
	var taskName string
	var hooks bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print a task's reference circuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("task") {
				cfg.Task = taskName
			}
			c, err := catalog.ForTask(cfg.Task)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p := c.Provenance()
			fmt.Fprintf(out, "%s: %d edges (threshold %s, metric %s, %s ablation, commit %s)\n",
				p.Task, c.Len(), p.Threshold, p.Metric, p.Ablation, p.Commit)
			if hooks {
				for _, n := range c.Nodes() {
					fmt.Fprintln(out, "  "+n.String())
				}
				return nil
			}
			for _, e := range c.Entries() {
				fmt.Fprintf(out, "  %-5t %s\n", e.Included, e.Edge)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskName, "task", "", "Task name")
	cmd.Flags().BoolVar(&hooks, "hooks", false, "List the distinct hook nodes instead of edges")
	return cmd
}
