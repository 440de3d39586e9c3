package arrowexport

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-circuit/internal/dataset"
	"github.com/23skdu/longbow-circuit/internal/experiment"
	"github.com/23skdu/longbow-circuit/internal/logger"
	"github.com/23skdu/longbow-circuit/internal/metrics"
)

// Named is a record tagged with its kind.
type Named struct {
	Kind   string
	Record arrow.Record
}

// BundleRecords builds the batch, metric and verification records of a run.
// ev may be nil, in which case no metric record is produced.
func BundleRecords(mem memory.Allocator, b *experiment.Bundle, ev *experiment.Evaluation) ([]Named, error) {
	runID := b.RunID.String()
	batches, err := BatchRecord(mem, runID,
		[]string{"validation", "test"},
		[]*dataset.Batch{
			{Data: b.ValidationData, Patch: b.ValidationPatchData},
			{Data: b.TestData, Patch: b.TestPatchData},
		})
	if err != nil {
		return nil, err
	}
	out := []Named{{Kind: KindBatches, Record: batches}}

	if ev != nil {
		values := []MetricValue{{Split: "validation", Metric: b.MetricName, Value: ev.Validation}}
		values = append(values, SortedMetricValues("test", ev.Test)...)
		out = append(out, Named{Kind: KindMetrics, Record: MetricRecord(mem, runID, values)})
	}
	if b.Verification != nil {
		out = append(out, Named{Kind: KindVerification, Record: ReportRecord(mem, runID, b.Verification)})
	}
	return out, nil
}

// Export sends every record to every sink, stopping at the first failure.
func Export(ctx context.Context, recs []Named, sinks ...Sink) error {
	log := logger.Log.With("export")
	for _, s := range sinks {
		for _, r := range recs {
			if err := s.Put(ctx, r.Kind, r.Record); err != nil {
				metrics.RecordExportError(s.Name())
				return fmt.Errorf("export %s to %s: %w", r.Kind, s.Name(), err)
			}
			metrics.RecordExport(r.Kind, s.Name(), int(r.Record.NumRows()))
			log.Debug("record exported", "kind", r.Kind, "sink", s.Name(), "rows", r.Record.NumRows())
		}
	}
	return nil
}

// Release frees every record.
func Release(recs []Named) {
	for _, r := range recs {
		r.Record.Release()
	}
}
