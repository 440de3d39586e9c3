// Package arrowexport converts datasets, metric values and verification
// reports into Arrow records and ships them to IPC streams or a Flight
// endpoint.
package arrowexport

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-circuit/internal/dataset"
	"github.com/23skdu/longbow-circuit/internal/metric"
	"github.com/23skdu/longbow-circuit/internal/verify"
)

// Record kinds, also used as file stems and Flight path leaves.
const (
	KindBatches      = "batches"
	KindMetrics      = "metrics"
	KindVerification = "verification"
)

const metaRunID = "run_id"

var (
	tokenList = arrow.ListOf(arrow.PrimitiveTypes.Int32)

	batchFields = []arrow.Field{
		{Name: "split", Type: arrow.BinaryTypes.String},
		{Name: "row", Type: arrow.PrimitiveTypes.Int32},
		{Name: "data", Type: tokenList},
		{Name: "patch", Type: tokenList},
	}

	metricFields = []arrow.Field{
		{Name: "split", Type: arrow.BinaryTypes.String},
		{Name: "metric", Type: arrow.BinaryTypes.String},
		{Name: "index", Type: arrow.PrimitiveTypes.Int32},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}

	reportFields = []arrow.Field{
		{Name: "layer", Type: arrow.PrimitiveTypes.Int32},
		{Name: "hook", Type: arrow.BinaryTypes.String},
		{Name: "pass", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "max_abs_diff", Type: arrow.PrimitiveTypes.Float64},
		{Name: "mismatched", Type: arrow.PrimitiveTypes.Int32},
		{Name: "elements", Type: arrow.PrimitiveTypes.Int32},
	}
)

func schema(fields []arrow.Field, keys, values []string) *arrow.Schema {
	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(fields, &md)
}

// Metadata returns a schema metadata value, or "" when absent.
func Metadata(rec arrow.Record, key string) string {
	md := rec.Schema().Metadata()
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i]
	}
	return ""
}

func appendTokens(b *array.ListBuilder, row []int) {
	b.Append(true)
	vb := b.ValueBuilder().(*array.Int32Builder)
	for _, t := range row {
		vb.Append(int32(t))
	}
}

// BatchRecord lays out named batches one row per example. Splits are written
// in the order given; a split that reuses an earlier batch is still written.
func BatchRecord(mem memory.Allocator, runID string, names []string, batches []*dataset.Batch) (arrow.Record, error) {
	if len(names) != len(batches) {
		return nil, fmt.Errorf("got %d split names for %d batches", len(names), len(batches))
	}
	b := array.NewRecordBuilder(mem, schema(batchFields, []string{metaRunID}, []string{runID}))
	defer b.Release()

	split := b.Field(0).(*array.StringBuilder)
	row := b.Field(1).(*array.Int32Builder)
	data := b.Field(2).(*array.ListBuilder)
	patch := b.Field(3).(*array.ListBuilder)
	for k, batch := range batches {
		if len(batch.Patch) != len(batch.Data) {
			return nil, fmt.Errorf("split %s: %d rows but %d patch rows", names[k], len(batch.Data), len(batch.Patch))
		}
		for i := range batch.Data {
			split.Append(names[k])
			row.Append(int32(i))
			appendTokens(data, batch.Data[i])
			appendTokens(patch, batch.Patch[i])
		}
	}
	return b.NewRecord(), nil
}

// MetricValue is one evaluated metric for a split.
type MetricValue struct {
	Split  string
	Metric metric.Name
	Value  metric.Value
}

// MetricRecord flattens metric values: a scalar becomes one row with index
// -1, a vector one row per element.
func MetricRecord(mem memory.Allocator, runID string, values []MetricValue) arrow.Record {
	b := array.NewRecordBuilder(mem, schema(metricFields, []string{metaRunID}, []string{runID}))
	defer b.Release()

	split := b.Field(0).(*array.StringBuilder)
	name := b.Field(1).(*array.StringBuilder)
	index := b.Field(2).(*array.Int32Builder)
	value := b.Field(3).(*array.Float64Builder)
	put := func(v MetricValue, i int, x float64) {
		split.Append(v.Split)
		name.Append(string(v.Metric))
		index.Append(int32(i))
		value.Append(x)
	}
	for _, v := range values {
		if !v.Value.IsVector() {
			put(v, -1, v.Value.Scalar)
			continue
		}
		for i, x := range v.Value.Vector {
			put(v, i, x)
		}
	}
	return b.NewRecord()
}

// SortedMetricValues turns a metric map into values ordered by name.
func SortedMetricValues(split string, m map[metric.Name]metric.Value) []MetricValue {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, string(n))
	}
	sort.Strings(names)
	out := make([]MetricValue, len(names))
	for i, n := range names {
		out[i] = MetricValue{Split: split, Metric: metric.Name(n), Value: m[metric.Name(n)]}
	}
	return out
}

// ReportRecord writes one row per layer check. Program, decode outcome and
// overall pass go into schema metadata.
func ReportRecord(mem memory.Allocator, runID string, r *verify.Report) arrow.Record {
	keys := []string{metaRunID, "program", "decode_match", "passed"}
	vals := []string{runID, r.Program, fmt.Sprint(r.DecodeMatch), fmt.Sprint(r.Passed())}
	b := array.NewRecordBuilder(mem, schema(reportFields, keys, vals))
	defer b.Release()

	layer := b.Field(0).(*array.Int32Builder)
	hook := b.Field(1).(*array.StringBuilder)
	pass := b.Field(2).(*array.BooleanBuilder)
	diff := b.Field(3).(*array.Float64Builder)
	mism := b.Field(4).(*array.Int32Builder)
	elems := b.Field(5).(*array.Int32Builder)
	for _, c := range r.Checks {
		layer.Append(int32(c.Layer))
		hook.Append(c.Hook)
		pass.Append(c.Pass)
		diff.Append(c.MaxAbsDiff)
		mism.Append(int32(c.Mismatched))
		elems.Append(int32(c.Elements))
	}
	return b.NewRecord()
}

// ReadBatches is the inverse of BatchRecord, grouping rows by split.
func ReadBatches(rec arrow.Record) (map[string]*dataset.Batch, error) {
	if !rec.Schema().Equal(schema(batchFields, nil, nil)) {
		return nil, fmt.Errorf("record is not a batch record: %s", rec.Schema())
	}
	split := rec.Column(0).(*array.String)
	data := rec.Column(2).(*array.List)
	patch := rec.Column(3).(*array.List)
	tokens := func(l *array.List, i int) []int {
		start, end := l.ValueOffsets(i)
		vals := l.ListValues().(*array.Int32)
		out := make([]int, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, int(vals.Value(int(j))))
		}
		return out
	}
	out := make(map[string]*dataset.Batch)
	for i := 0; i < int(rec.NumRows()); i++ {
		name := split.Value(i)
		b, ok := out[name]
		if !ok {
			b = &dataset.Batch{}
			out[name] = b
		}
		b.Data = append(b.Data, tokens(data, i))
		b.Patch = append(b.Patch, tokens(patch, i))
	}
	return out, nil
}
