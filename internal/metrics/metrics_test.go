package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransplant(t *testing.T) {
	before := testutil.ToFloat64(TransplantParams.WithLabelValues("test_program", "loaded"))
	RecordTransplant("test_program", 40, 2, 1, 3*time.Millisecond)
	after := testutil.ToFloat64(TransplantParams.WithLabelValues("test_program", "loaded"))
	if after-before != 40 {
		t.Errorf("loaded counter moved by %v, want 40", after-before)
	}
	if got := testutil.ToFloat64(TransplantParams.WithLabelValues("test_program", "dropped")); got < 2 {
		t.Errorf("dropped counter = %v", got)
	}
}

func TestRecordTransplantFailure(t *testing.T) {
	RecordTransplantFailure("test_program", "shape_mismatch")
	if got := testutil.ToFloat64(TransplantFailures.WithLabelValues("test_program", "shape_mismatch")); got < 1 {
		t.Errorf("failure counter = %v", got)
	}
}

func TestRecordVerificationCheck(t *testing.T) {
	before := testutil.ToFloat64(VerificationChecks.WithLabelValues("attn_out", "fail"))
	RecordVerificationCheck("attn_out", false, 0.5)
	RecordVerificationCheck("attn_out", true, 0)
	if got := testutil.ToFloat64(VerificationChecks.WithLabelValues("attn_out", "fail")); got-before != 1 {
		t.Errorf("fail counter moved by %v, want 1", got-before)
	}
}

func TestRecordVerification(t *testing.T) {
	RecordVerification("reverse", true)
	RecordVerification("reverse", false)
	if got := testutil.ToFloat64(VerificationRuns.WithLabelValues("reverse", "pass")); got < 1 {
		t.Errorf("pass counter = %v", got)
	}
}

func TestRecordDataset(t *testing.T) {
	before := testutil.ToFloat64(DatasetExamples.WithLabelValues("proportion", "validation"))
	RecordDataset("proportion", "validation", 50)
	after := testutil.ToFloat64(DatasetExamples.WithLabelValues("proportion", "validation"))
	if after-before != 50 {
		t.Errorf("dataset counter moved by %v, want 50", after-before)
	}
}

func TestRecordMetricEvaluationAndErrors(t *testing.T) {
	RecordMetricEvaluation("l2", 0.25)
	RecordMetricError("kl_div", "semantic_misuse")
	if got := testutil.ToFloat64(MetricErrors.WithLabelValues("kl_div", "semantic_misuse")); got < 1 {
		t.Errorf("metric error counter = %v", got)
	}
}

func TestRecordForwardAndExport(t *testing.T) {
	// Histograms and counters should accept observations without panicking.
	RecordForward(30, true, 2*time.Millisecond)
	RecordForward(1, false, time.Millisecond)
	RecordExport("batch", "ipc", 2)
	RecordExportError("flight")
	if got := testutil.ToFloat64(ExportRecords.WithLabelValues("batch", "ipc")); got < 2 {
		t.Errorf("export counter = %v", got)
	}
}
