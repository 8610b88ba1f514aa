package reconcile

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = c.Write(m)
	return m.Counter.GetValue()
}

func TestMetrics_PassOutcomeCounter(t *testing.T) {
	passesTotal.Reset()

	passesTotal.WithLabelValues(OutcomeApplied).Inc()
	passesTotal.WithLabelValues(OutcomeApplied).Inc()
	passesTotal.WithLabelValues(OutcomeLockTimeout).Inc()

	if got := counterValue(t, passesTotal, OutcomeApplied); got != 2.0 {
		t.Errorf("expected 2 applied passes, got %f", got)
	}
	if got := counterValue(t, passesTotal, OutcomeLockTimeout); got != 1.0 {
		t.Errorf("expected 1 lock timeout, got %f", got)
	}
}

func TestMetrics_IngestCounterCarriesDuplicateLabel(t *testing.T) {
	eventsIngested.Reset()

	eventsIngested.WithLabelValues("payment_failed", "false").Inc()
	eventsIngested.WithLabelValues("payment_failed", "true").Inc()

	if got := counterValue(t, eventsIngested, "payment_failed", "false"); got != 1.0 {
		t.Errorf("expected 1 fresh ingest, got %f", got)
	}
	if got := counterValue(t, eventsIngested, "payment_failed", "true"); got != 1.0 {
		t.Errorf("expected 1 duplicate ingest, got %f", got)
	}
}

func TestMetrics_PassDurationObserved(t *testing.T) {
	passDuration.Observe(0.2)

	ch := make(chan prometheus.Metric, 1)
	passDuration.Collect(ch)
	close(ch)

	metric, ok := <-ch
	if !ok {
		t.Fatal("expected a histogram metric")
	}
	m := &dto.Metric{}
	_ = metric.Write(m)
	if m.Histogram == nil || m.Histogram.GetSampleCount() == 0 {
		t.Error("expected at least one histogram sample")
	}
}
