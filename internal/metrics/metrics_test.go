package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersUpdateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OwnerDecision("hub")
	m.OwnerDecision("hub")
	m.OwnerDecision("")
	m.SwapOutcome("success")
	m.SetCircuitOpen(true)
	m.ObserveQuote("137", 120*time.Millisecond, "ok")
	m.ObserveQuote("137", 0, "no_liquidity")

	if got := testutil.ToFloat64(m.OwnerDecisions.WithLabelValues("hub")); got != 2 {
		t.Fatalf("expected 2 hub decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.OwnerDecisions.WithLabelValues("undecided")); got != 1 {
		t.Fatalf("expected 1 undecided decision, got %v", got)
	}
	if got := testutil.ToFloat64(m.CircuitOpen); got != 1 {
		t.Fatalf("expected open circuit gauge, got %v", got)
	}
	if got := testutil.ToFloat64(m.QuoteResults.WithLabelValues("no_liquidity")); got != 1 {
		t.Fatalf("expected no_liquidity count 1, got %v", got)
	}
	if got := testutil.CollectAndCount(m.QuoteLatency); got != 1 {
		t.Fatalf("expected one latency series, got %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.OwnerDecision("dex")
	m.ObserveStep("SIGN", "failed", time.Second)
	m.SetCircuitOpen(false)
	m.TelemetrySend("ok")
	if NewServer("", prometheus.NewRegistry()) != nil {
		t.Fatal("expected nil server for empty addr")
	}
}
