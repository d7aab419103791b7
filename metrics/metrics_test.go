package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFallbacks(t *testing.T) {
	before := testutil.ToFloat64(FallbacksTotal.WithLabelValues("title"))
	ObserveFallbacks(3, map[string]int{"title": 2, "Brand": 1})

	if got := testutil.ToFloat64(FallbacksTotal.WithLabelValues("title")) - before; got != 2 {
		t.Errorf("title fallbacks delta = %v, want 2", got)
	}
}

func TestSetBundle_KeepsSingleSeries(t *testing.T) {
	SetBundle("v1", "aaaa", "linear")
	SetBundle("v2", "bbbb", "linear")

	if n := testutil.CollectAndCount(BundleInfo); n != 1 {
		t.Errorf("bundle info series = %d, want 1", n)
	}
	if v := testutil.ToFloat64(BundleInfo.WithLabelValues("v2", "bbbb", "linear")); v != 1 {
		t.Errorf("bundle info = %v, want 1", v)
	}
}

func TestObservePredict(t *testing.T) {
	before := testutil.ToFloat64(PredictionsTotal.WithLabelValues("predict", "success"))
	ObservePredict("predict", "success", time.Now())
	if got := testutil.ToFloat64(PredictionsTotal.WithLabelValues("predict", "success")) - before; got != 1 {
		t.Errorf("predictions delta = %v, want 1", got)
	}
}
