// Package metrics 定义服务的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionsTotal 按接口与结果统计预测请求
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_predictions_total",
			Help: "Total number of prediction requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// PredictDuration 预测请求耗时（编码 + 模型）
	PredictDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carprice_predict_duration_seconds",
			Help:    "Duration of prediction requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"endpoint"},
	)

	// EncodingErrorsTotal 按错误码统计编码失败
	EncodingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_encoding_errors_total",
			Help: "Total number of encoding failures by error code",
		},
		[]string{"code"},
	)

	// FallbacksTotal 按列统计回退（未见标题使用全局均值、One-Hot 未见类别编码为全 0）
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_encoder_fallbacks_total",
			Help: "Total number of rows encoded with a fallback value by column",
		},
		[]string{"column"},
	)

	// RowsEncodedTotal 编码的行数
	RowsEncodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carprice_rows_encoded_total",
			Help: "Total number of rows passed through the encoder",
		},
	)

	// BundleReloadsTotal 按结果统计模型包加载
	BundleReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_bundle_reloads_total",
			Help: "Total number of bundle load attempts by result",
		},
		[]string{"result"},
	)

	// BundleInfo 当前服务中的模型包，值恒为 1
	BundleInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carprice_bundle_info",
			Help: "Currently served bundle (value is always 1)",
		},
		[]string{"version", "fingerprint", "model"},
	)

	// RuleRejectionsTotal 按规则统计被准入规则拒绝的行
	RuleRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_rule_rejections_total",
			Help: "Total number of rows rejected by admission rules",
		},
		[]string{"rule"},
	)
)

// ObservePredict 记录一次预测请求
func ObservePredict(endpoint, status string, start time.Time) {
	PredictionsTotal.WithLabelValues(endpoint, status).Inc()
	PredictDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// ObserveFallbacks 记录一次 Transform 的行数与各列回退次数
func ObserveFallbacks(rows int, fallbacks map[string]int) {
	RowsEncodedTotal.Add(float64(rows))
	for col, n := range fallbacks {
		FallbacksTotal.WithLabelValues(col).Add(float64(n))
	}
}

// SetBundle 切换 BundleInfo，只保留当前模型包一条序列
func SetBundle(version, fingerprint, model string) {
	BundleInfo.Reset()
	BundleInfo.WithLabelValues(version, fingerprint, model).Set(1)
}
