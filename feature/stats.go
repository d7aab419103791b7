package feature

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// FeatureStatistics 一组数值的统计摘要（拟合时用于记录目标列分布）
type FeatureStatistics struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// ComputeStatistics 计算统计摘要（总体标准差，经验分布线性插值分位数），空输入返回零值
func ComputeStatistics(values []float64) *FeatureStatistics {
	if len(values) == 0 {
		return &FeatureStatistics{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mean, std := stat.PopMeanStdDev(sorted, nil)
	q := func(p float64) float64 { return stat.Quantile(p, stat.LinInterp, sorted, nil) }
	return &FeatureStatistics{
		Count:  len(sorted),
		Mean:   mean,
		Std:    std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: q(0.5),
		P25:    q(0.25),
		P75:    q(0.75),
		P95:    q(0.95),
		P99:    q(0.99),
	}
}
