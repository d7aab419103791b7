package feature

import (
	"fmt"
	"math"

	"github.com/rushteam/carprice/core"
)

// TargetEncoder Target 编码（目标编码）
// 用训练集中相同类别的目标均值编码类别；未见过的类别使用全局均值（各类别均值的均值）。
type TargetEncoder struct {
	column     string
	means      map[string]float64 // 类别 -> 目标均值
	globalMean float64
}

// FitTargetEncoder 拟合目标编码器，values 与 targets 等长
func FitTargetEncoder(column string, values []string, targets []float64) *TargetEncoder {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i, v := range values {
		sums[v] += targets[i]
		counts[v]++
	}

	means := make(map[string]float64, len(sums))
	for v, sum := range sums {
		means[v] = sum / float64(counts[v])
	}
	// 非有限均值由调用方通过 meanOfMeans 拒绝
	globalMean, _ := meanOfMeans(means)

	return &TargetEncoder{
		column:     column,
		means:      means,
		globalMean: globalMean,
	}
}

// meanOfMeans 返回各类别均值的算术平均；任一均值非有限时返回错误
func meanOfMeans(means map[string]float64) (float64, error) {
	if len(means) == 0 {
		return 0, nil
	}
	total := 0.0
	for v, mean := range means {
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			return 0, fmt.Errorf("mean for %q is not finite", v)
		}
		total += mean
	}
	return total / float64(len(means)), nil
}

func newTargetEncoderFromState(column string, means map[string]float64, globalMean float64) *TargetEncoder {
	cp := make(map[string]float64, len(means))
	for k, v := range means {
		cp[k] = v
	}
	return &TargetEncoder{
		column:     column,
		means:      cp,
		globalMean: globalMean,
	}
}

// Column 返回编码的列名
func (e *TargetEncoder) Column() string { return e.column }

// GlobalMean 返回未见类别使用的回退值
func (e *TargetEncoder) GlobalMean() float64 { return e.globalMean }

// Encode 返回类别的目标均值；seen 为 false 表示使用了全局均值回退
func (e *TargetEncoder) Encode(value string) (encoded float64, seen bool) {
	if mean, ok := e.means[value]; ok {
		return mean, true
	}
	return e.globalMean, false
}

// Means 返回类别均值表的副本
func (e *TargetEncoder) Means() map[string]float64 {
	cp := make(map[string]float64, len(e.means))
	for k, v := range e.means {
		cp[k] = v
	}
	return cp
}

// LabelEncoder Label 编码（标签编码）
// 将类别按首次出现顺序映射为整数（0, 1, 2, ...）。
// 未见过的类别没有可学习的数值含义，编码时返回 UNKNOWN_CATEGORY。
type LabelEncoder struct {
	column  string
	classes []string
	index   map[string]int
}

// FitLabelEncoder 拟合 Label 编码器
func FitLabelEncoder(column string, values []string) *LabelEncoder {
	return newLabelEncoder(column, distinctInOrder(values))
}

func newLabelEncoder(column string, classes []string) *LabelEncoder {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &LabelEncoder{
		column:  column,
		classes: append([]string(nil), classes...),
		index:   index,
	}
}

// Column 返回编码的列名
func (e *LabelEncoder) Column() string { return e.column }

// Classes 返回按编码顺序排列的类别
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// Encode 编码单个类别
func (e *LabelEncoder) Encode(value string) (int, error) {
	code, ok := e.index[value]
	if !ok {
		return 0, core.NewColumnError(core.ModuleEncoder, core.ErrorCodeUnknownCategory, e.column,
			"encoder: unknown category %q for label-encoded column %q", value, e.column)
	}
	return code, nil
}

// Decode 反向查找编码对应的类别
func (e *LabelEncoder) Decode(code int) (string, bool) {
	if code < 0 || code >= len(e.classes) {
		return "", false
	}
	return e.classes[code], true
}

// OneHotEncoder One-Hot 编码（独热编码）
// 第一个出现的类别作为参考类别不输出列，其余每个类别输出一个 "{column}_{value}" 列。
// 参考类别与未见过的类别都编码为全 0。
type OneHotEncoder struct {
	column     string
	categories []string
	index      map[string]int
}

// FitOneHotEncoder 拟合 One-Hot 编码器
func FitOneHotEncoder(column string, values []string) *OneHotEncoder {
	return newOneHotEncoder(column, distinctInOrder(values))
}

func newOneHotEncoder(column string, categories []string) *OneHotEncoder {
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		index[c] = i
	}
	return &OneHotEncoder{
		column:     column,
		categories: append([]string(nil), categories...),
		index:      index,
	}
}

// Column 返回编码的列名
func (e *OneHotEncoder) Column() string { return e.column }

// Categories 返回训练时的类别（首次出现顺序）
func (e *OneHotEncoder) Categories() []string {
	return append([]string(nil), e.categories...)
}

// Reference 返回参考类别（被丢弃的第一个类别）
func (e *OneHotEncoder) Reference() string {
	if len(e.categories) == 0 {
		return ""
	}
	return e.categories[0]
}

// FeatureNames 返回输出列名（不含参考类别）
func (e *OneHotEncoder) FeatureNames() []string {
	if len(e.categories) <= 1 {
		return nil
	}
	names := make([]string, 0, len(e.categories)-1)
	for _, c := range e.categories[1:] {
		names = append(names, OneHotName(e.column, c))
	}
	return names
}

// Width 返回输出列数
func (e *OneHotEncoder) Width() int {
	if len(e.categories) == 0 {
		return 0
	}
	return len(e.categories) - 1
}

// EncodeInto 将 value 编码写入 dst（长度为 Width），seen 为 false 表示类别未见过
func (e *OneHotEncoder) EncodeInto(dst []float64, value string) (seen bool) {
	for i := range dst {
		dst[i] = 0
	}
	idx, ok := e.index[value]
	if !ok {
		return false
	}
	if idx > 0 {
		dst[idx-1] = 1
	}
	return true
}

// distinctInOrder 按首次出现顺序去重
func distinctInOrder(values []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
