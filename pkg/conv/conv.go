// Package conv 提供类型转换工具，用于把 JSON/CSV 解析出的 any 值统一为编码器需要的类型。
package conv

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToFloat64 将 any 转为 float64。
// 支持 float64、float32、int、int64、int32；bool 视为 1.0/0.0。
func ToFloat64(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case bool:
		if val {
			return 1.0, true
		}
		return 0.0, true
	default:
		return 0, false
	}
}

// ParseFloat64 在 ToFloat64 的基础上额外支持数字字符串（CSV 读入的值），
// 拒绝 NaN 与 Inf。
func ParseFloat64(v any) (float64, bool) {
	f, ok := ToFloat64(v)
	if !ok {
		s, isStr := v.(string)
		if !isStr {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToCategory 将类别值统一为字符串：string 原样返回，其他类型按 %v 格式化
func ToCategory(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
