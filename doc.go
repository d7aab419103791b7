// Package carprice 是二手车挂牌价格预测的特征编码与服务工具包。
//
// 组成：
//   - feature: 类别特征编码器（Target / Label / One-Hot），fit 一次、transform 多次
//   - model: 线性模型与远程模型（带熔断）
//   - bundle: 编码器状态 + 模型描述的发布与热加载
//   - server: HTTP 接口（/predict、/predict/batch、/get_categories、/metadata）
//
// 典型用法：
//
//	enc := carprice.NewEncoder()
//	m, err := enc.FitTransform(rows, prices)
//	...
//	out, err := enc.Transform(newRows)
package carprice

import "github.com/rushteam/carprice/feature"

// 轻量 facade：便于直接 import "carprice" 使用编码器。
type (
	Encoder = feature.CategoricalEncoder
	Row     = feature.Row
	Matrix  = feature.Matrix
	Schema  = feature.Schema
)

// NewEncoder 创建使用车辆挂牌默认 Schema 的编码器
func NewEncoder() *Encoder {
	return feature.NewCategoricalEncoder()
}

// ListingSchema 返回车辆挂牌数据的默认 Schema
func ListingSchema() Schema {
	return feature.CarListingSchema()
}
