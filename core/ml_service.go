package core

import "context"

// MLService 是回归模型的领域接口，对编码器而言模型是不透明的 predict(matrix) -> price。
//
// 设计原则：
//   - 定义在领域层（core），由 model 包实现
//   - 只接收按特征顺序排列好的数值矩阵，不理解特征含义
//
// 实现：
//   - model.LinearModel 本地线性回归
//   - model.RPCModel 远程模型服务（本服务 JSON 协议或 KServe V1/V2）
type MLService interface {
	// Name 返回模型名称（用于日志/监控）
	Name() string

	// Predict 批量预测
	Predict(ctx context.Context, req *MLPredictRequest) (*MLPredictResponse, error)

	// Health 健康检查
	Health(ctx context.Context) error

	// Close 关闭连接
	Close(ctx context.Context) error
}

// MLPredictRequest 预测请求
type MLPredictRequest struct {
	// Instances 特征实例列表（每个实例是一个特征向量）
	// 格式：[[f1, f2, f3, ...], [f1, f2, f3, ...], ...]
	Instances [][]float64

	// FeatureNames 与 Instances 列一一对应的特征名
	FeatureNames []string

	// ModelVersion 模型版本（可选）
	ModelVersion string
}

// MLPredictResponse 预测响应
type MLPredictResponse struct {
	// Predictions 预测结果列表（与请求实例一一对应）
	Predictions []float64

	// ModelVersion 模型版本（如果服务返回）
	ModelVersion string
}
