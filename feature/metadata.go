package feature

import (
	"time"

	"github.com/rushteam/carprice/core"
)

// FeatureMetadata 特征元数据，描述模型消费的输入列契约
type FeatureMetadata struct {
	// FeatureColumns 特征列名列表（按顺序）
	FeatureColumns []string `json:"feature_columns"`
	// FeatureCount 特征数量
	FeatureCount int `json:"feature_count"`
	// LabelColumn 标签列名
	LabelColumn string `json:"label_column"`
	// ModelVersion 模型版本
	ModelVersion string `json:"model_version"`
	// Fingerprint 特征顺序指纹
	Fingerprint string `json:"fingerprint"`
	// Reference 每个 One-Hot 列的参考类别（全 0 编码）
	Reference map[string]string `json:"reference_categories"`
	// TrainingRows 训练行数
	TrainingRows int `json:"training_rows"`
	// TargetStats 训练目标分布
	TargetStats *FeatureStatistics `json:"target_stats,omitempty"`
	// CreatedAt 创建时间
	CreatedAt string `json:"created_at"`
}

// MetadataFromEncoder 从已拟合的编码器生成特征元数据
func MetadataFromEncoder(enc *CategoricalEncoder, modelVersion string) (*FeatureMetadata, error) {
	state, err := enc.State()
	if err != nil {
		return nil, err
	}
	ref := make(map[string]string, len(state.OneHotVocabularies))
	for col, vocab := range state.OneHotVocabularies {
		if len(vocab) > 0 {
			ref[col] = vocab[0]
		}
	}
	return &FeatureMetadata{
		FeatureColumns: state.FeatureNames,
		FeatureCount:   len(state.FeatureNames),
		LabelColumn:    state.Schema.Target,
		ModelVersion:   modelVersion,
		Fingerprint:    state.Fingerprint,
		Reference:      ref,
		TrainingRows:   state.TrainingRows,
		TargetStats:    state.TargetStats,
		CreatedAt:      state.FittedAt.Format(time.RFC3339),
	}, nil
}

// GetMissingFeatures 返回缺失的特征列
func (m *FeatureMetadata) GetMissingFeatures(features map[string]float64) []string {
	var missing []string
	for _, col := range m.FeatureColumns {
		if _, ok := features[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// BuildFeatureVector 按 feature_columns 顺序构建特征向量。
// 缺失特征不做填充，返回 MISSING_COLUMN。
func (m *FeatureMetadata) BuildFeatureVector(features map[string]float64) ([]float64, error) {
	vector := make([]float64, len(m.FeatureColumns))
	for i, col := range m.FeatureColumns {
		v, ok := features[col]
		if !ok {
			return nil, missingColumn(col)
		}
		vector[i] = v
	}
	return vector, nil
}

// CheckCompatible 确认一组特征列与元数据的列契约完全一致（集合与顺序）
func (m *FeatureMetadata) CheckCompatible(columns []string) error {
	if !equalStrings(m.FeatureColumns, columns) {
		return core.NewDomainError(core.ModuleBundle, core.ErrorCodeIncompatibleBundle,
			"feature columns do not match the fitted feature order")
	}
	return nil
}
