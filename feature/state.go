package feature

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rushteam/carprice/core"
)

// EncoderState 是编码器拟合后的全部状态，可序列化进模型包（bundle 的 "encoders" 字段）。
// 拟合完成后只读；重新训练必须产生新的 EncoderState。
type EncoderState struct {
	Schema Schema `json:"schema"`

	// TargetMeans 目标编码列的类别 -> 目标均值
	TargetMeans map[string]float64 `json:"target_means"`
	// GlobalMeanTarget 未见类别的回退值，等于 TargetMeans 各值的均值
	GlobalMeanTarget float64 `json:"global_mean_target"`

	// LabelVocabularies 列 -> 类别列表，下标即编码
	LabelVocabularies map[string][]string `json:"label_vocabularies"`
	// OneHotVocabularies 列 -> 类别列表，第一个为参考类别
	OneHotVocabularies map[string][]string `json:"onehot_vocabularies"`

	// FeatureNames 输出列顺序
	FeatureNames []string `json:"feature_names"`
	// Fingerprint FeatureNames 的 xxhash64 指纹
	Fingerprint string `json:"fingerprint"`

	TrainingRows int                `json:"training_rows"`
	TargetStats  *FeatureStatistics `json:"target_stats,omitempty"`
	FittedAt     time.Time          `json:"fitted_at"`
}

// Clone 深拷贝
func (s EncoderState) Clone() EncoderState {
	out := s
	out.Schema = s.Schema.clone()
	out.TargetMeans = make(map[string]float64, len(s.TargetMeans))
	for k, v := range s.TargetMeans {
		out.TargetMeans[k] = v
	}
	out.LabelVocabularies = cloneVocabularies(s.LabelVocabularies)
	out.OneHotVocabularies = cloneVocabularies(s.OneHotVocabularies)
	out.FeatureNames = append([]string(nil), s.FeatureNames...)
	if s.TargetStats != nil {
		stats := *s.TargetStats
		out.TargetStats = &stats
	}
	return out
}

func cloneVocabularies(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// FingerprintOf 计算特征顺序指纹，模型与编码器通过它确认列契约一致
func FingerprintOf(featureNames []string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(featureNames, "\x1f")))
}

func corruptState(format string, args ...any) error {
	return core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInvalidInput,
		fmt.Sprintf("encoder: invalid state: "+format, args...))
}
