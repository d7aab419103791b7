// Package bundle 管理可服务的模型包：{"model": ..., "encoders": ...}。
//
// 模型包把拟合好的编码器状态与模型描述放在同一个文件里发布，
// 加载时校验两者的特征顺序一致，之后整体原子替换。
package bundle

import (
	"fmt"
	"time"

	"github.com/rushteam/carprice/core"
	"github.com/rushteam/carprice/feature"
	"github.com/rushteam/carprice/model"
)

// Bundle 是模型包的持久化形态
type Bundle struct {
	Version     string               `json:"version"`
	CreatedAt   time.Time            `json:"created_at"`
	Fingerprint string               `json:"fingerprint"`
	Model       model.Spec           `json:"model"`
	Encoders    feature.EncoderState `json:"encoders"`
}

// New 用已拟合的编码器与模型描述组装模型包
func New(enc *feature.CategoricalEncoder, spec model.Spec, version string) (*Bundle, error) {
	state, err := enc.State()
	if err != nil {
		return nil, err
	}
	if spec.Version == "" {
		spec.Version = version
	}
	return &Bundle{
		Version:     version,
		CreatedAt:   time.Now().UTC(),
		Fingerprint: state.Fingerprint,
		Model:       spec,
		Encoders:    state,
	}, nil
}

// Served 是加载完成、可直接用于预测的模型包
type Served struct {
	Bundle   *Bundle
	Encoder  *feature.CategoricalEncoder
	Model    core.MLService
	Metadata *feature.FeatureMetadata
	Source   string
	LoadedAt time.Time
}

// Open 恢复编码器、构建模型并完成兼容性校验
func (b *Bundle) Open(source string) (*Served, error) {
	enc, err := feature.NewEncoderFromState(b.Encoders)
	if err != nil {
		return nil, fmt.Errorf("bundle: restore encoders: %w", err)
	}
	if b.Fingerprint != "" && b.Fingerprint != enc.Fingerprint() {
		return nil, core.NewDomainError(core.ModuleBundle, core.ErrorCodeIncompatibleBundle,
			fmt.Sprintf("bundle: fingerprint %s does not match encoders %s", b.Fingerprint, enc.Fingerprint()))
	}

	m, err := model.Build(b.Model, enc.FeatureNames())
	if err != nil {
		return nil, fmt.Errorf("bundle: build model: %w", err)
	}

	version := b.Model.Version
	if version == "" {
		version = b.Version
	}
	meta, err := feature.MetadataFromEncoder(enc, version)
	if err != nil {
		return nil, err
	}
	return &Served{
		Bundle:   b,
		Encoder:  enc,
		Model:    m,
		Metadata: meta,
		Source:   source,
		LoadedAt: time.Now().UTC(),
	}, nil
}
