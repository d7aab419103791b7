package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/carprice/core"
)

// 模型类型
const (
	TypeLinear = "linear"
	TypeRPC    = "rpc"
	TypeKServe = "kserve"
)

// Spec 描述 bundle 中 "model" 字段：模型类型及其参数。
//
// linear：
//
//	{"type": "linear", "version": "v3", "intercept": 1200.5, "coefficients": {"Engine": 3100.2, ...}}
//
// rpc：
//
//	{"type": "rpc", "endpoint": "http://model:8080/predict", "timeout_ms": 800}
//
// kserve：
//
//	{"type": "kserve", "endpoint": "http://kserve:8080", "model_name": "carprice", "protocol": "v2"}
type Spec struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`

	// linear
	Intercept    float64            `json:"intercept,omitempty"`
	Coefficients map[string]float64 `json:"coefficients,omitempty"`

	// rpc
	Endpoint       string `json:"endpoint,omitempty"`
	HealthEndpoint string `json:"health_endpoint,omitempty"`
	TimeoutMs      int    `json:"timeout_ms,omitempty"`

	// kserve
	ModelName     string `json:"model_name,omitempty"`
	RemoteVersion string `json:"remote_version,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	InputName     string `json:"input_name,omitempty"`
	OutputName    string `json:"output_name,omitempty"`
}

// Builder 根据 Spec 与编码器输出的特征顺序构建模型。
// 构建时即完成与特征顺序的绑定，不兼容时返回 INCOMPATIBLE_BUNDLE。
type Builder func(spec Spec, featureNames []string) (core.MLService, error)

var (
	builders   = make(map[string]Builder)
	buildersMu sync.RWMutex
)

func init() {
	Register(TypeLinear, func(spec Spec, featureNames []string) (core.MLService, error) {
		return NewLinearModel(spec, featureNames)
	})
	Register(TypeRPC, func(spec Spec, featureNames []string) (core.MLService, error) {
		return NewRPCModel(spec, featureNames)
	})
	Register(TypeKServe, func(spec Spec, featureNames []string) (core.MLService, error) {
		return NewKServeModel(spec, featureNames)
	})
}

// Register 注册一种模型类型的构建逻辑，重复注册会覆盖
func Register(typeName string, builder Builder) {
	if typeName == "" || builder == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[typeName] = builder
}

// SupportedTypes 返回已注册的模型类型（排序）
func SupportedTypes() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build 按 spec.Type 查找构建器并构建模型
func Build(spec Spec, featureNames []string) (core.MLService, error) {
	buildersMu.RLock()
	builder, ok := builders[spec.Type]
	buildersMu.RUnlock()
	if !ok {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotSupported,
			fmt.Sprintf("model: unsupported type %q (supported: %v)", spec.Type, SupportedTypes()))
	}
	return builder(spec, featureNames)
}

func incompatible(format string, args ...any) error {
	return core.NewDomainError(core.ModuleBundle, core.ErrorCodeIncompatibleBundle, fmt.Sprintf(format, args...))
}
