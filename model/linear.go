package model

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/carprice/core"
)

// LinearModel 线性回归模型：price = Intercept + sum(Coefficient_i * Feature_i)。
//
// 系数以特征名为键保存，构建时按编码器输出顺序对齐成向量，
// 系数集合必须与特征名集合完全一致，多一个少一个都视为不兼容。
type LinearModel struct {
	name      string
	version   string
	intercept float64
	features  []string
	weights   *mat.VecDense
}

// NewLinearModel 构建线性模型并绑定特征顺序
func NewLinearModel(spec Spec, featureNames []string) (*LinearModel, error) {
	if len(featureNames) == 0 {
		return nil, incompatible("model: linear model needs at least one feature")
	}
	weights := make([]float64, len(featureNames))
	for i, name := range featureNames {
		w, ok := spec.Coefficients[name]
		if !ok {
			return nil, incompatible("model: no coefficient for feature %q", name)
		}
		weights[i] = w
	}
	if len(spec.Coefficients) != len(featureNames) {
		return nil, incompatible("model: coefficients for unknown features: %v", extraKeys(spec.Coefficients, featureNames))
	}

	name := spec.Name
	if name == "" {
		name = TypeLinear
	}
	return &LinearModel{
		name:      name,
		version:   spec.Version,
		intercept: spec.Intercept,
		features:  append([]string(nil), featureNames...),
		weights:   mat.NewVecDense(len(weights), weights),
	}, nil
}

func (m *LinearModel) Name() string { return m.name }

// Predict 计算 X·w + b。请求携带 FeatureNames 时必须与绑定顺序一致。
func (m *LinearModel) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	if req == nil || len(req.Instances) == 0 {
		return &core.MLPredictResponse{Predictions: []float64{}, ModelVersion: m.version}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.FeatureNames != nil && !sameOrder(req.FeatureNames, m.features) {
		return nil, incompatible("model: request feature order differs from model feature order")
	}

	cols := len(m.features)
	data := make([]float64, 0, len(req.Instances)*cols)
	for i, inst := range req.Instances {
		if len(inst) != cols {
			return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput,
				fmt.Sprintf("model: instance %d has %d features, want %d", i, len(inst), cols))
		}
		data = append(data, inst...)
	}

	x := mat.NewDense(len(req.Instances), cols, data)
	var y mat.VecDense
	y.MulVec(x, m.weights)

	preds := make([]float64, len(req.Instances))
	for i := range preds {
		preds[i] = y.AtVec(i) + m.intercept
	}
	return &core.MLPredictResponse{Predictions: preds, ModelVersion: m.version}, nil
}

// Features 返回绑定的特征顺序
func (m *LinearModel) Features() []string {
	return append([]string(nil), m.features...)
}

// Coefficient 返回某个特征的系数
func (m *LinearModel) Coefficient(feature string) (float64, bool) {
	for i, f := range m.features {
		if f == feature {
			return m.weights.AtVec(i), true
		}
	}
	return 0, false
}

func (m *LinearModel) Health(ctx context.Context) error { return nil }

func (m *LinearModel) Close(ctx context.Context) error { return nil }

func extraKeys(coefficients map[string]float64, featureNames []string) []string {
	known := make(map[string]struct{}, len(featureNames))
	for _, n := range featureNames {
		known[n] = struct{}{}
	}
	var extra []string
	for k := range coefficients {
		if _, ok := known[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
