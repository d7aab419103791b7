package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultRidge 默认 L2 正则强度。训练集中常有取值恒定的列（如 Doors），
// 不加正则时 XᵀX 奇异。
const DefaultRidge = 1e-6

// FitLinear 用岭回归拟合线性模型：(XᵀX + λI)w = Xᵀy，截距不参与正则。
// x 的列顺序与 featureNames 一致，返回可直接放进模型包的 Spec。
func FitLinear(x *mat.Dense, featureNames []string, y []float64, lambda float64) (Spec, error) {
	rows, cols := x.Dims()
	if cols != len(featureNames) {
		return Spec{}, fmt.Errorf("model: matrix has %d columns, %d feature names", cols, len(featureNames))
	}
	if rows != len(y) {
		return Spec{}, fmt.Errorf("model: matrix has %d rows, %d targets", rows, len(y))
	}
	if rows == 0 {
		return Spec{}, fmt.Errorf("model: no training rows")
	}
	if lambda < 0 {
		return Spec{}, fmt.Errorf("model: ridge lambda must be >= 0, got %v", lambda)
	}

	// 第 0 列为截距
	design := mat.NewDense(rows, cols+1, nil)
	for i := 0; i < rows; i++ {
		design.Set(i, 0, 1)
		for j := 0; j < cols; j++ {
			design.Set(i, j+1, x.At(i, j))
		}
	}

	var gram mat.Dense
	gram.Mul(design.T(), design)
	for j := 1; j <= cols; j++ {
		gram.Set(j, j, gram.At(j, j)+lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(design.T(), mat.NewVecDense(rows, append([]float64(nil), y...)))

	var w mat.VecDense
	// mat.Condition 只表示病态，结果仍可用
	var cond mat.Condition
	if err := w.SolveVec(&gram, &rhs); err != nil && !errors.As(err, &cond) {
		return Spec{}, fmt.Errorf("model: solve normal equations: %w", err)
	}

	coefs := make(map[string]float64, cols)
	for j, name := range featureNames {
		coefs[name] = w.AtVec(j + 1)
	}
	return Spec{Type: TypeLinear, Intercept: w.AtVec(0), Coefficients: coefs}, nil
}
