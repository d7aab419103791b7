package feature

import (
	"gonum.org/v1/gonum/mat"
)

// Matrix 是编码后的特征矩阵：按 Columns 顺序排列的行主序数值。
type Matrix struct {
	columns []string
	index   map[string]int
	rows    int
	data    []float64
}

func newMatrix(columns []string, index map[string]int, rows int) *Matrix {
	return &Matrix{
		columns: columns,
		index:   index,
		rows:    rows,
		data:    make([]float64, rows*len(columns)),
	}
}

// Columns 返回列名（特征顺序）
func (m *Matrix) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Rows 返回行数
func (m *Matrix) Rows() int { return m.rows }

// Cols 返回列数
func (m *Matrix) Cols() int { return len(m.columns) }

// Row 返回第 i 行的副本
func (m *Matrix) Row(i int) []float64 {
	cols := len(m.columns)
	return append([]float64(nil), m.data[i*cols:(i+1)*cols]...)
}

// At 按列名读取第 i 行的值
func (m *Matrix) At(i int, column string) (float64, bool) {
	j, ok := m.index[column]
	if !ok || i < 0 || i >= m.rows {
		return 0, false
	}
	return m.data[i*len(m.columns)+j], true
}

// RowMap 以 列名 -> 值 的形式返回第 i 行
func (m *Matrix) RowMap(i int) map[string]float64 {
	out := make(map[string]float64, len(m.columns))
	row := m.rowView(i)
	for j, col := range m.columns {
		out[col] = row[j]
	}
	return out
}

// Instances 返回 [][]float64 形式的矩阵（供 core.MLPredictRequest 使用）
func (m *Matrix) Instances() [][]float64 {
	out := make([][]float64, m.rows)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// Dense 返回 gonum 稠密矩阵视图的副本；0 行矩阵返回 nil
func (m *Matrix) Dense() *mat.Dense {
	if m.rows == 0 || len(m.columns) == 0 {
		return nil
	}
	return mat.NewDense(m.rows, len(m.columns), append([]float64(nil), m.data...))
}

func (m *Matrix) rowView(i int) []float64 {
	cols := len(m.columns)
	return m.data[i*cols : (i+1)*cols]
}
