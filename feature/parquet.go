package feature

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// WriteEncodedParquet 将编码矩阵（附目标列）写为 zstd 压缩的 Parquet 文件。
// 每个特征列都是 required DOUBLE；列名与 Matrix.Columns 一致。
func WriteEncodedParquet(w io.Writer, m *Matrix, targetName string, targets []float64) error {
	if targets != nil && len(targets) != m.Rows() {
		return fmt.Errorf("targets length %d does not match matrix rows %d", len(targets), m.Rows())
	}

	names := m.Columns()
	if targets != nil {
		names = append(names, targetName)
	}
	group := make(parquet.Group, len(names))
	for _, name := range names {
		if _, dup := group[name]; dup {
			return fmt.Errorf("duplicate parquet column %q", name)
		}
		group[name] = parquet.Leaf(parquet.DoubleType)
	}
	schema := parquet.NewSchema("encoded_listing", group)

	// Group 按列名排序，写入时按 schema 的叶子顺序取值
	leafIndex := make(map[string]int, len(names))
	for i, path := range schema.Columns() {
		leafIndex[path[0]] = i
	}
	order := make([]int, len(names))
	for j, name := range names {
		order[j] = leafIndex[name]
	}

	writer := parquet.NewWriter(w, schema,
		parquet.Compression(&parquet.Zstd),
		parquet.CreatedBy("carprice-fit", "1", ""),
	)
	rows := make([]parquet.Row, 0, m.Rows())
	for i := 0; i < m.Rows(); i++ {
		row := make(parquet.Row, len(names))
		for j, v := range m.rowView(i) {
			row[order[j]] = parquet.ValueOf(v).Level(0, 0, order[j])
		}
		if targets != nil {
			last := len(names) - 1
			row[order[last]] = parquet.ValueOf(targets[i]).Level(0, 0, order[last])
		}
		rows = append(rows, row)
	}
	if _, err := writer.WriteRows(rows); err != nil {
		writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
