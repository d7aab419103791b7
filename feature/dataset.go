package feature

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadTrainingCSV 读取带表头的训练 CSV，返回行与目标值。
// 表头必须包含 Schema.Columns 的所有列以及目标列；其余列忽略。
// 数值列解析为 float64，类别列保留原始字符串。
func ReadTrainingCSV(r io.Reader, schema Schema) ([]Row, []float64, error) {
	if err := schema.Validate(); err != nil {
		return nil, nil, err
	}
	if schema.Target == "" {
		return nil, nil, invalidTraining("", "encoder: schema has no target column")
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, invalidTraining("", "encoder: read csv header: %v", err)
	}
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[strings.TrimSpace(name)] = i
	}
	for _, col := range append(append([]string(nil), schema.Columns...), schema.Target) {
		if _, ok := pos[col]; !ok {
			return nil, nil, invalidTraining(col, "encoder: csv header lacks column %q", col)
		}
	}

	numeric := make(map[string]bool)
	for _, col := range schema.NumericColumns() {
		numeric[col] = true
	}

	var (
		rows    []Row
		targets []float64
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, invalidTraining("", "encoder: read csv line %d: %v", line, err)
		}

		row := make(Row, len(schema.Columns))
		for _, col := range schema.Columns {
			raw := strings.TrimSpace(record[pos[col]])
			if !numeric[col] {
				row[col] = raw
				continue
			}
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, nil, invalidTraining(col, "encoder: line %d: column %q: %v", line, col, err)
			}
			row[col] = f
		}

		target, err := strconv.ParseFloat(strings.TrimSpace(record[pos[schema.Target]]), 64)
		if err != nil {
			return nil, nil, invalidTraining(schema.Target, "encoder: line %d: target: %v", line, err)
		}
		rows = append(rows, row)
		targets = append(targets, target)
	}

	if len(rows) == 0 {
		return nil, nil, invalidTraining("", "encoder: csv has no data rows")
	}
	return rows, targets, nil
}

// WriteEncodedCSV 将编码矩阵（附目标列）写为 CSV，供外部训练脚本使用
func WriteEncodedCSV(w io.Writer, m *Matrix, targetName string, targets []float64) error {
	if targets != nil && len(targets) != m.Rows() {
		return fmt.Errorf("targets length %d does not match matrix rows %d", len(targets), m.Rows())
	}
	writer := csv.NewWriter(w)
	header := m.Columns()
	if targets != nil {
		header = append(header, targetName)
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for i := 0; i < m.Rows(); i++ {
		for j, v := range m.rowView(i) {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if targets != nil {
			record[len(record)-1] = strconv.FormatFloat(targets[i], 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
