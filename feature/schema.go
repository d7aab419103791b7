package feature

import (
	"fmt"

	"github.com/rushteam/carprice/core"
)

// 训练数据列名，编码器的列名契约按字节精确匹配
const (
	ColumnTitle            = "title"
	ColumnMileage          = "Mileage(miles)"
	ColumnRegistrationYear = "Registration_Year"
	ColumnPreviousOwners   = "Previous Owners"
	ColumnFuelType         = "Fuel type"
	ColumnBodyType         = "Body type"
	ColumnEngine           = "Engine"
	ColumnGearbox          = "Gearbox"
	ColumnDoors            = "Doors"
	ColumnSeats            = "Seats"
	ColumnEmissionClass    = "Emission Class"
	ColumnBrand            = "Brand"

	// ColumnPrice 是训练目标列
	ColumnPrice = "Price"
)

// Row 是一条车辆挂牌记录：列名 -> 值。
// 类别列取 string（其他类型按 %v 格式化），数值列取 float64/int 等数值类型。
type Row map[string]any

// Schema 描述各列的编码方式以及训练时的列顺序。
type Schema struct {
	// Columns 训练数据的列顺序（不含目标列），决定直通列与 Label 列的输出位置
	Columns []string `json:"columns" yaml:"columns"`
	// TargetEncoded 目标编码列（高基数自由文本）
	TargetEncoded string `json:"target_encoded" yaml:"target_encoded"`
	// LabelEncoded Label 编码列，原位替换为整数编码
	LabelEncoded []string `json:"label_encoded" yaml:"label_encoded"`
	// OneHot One-Hot 编码列，按此顺序输出，每列丢弃参考类别
	OneHot []string `json:"one_hot" yaml:"one_hot"`
	// Target 目标列名
	Target string `json:"target" yaml:"target"`
}

// CarListingSchema 返回二手车挂牌数据的默认 Schema
func CarListingSchema() Schema {
	return Schema{
		Columns: []string{
			ColumnTitle,
			ColumnMileage,
			ColumnRegistrationYear,
			ColumnPreviousOwners,
			ColumnFuelType,
			ColumnBodyType,
			ColumnEngine,
			ColumnGearbox,
			ColumnDoors,
			ColumnSeats,
			ColumnEmissionClass,
			ColumnBrand,
		},
		TargetEncoded: ColumnTitle,
		LabelEncoded:  []string{ColumnGearbox},
		OneHot:        []string{ColumnFuelType, ColumnBodyType, ColumnBrand},
		Target:        ColumnPrice,
	}
}

// Validate 校验 Schema：每个编码列都必须出现在 Columns 中，且每列只能有一种角色
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return invalidSchema("columns is empty")
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if col == "" {
			return invalidSchema("empty column name")
		}
		if seen[col] {
			return invalidSchema("duplicate column %q", col)
		}
		seen[col] = true
	}
	if s.TargetEncoded == "" {
		return invalidSchema("target encoded column is required")
	}

	roles := make(map[string]string)
	assign := func(col, role string) error {
		if !seen[col] {
			return invalidSchema("%s column %q not in columns", role, col)
		}
		if prev, ok := roles[col]; ok {
			return invalidSchema("column %q is both %s and %s", col, prev, role)
		}
		roles[col] = role
		return nil
	}
	if err := assign(s.TargetEncoded, "target encoded"); err != nil {
		return err
	}
	for _, col := range s.LabelEncoded {
		if err := assign(col, "label encoded"); err != nil {
			return err
		}
	}
	for _, col := range s.OneHot {
		if err := assign(col, "one-hot"); err != nil {
			return err
		}
	}
	if s.Target != "" && seen[s.Target] {
		return invalidSchema("target column %q must not be a feature column", s.Target)
	}
	return nil
}

// NumericColumns 返回直通的数值列（按训练列顺序）
func (s Schema) NumericColumns() []string {
	categorical := make(map[string]bool, 1+len(s.LabelEncoded)+len(s.OneHot))
	categorical[s.TargetEncoded] = true
	for _, col := range s.LabelEncoded {
		categorical[col] = true
	}
	for _, col := range s.OneHot {
		categorical[col] = true
	}
	numeric := make([]string, 0, len(s.Columns))
	for _, col := range s.Columns {
		if !categorical[col] {
			numeric = append(numeric, col)
		}
	}
	return numeric
}

func (s Schema) isLabel(col string) bool {
	for _, c := range s.LabelEncoded {
		if c == col {
			return true
		}
	}
	return false
}

func (s Schema) isOneHot(col string) bool {
	for _, c := range s.OneHot {
		if c == col {
			return true
		}
	}
	return false
}

func (s Schema) clone() Schema {
	return Schema{
		Columns:       append([]string(nil), s.Columns...),
		TargetEncoded: s.TargetEncoded,
		LabelEncoded:  append([]string(nil), s.LabelEncoded...),
		OneHot:        append([]string(nil), s.OneHot...),
		Target:        s.Target,
	}
}

// TargetEncodedName 返回目标编码输出列名，如 "title_encoded"
func TargetEncodedName(column string) string {
	return column + "_encoded"
}

// OneHotName 返回 One-Hot 输出列名，如 "Fuel type_Diesel"
func OneHotName(column, value string) string {
	return column + "_" + value
}

func invalidSchema(format string, args ...any) error {
	return core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInvalidInput,
		fmt.Sprintf("encoder: invalid schema: "+format, args...))
}
