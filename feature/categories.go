package feature

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Categories 是前端表单可选的类别取值，属于静态元数据，与拟合状态无关。
type Categories struct {
	FuelTypes       []string `json:"fuel_types" yaml:"fuel_types"`
	BodyTypes       []string `json:"body_types" yaml:"body_types"`
	GearboxTypes    []string `json:"gearbox_types" yaml:"gearbox_types"`
	EmissionClasses []int    `json:"emission_classes" yaml:"emission_classes"`
}

// DefaultCategories 返回内置的类别取值
func DefaultCategories() Categories {
	return Categories{
		FuelTypes:       []string{"Petrol", "Diesel", "Petrol Hybrid", "Other"},
		BodyTypes:       []string{"Hatchback", "SUV", "Saloon", "MPV", "Estate", "Coupe", "Convertible", "Other"},
		GearboxTypes:    []string{"Manual", "Automatic"},
		EmissionClasses: []int{1, 2, 3, 4, 5, 6},
	}
}

// LoadCategories 从 YAML 文件加载类别取值，文件中未出现的字段保留默认值
//
// 用法：
//
//	cats, err := feature.LoadCategories("categories.yaml")
func LoadCategories(path string) (Categories, error) {
	cats := DefaultCategories()
	if path == "" {
		return cats, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cats, fmt.Errorf("read categories: %w", err)
	}
	if err := yaml.Unmarshal(data, &cats); err != nil {
		return cats, fmt.Errorf("parse categories yaml: %w", err)
	}
	return cats, nil
}
