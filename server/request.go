package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/rushteam/carprice/feature"
)

// DefaultPreviousOwners 请求未提供 Previous_Owners 时使用的值
const DefaultPreviousOwners = 1.0

// CarFeatures 是 /predict 的请求体。
// 表单字段名不能含空格和括号，ToRow 会把它们改写回训练列名。
type CarFeatures struct {
	Title            string   `json:"title" validate:"required"`
	MileageMiles     *float64 `json:"Mileage_miles" validate:"required,gte=0"`
	RegistrationYear *int     `json:"Registration_Year" validate:"required,gte=1900,lte=2100"`
	PreviousOwners   *float64 `json:"Previous_Owners" validate:"omitempty,gte=0"`
	FuelType         string   `json:"Fuel_type" validate:"required"`
	BodyType         string   `json:"Body_type" validate:"required"`
	Engine           *float64 `json:"Engine" validate:"required,gte=0"`
	Gearbox          string   `json:"Gearbox" validate:"required"`
	Doors            *float64 `json:"Doors" validate:"required,gte=0"`
	Seats            *float64 `json:"Seats" validate:"required,gte=0"`
	EmissionClass    *int     `json:"Emission_Class" validate:"required,gte=0"`
	Brand            string   `json:"Brand" validate:"required"`
}

// BatchRequest 是 /predict/batch 的请求体
type BatchRequest struct {
	Instances []CarFeatures `json:"instances" validate:"required,min=1,dive"`
}

// ToRow 把请求字段映射到训练列名：
//
//	Mileage_miles   -> Mileage(miles)
//	Previous_Owners -> Previous Owners（缺省 1.0）
//	Fuel_type       -> Fuel type
//	Body_type       -> Body type
//	Emission_Class  -> Emission Class
func (c *CarFeatures) ToRow() feature.Row {
	owners := DefaultPreviousOwners
	if c.PreviousOwners != nil {
		owners = *c.PreviousOwners
	}
	return feature.Row{
		feature.ColumnTitle:            c.Title,
		feature.ColumnMileage:          deref(c.MileageMiles),
		feature.ColumnRegistrationYear: float64(derefInt(c.RegistrationYear)),
		feature.ColumnPreviousOwners:   owners,
		feature.ColumnFuelType:         c.FuelType,
		feature.ColumnBodyType:         c.BodyType,
		feature.ColumnEngine:           deref(c.Engine),
		feature.ColumnGearbox:          c.Gearbox,
		feature.ColumnDoors:            deref(c.Doors),
		feature.ColumnSeats:            deref(c.Seats),
		feature.ColumnEmissionClass:    float64(derefInt(c.EmissionClass)),
		feature.ColumnBrand:            c.Brand,
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 校验错误里使用 JSON 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// requestError 是请求体本身的问题（JSON 格式或字段校验），对应 400
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

// decodeJSON 读取并校验请求体，body 超过 limit 字节视为错误
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return &requestError{msg: fmt.Sprintf("read body: %v", err)}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &requestError{msg: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := validate.Struct(dst); err != nil {
		return &requestError{msg: validationMessage(err)}
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "CarFeatures.")
		field = strings.TrimPrefix(field, "BatchRequest.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
