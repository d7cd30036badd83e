package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"houseprice/ml"
)

// 字段名
const (
	FieldSqft      = "sqft"
	FieldBedrooms  = "bedrooms"
	FieldBathrooms = "bathrooms"
	FieldLocation  = "location"
	FieldYearBuilt = "year_built"
	FieldCondition = "condition"
)

const reasonRequired = "field required"

var (
	errNotNumber  = errors.New("must be a number")
	errNotFinite  = errors.New("must be a finite number")
	errNotInteger = errors.New("must be an integer")
	errNotString  = errors.New("must be a string")
)

// maxExactInt 超过该值的浮点数无法精确表示整数
const maxExactInt = 1 << 53

// ValidationRules 校验规则配置，枚举与边界均由外部提供
type ValidationRules struct {
	Locations    []string
	Conditions   []string
	SqftMin      float64
	BedroomsMin  int
	BathroomsMin float64
	YearBuiltMin int
	Now          func() time.Time
}

// Validator 输入校验器，将无类型输入转换为 ml.HouseRecord
type Validator struct {
	rules      ValidationRules
	locations  map[string]struct{}
	conditions map[string]struct{}
}

// NewValidator 创建校验器
func NewValidator(rules ValidationRules) (*Validator, error) {
	locations, err := enumSet("locations", rules.Locations)
	if err != nil {
		return nil, err
	}
	conditions, err := enumSet("conditions", rules.Conditions)
	if err != nil {
		return nil, err
	}
	if rules.Now == nil {
		rules.Now = time.Now
	}
	rules.Locations = append([]string(nil), rules.Locations...)
	rules.Conditions = append([]string(nil), rules.Conditions...)
	return &Validator{rules: rules, locations: locations, conditions: conditions}, nil
}

func enumSet(name string, values []string) (map[string]struct{}, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%s must not be empty", name)
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			return nil, fmt.Errorf("%s contains an empty value", name)
		}
		if _, ok := set[v]; ok {
			return nil, fmt.Errorf("%s contains duplicate %q", name, v)
		}
		set[v] = struct{}{}
	}
	return set, nil
}

// Validate 校验一条原始记录；所有字段的错误都会被收集
func (v *Validator) Validate(raw map[string]any) (ml.HouseRecord, error) {
	if raw == nil {
		return ml.HouseRecord{}, &ValidationError{Fields: []FieldError{{Reason: "record must be an object"}}}
	}

	var record ml.HouseRecord
	var fields []FieldError
	fail := func(field, reason string) {
		fields = append(fields, FieldError{Field: field, Reason: reason})
	}

	if value, ok := present(raw, FieldSqft); !ok {
		fail(FieldSqft, reasonRequired)
	} else if sqft, err := toFloat(value); err != nil {
		fail(FieldSqft, err.Error())
	} else if sqft <= v.rules.SqftMin {
		fail(FieldSqft, fmt.Sprintf("must be greater than %s", formatBound(v.rules.SqftMin)))
	} else {
		record.Sqft = sqft
	}

	if value, ok := present(raw, FieldBedrooms); !ok {
		fail(FieldBedrooms, reasonRequired)
	} else if bedrooms, err := toInt(value); err != nil {
		fail(FieldBedrooms, err.Error())
	} else if bedrooms < v.rules.BedroomsMin {
		fail(FieldBedrooms, fmt.Sprintf("must be greater than or equal to %d", v.rules.BedroomsMin))
	} else {
		record.Bedrooms = bedrooms
	}

	if value, ok := present(raw, FieldBathrooms); !ok {
		fail(FieldBathrooms, reasonRequired)
	} else if bathrooms, err := toFloat(value); err != nil {
		fail(FieldBathrooms, err.Error())
	} else if bathrooms < v.rules.BathroomsMin {
		fail(FieldBathrooms, fmt.Sprintf("must be greater than or equal to %s", formatBound(v.rules.BathroomsMin)))
	} else {
		record.Bathrooms = bathrooms
	}

	if value, ok := present(raw, FieldLocation); !ok {
		fail(FieldLocation, reasonRequired)
	} else if location, err := toString(value); err != nil {
		fail(FieldLocation, err.Error())
	} else if _, ok := v.locations[location]; !ok {
		fail(FieldLocation, "must be one of "+strings.Join(v.rules.Locations, ", "))
	} else {
		record.Location = location
	}

	currentYear := v.rules.Now().Year()
	if value, ok := present(raw, FieldYearBuilt); !ok {
		fail(FieldYearBuilt, reasonRequired)
	} else if year, err := toInt(value); err != nil {
		fail(FieldYearBuilt, err.Error())
	} else if year < v.rules.YearBuiltMin {
		fail(FieldYearBuilt, fmt.Sprintf("must be %d or later", v.rules.YearBuiltMin))
	} else if year > currentYear {
		fail(FieldYearBuilt, "cannot be in the future")
	} else {
		record.YearBuilt = year
	}

	if value, ok := present(raw, FieldCondition); !ok {
		fail(FieldCondition, reasonRequired)
	} else if condition, err := toString(value); err != nil {
		fail(FieldCondition, err.Error())
	} else if _, ok := v.conditions[condition]; !ok {
		fail(FieldCondition, "must be one of "+strings.Join(v.rules.Conditions, ", "))
	} else {
		record.Condition = condition
	}

	if len(fields) > 0 {
		return ml.HouseRecord{}, &ValidationError{Fields: fields}
	}
	return record, nil
}

// present JSON null 视为缺失
func present(raw map[string]any, field string) (any, bool) {
	value, ok := raw[field]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

func toFloat(value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, errNotNumber
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errNotNumber
		}
		f = parsed
	default:
		return 0, errNotNumber
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

func toInt(value any) (int, error) {
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > maxExactInt {
		return 0, errNotInteger
	}
	return int(f), nil
}

func toString(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", errNotString
	}
	return s, nil
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
