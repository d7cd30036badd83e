// Package pipeline 实现房价预测流水线：输入校验、特征工程、模型调用与批处理编排
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"houseprice/ml"
)

// ErrorKind 错误类别，供边界层映射状态码
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation_error"
	KindPrediction   ErrorKind = "prediction_error"
	KindArtifactLoad ErrorKind = "artifact_load_error"
	KindBatchSize    ErrorKind = "batch_size_error"
	KindNotReady     ErrorKind = "not_ready"
	KindInternal     ErrorKind = "internal_error"
)

// ErrNotReady 模型产物尚未加载完成
var ErrNotReady = errors.New("predictor not ready")

// FieldError 单个字段的校验失败
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError 记录中所有失败字段
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		if f.Field == "" {
			parts[i] = f.Reason
			continue
		}
		parts[i] = f.Field + ": " + f.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// BatchSizeError 批量请求超过上限
type BatchSizeError struct {
	Size int
	Max  int
}

func (e *BatchSizeError) Error() string {
	return fmt.Sprintf("batch of %d records exceeds the maximum of %d", e.Size, e.Max)
}

// ErrorDescriptor 结构化错误描述
type ErrorDescriptor struct {
	Kind    ErrorKind    `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// Describe 将错误映射为结构化描述
func Describe(err error) ErrorDescriptor {
	var validationErr *ValidationError
	var predictionErr *ml.PredictionError
	var loadErr *ml.ArtifactLoadError
	var sizeErr *BatchSizeError

	switch {
	case err == nil:
		return ErrorDescriptor{}
	case errors.As(err, &validationErr):
		return ErrorDescriptor{
			Kind:    KindValidation,
			Message: err.Error(),
			Fields:  append([]FieldError(nil), validationErr.Fields...),
		}
	case errors.As(err, &predictionErr):
		return ErrorDescriptor{Kind: KindPrediction, Message: err.Error()}
	case errors.As(err, &loadErr):
		return ErrorDescriptor{Kind: KindArtifactLoad, Message: err.Error()}
	case errors.As(err, &sizeErr):
		return ErrorDescriptor{Kind: KindBatchSize, Message: err.Error()}
	case errors.Is(err, ErrNotReady):
		return ErrorDescriptor{Kind: KindNotReady, Message: err.Error()}
	default:
		return ErrorDescriptor{Kind: KindInternal, Message: err.Error()}
	}
}
