package ml

import (
	"errors"
	"fmt"
)

// MLModel evaluates one preprocessed row.
type MLModel interface {
	Predict(features []float64) (float64, error)
	FeatureCount() int
}

// Model couples a regressor with the metadata stored in its artifact.
type Model struct {
	version     string
	modelType   string
	names       []string
	residualStd float64
	importance  map[string]float64
	regressor   MLModel
}

func (m *Model) Version() string {
	return m.version
}

func (m *Model) Type() string {
	return m.modelType
}

func (m *Model) FeatureNames() []string {
	return append([]string(nil), m.names...)
}

func (m *Model) ResidualStd() float64 {
	return m.residualStd
}

func (m *Model) FeatureImportance() map[string]float64 {
	if m.importance == nil {
		return nil
	}
	out := make(map[string]float64, len(m.importance))
	for k, v := range m.importance {
		out[k] = v
	}
	return out
}

func (m *Model) Predict(features []float64) (float64, error) {
	return m.regressor.Predict(features)
}

type LinearModel struct {
	intercept    float64
	coefficients []float64
}

func NewLinearModel(intercept float64, coefficients []float64) (*LinearModel, error) {
	if len(coefficients) == 0 {
		return nil, errors.New("coefficients is empty")
	}
	if !allFinite(coefficients) || !allFinite([]float64{intercept}) {
		return nil, errors.New("coefficients must be finite")
	}
	return &LinearModel{
		intercept:    intercept,
		coefficients: append([]float64(nil), coefficients...),
	}, nil
}

func (lm *LinearModel) Predict(features []float64) (float64, error) {
	if len(features) != len(lm.coefficients) {
		return 0, fmt.Errorf("feature shape mismatch: got %d columns, want %d", len(features), len(lm.coefficients))
	}
	sum := lm.intercept
	for i, coef := range lm.coefficients {
		sum += coef * features[i]
	}
	return sum, nil
}

func (lm *LinearModel) FeatureCount() int {
	return len(lm.coefficients)
}
