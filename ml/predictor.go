package ml

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// intervalZ is the two-sided 95% normal quantile.
const intervalZ = 1.96

type Prediction struct {
	Price               float64            `json:"predicted_price"`
	ConfidenceInterval  [2]float64         `json:"confidence_interval"`
	FeatureImportance   map[string]float64 `json:"features_importance"`
	ModelVersion        string             `json:"model_version"`
	PreprocessorVersion string             `json:"preprocessor_version"`
}

// Outcome is one element of a batch prediction.
type Outcome struct {
	Prediction Prediction
	Err        error
}

// Predictor owns the loaded artifacts. It holds no mutable state and is safe
// for concurrent use.
type Predictor struct {
	preprocessor *Preprocessor
	model        *Model
	width        int
}

func LoadPredictor(preprocessorPath, modelPath string, layout Layout) (*Predictor, error) {
	preprocessor, err := LoadPreprocessor(preprocessorPath)
	if err != nil {
		return nil, err
	}
	model, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	if err := checkLayout("preprocessor", preprocessor.FeatureNames(), layout); err != nil {
		return nil, &ArtifactLoadError{Artifact: "preprocessor", Path: preprocessorPath, Err: err}
	}
	if err := checkLayout("model", model.FeatureNames(), layout); err != nil {
		return nil, &ArtifactLoadError{Artifact: "model", Path: modelPath, Err: err}
	}
	return NewPredictor(preprocessor, model)
}

// NewPredictor pairs already loaded artifacts; their column names must agree.
func NewPredictor(preprocessor *Preprocessor, model *Model) (*Predictor, error) {
	if preprocessor == nil || model == nil {
		return nil, errors.New("preprocessor and model are required")
	}
	if !slices.Equal(preprocessor.FeatureNames(), model.FeatureNames()) {
		return nil, &ArtifactLoadError{
			Artifact: "model",
			Err:      fmt.Errorf("model columns %v do not match preprocessor columns %v", model.FeatureNames(), preprocessor.FeatureNames()),
		}
	}
	return &Predictor{
		preprocessor: preprocessor,
		model:        model,
		width:        preprocessor.Width(),
	}, nil
}

func checkLayout(artifact string, names []string, layout Layout) error {
	if !slices.Equal(names, layout.Names()) {
		return fmt.Errorf("%s columns %v are incompatible with engineered columns %v", artifact, names, layout.Names())
	}
	return nil
}

func (p *Predictor) Versions() map[string]string {
	return map[string]string{
		"preprocessor": p.preprocessor.Version(),
		"model":        p.model.Version(),
	}
}

func (p *Predictor) Predict(vector FeatureVector) (Prediction, error) {
	row := make([]float64, p.width)
	return p.predictRow(row, vector)
}

// PredictBatch transforms every vector into one contiguous matrix and gives
// each row the same evaluation path as Predict.
func (p *Predictor) PredictBatch(vectors []FeatureVector) []Outcome {
	outcomes := make([]Outcome, len(vectors))
	matrix := make([]float64, len(vectors)*p.width)
	for i, vector := range vectors {
		row := matrix[i*p.width : (i+1)*p.width]
		prediction, err := p.predictRow(row, vector)
		outcomes[i] = Outcome{Prediction: prediction, Err: err}
	}
	return outcomes
}

func (p *Predictor) predictRow(row []float64, vector FeatureVector) (Prediction, error) {
	if err := p.preprocessor.transformInto(row, vector.values); err != nil {
		return Prediction{}, &PredictionError{Reason: "preprocessing failed", Err: err}
	}
	price, err := p.model.Predict(row)
	if err != nil {
		return Prediction{}, &PredictionError{Reason: "model evaluation failed", Err: err}
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Prediction{}, &PredictionError{Reason: "non-finite price", Price: price}
	}
	if price <= 0 {
		return Prediction{}, &PredictionError{Reason: fmt.Sprintf("non-positive price %.2f", price), Price: price}
	}
	return Prediction{
		Price:               price,
		ConfidenceInterval:  p.interval(price),
		FeatureImportance:   p.model.FeatureImportance(),
		ModelVersion:        p.model.Version(),
		PreprocessorVersion: p.preprocessor.Version(),
	}, nil
}

func (p *Predictor) interval(price float64) [2]float64 {
	half := intervalZ * p.model.ResidualStd()
	if half == 0 {
		half = price * 0.01
	}
	lower := price - half
	if lower < 0 {
		lower = 0
	}
	return [2]float64{lower, price + half}
}
