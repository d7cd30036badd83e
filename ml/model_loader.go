package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

const (
	ModelTypeLinear         = "linear"
	ModelTypeRegressionTree = "regression_tree"
)

type modelArtifact struct {
	Version           string             `json:"version"`
	Type              string             `json:"type"`
	FeatureNames      []string           `json:"feature_names"`
	ResidualStd       float64            `json:"residual_std"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	Linear            *struct {
		Intercept    float64   `json:"intercept"`
		Coefficients []float64 `json:"coefficients"`
	} `json:"linear,omitempty"`
	Tree *struct {
		Nodes []TreeNode `json:"nodes"`
	} `json:"tree,omitempty"`
}

func LoadModel(path string) (*Model, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactLoadError{Artifact: "model", Path: path, Err: err}
	}
	var artifact modelArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, &ArtifactLoadError{Artifact: "model", Path: path, Err: err}
	}
	model, err := buildModel(artifact)
	if err != nil {
		return nil, &ArtifactLoadError{Artifact: "model", Path: path, Err: err}
	}
	return model, nil
}

func buildModel(artifact modelArtifact) (*Model, error) {
	if artifact.Version == "" {
		return nil, errors.New("version is required")
	}
	if len(artifact.FeatureNames) == 0 {
		return nil, errors.New("feature_names is empty")
	}
	if artifact.ResidualStd < 0 || math.IsNaN(artifact.ResidualStd) || math.IsInf(artifact.ResidualStd, 0) {
		return nil, errors.New("residual_std must be a finite non-negative number")
	}

	var regressor MLModel
	switch artifact.Type {
	case ModelTypeLinear:
		if artifact.Linear == nil {
			return nil, errors.New("linear parameters missing")
		}
		lm, err := NewLinearModel(artifact.Linear.Intercept, artifact.Linear.Coefficients)
		if err != nil {
			return nil, err
		}
		regressor = lm
	case ModelTypeRegressionTree:
		if artifact.Tree == nil {
			return nil, errors.New("tree parameters missing")
		}
		rt, err := NewRegressionTree(artifact.Tree.Nodes, len(artifact.FeatureNames))
		if err != nil {
			return nil, err
		}
		regressor = rt
	default:
		return nil, fmt.Errorf("unsupported model type %q", artifact.Type)
	}

	if regressor.FeatureCount() != len(artifact.FeatureNames) {
		return nil, fmt.Errorf("model expects %d features but names %d", regressor.FeatureCount(), len(artifact.FeatureNames))
	}

	return &Model{
		version:     artifact.Version,
		modelType:   artifact.Type,
		names:       append([]string(nil), artifact.FeatureNames...),
		residualStd: artifact.ResidualStd,
		importance:  artifact.FeatureImportance,
		regressor:   regressor,
	}, nil
}
