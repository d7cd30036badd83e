package ml

import "fmt"

// ArtifactLoadError means the process cannot serve.
type ArtifactLoadError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ArtifactLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load %s artifact: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("load %s artifact %s: %v", e.Artifact, e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error {
	return e.Err
}

// PredictionError is a per-record failure of the model stage.
type PredictionError struct {
	Reason string
	Price  float64
	Err    error
}

func (e *PredictionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("prediction failed: %s: %v", e.Reason, e.Err)
	}
	return "prediction failed: " + e.Reason
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}
