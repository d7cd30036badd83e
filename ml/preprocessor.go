package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type preprocessorArtifact struct {
	Version      string    `json:"version"`
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

// Preprocessor is a fitted standard scaler. It is read-only after loading.
type Preprocessor struct {
	version string
	names   []string
	mean    []float64
	scale   []float64
}

func LoadPreprocessor(path string) (*Preprocessor, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactLoadError{Artifact: "preprocessor", Path: path, Err: err}
	}
	var artifact preprocessorArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, &ArtifactLoadError{Artifact: "preprocessor", Path: path, Err: err}
	}
	p, err := newPreprocessor(artifact)
	if err != nil {
		return nil, &ArtifactLoadError{Artifact: "preprocessor", Path: path, Err: err}
	}
	return p, nil
}

func newPreprocessor(artifact preprocessorArtifact) (*Preprocessor, error) {
	if artifact.Version == "" {
		return nil, errors.New("version is required")
	}
	n := len(artifact.FeatureNames)
	if n == 0 {
		return nil, errors.New("feature_names is empty")
	}
	if len(artifact.Mean) != n || len(artifact.Scale) != n {
		return nil, fmt.Errorf("expected %d mean/scale values, got %d/%d", n, len(artifact.Mean), len(artifact.Scale))
	}
	if !allFinite(artifact.Mean) || !allFinite(artifact.Scale) {
		return nil, errors.New("mean/scale must be finite")
	}
	for i, s := range artifact.Scale {
		if s == 0 {
			return nil, fmt.Errorf("scale for %s is zero", artifact.FeatureNames[i])
		}
	}
	return &Preprocessor{
		version: artifact.Version,
		names:   append([]string(nil), artifact.FeatureNames...),
		mean:    append([]float64(nil), artifact.Mean...),
		scale:   append([]float64(nil), artifact.Scale...),
	}, nil
}

func (p *Preprocessor) Version() string {
	return p.version
}

func (p *Preprocessor) FeatureNames() []string {
	return append([]string(nil), p.names...)
}

func (p *Preprocessor) Width() int {
	return len(p.names)
}

func (p *Preprocessor) Transform(values []float64) ([]float64, error) {
	out := make([]float64, len(values))
	if err := p.transformInto(out, values); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Preprocessor) transformInto(dst, values []float64) error {
	if len(values) != len(p.names) {
		return fmt.Errorf("feature shape mismatch: got %d columns, want %d", len(values), len(p.names))
	}
	return StandardizeVector(dst, values, p.mean, p.scale)
}
