package ml

import (
	"errors"
	"testing"
)

func TestLoadLinearModel(t *testing.T) {
	model, err := LoadModel("testdata/model.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.Type() != ModelTypeLinear || model.Version() != "linreg-2024.10.1" {
		t.Fatalf("unexpected model %s/%s", model.Type(), model.Version())
	}
	price, err := model.Predict(make([]float64, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 300000 {
		t.Fatalf("expected intercept at the mean, got %v", price)
	}
	if _, err := model.Predict(make([]float64, 3)); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestLoadRegressionTree(t *testing.T) {
	model, err := LoadModel("testdata/tree_model.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name string
		row  []float64
		want float64
	}{
		{name: "small house", row: []float64{-1, 0, 0, 0, 0, 0, 1, 0, 0, 0}, want: 210000},
		{name: "large suburban", row: []float64{1, 0, 0, 0, 0, 0, 0, 1, 0, 0}, want: 340000},
		{name: "large urban", row: []float64{1, 0, 0, 0, 0, 0, 1, 0, 0, 0}, want: 455000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := model.Predict(tt.row)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNewRegressionTreeRejectsCycles(t *testing.T) {
	nodes := []TreeNode{
		{FeatureIdx: 0, Threshold: 0, LeftChild: 0, RightChild: 1},
		{IsLeaf: true, Value: 1},
	}
	if _, err := NewRegressionTree(nodes, 1); err == nil {
		t.Fatal("expected error for self-referencing node")
	}
}

func TestLoadModelFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "corrupt json", content: `[`},
		{name: "unknown type", content: `{"version":"v","type":"svm","feature_names":["a"]}`},
		{name: "missing linear params", content: `{"version":"v","type":"linear","feature_names":["a"]}`},
		{name: "coefficient count", content: `{"version":"v","type":"linear","feature_names":["a","b"],"linear":{"intercept":1,"coefficients":[1]}}`},
		{name: "negative residual", content: `{"version":"v","type":"linear","feature_names":["a"],"residual_std":-1,"linear":{"intercept":1,"coefficients":[1]}}`},
		{name: "bad tree index", content: `{"version":"v","type":"regression_tree","feature_names":["a"],"tree":{"nodes":[{"feature_idx":4,"left_child":1,"right_child":2}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModel(writeArtifact(t, "model.json", tt.content))
			var loadErr *ArtifactLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected ArtifactLoadError, got %v", err)
			}
			if loadErr.Artifact != "model" {
				t.Fatalf("unexpected artifact %s", loadErr.Artifact)
			}
		})
	}
}

func TestFeatureImportanceIsCopied(t *testing.T) {
	model, err := LoadModel("testdata/model.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	importance := model.FeatureImportance()
	importance["sqft"] = 99
	if model.FeatureImportance()["sqft"] != 0.35 {
		t.Fatal("feature importance must not be shared")
	}
}
