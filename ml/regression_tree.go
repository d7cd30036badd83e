package ml

import (
	"errors"
	"fmt"
	"math"
)

type RegressionTree struct {
	nodes        []TreeNode
	featureCount int
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

// NewRegressionTree checks the node table once so Predict can walk it
// without re-validating child indices.
func NewRegressionTree(nodes []TreeNode, featureCount int) (*RegressionTree, error) {
	if len(nodes) == 0 {
		return nil, errors.New("tree has no nodes")
	}
	if featureCount <= 0 {
		return nil, errors.New("feature count must be positive")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			if math.IsNaN(node.Value) || math.IsInf(node.Value, 0) {
				return nil, fmt.Errorf("node %d: leaf value must be finite", i)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= featureCount {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		// children always follow their parent, which rules out cycles
		if node.LeftChild <= i || node.LeftChild >= len(nodes) {
			return nil, fmt.Errorf("node %d: invalid left child %d", i, node.LeftChild)
		}
		if node.RightChild <= i || node.RightChild >= len(nodes) {
			return nil, fmt.Errorf("node %d: invalid right child %d", i, node.RightChild)
		}
	}
	return &RegressionTree{
		nodes:        append([]TreeNode(nil), nodes...),
		featureCount: featureCount,
	}, nil
}

func (rt *RegressionTree) Predict(features []float64) (float64, error) {
	if len(features) != rt.featureCount {
		return 0, fmt.Errorf("feature shape mismatch: got %d columns, want %d", len(features), rt.featureCount)
	}
	idx := 0
	for {
		node := rt.nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

func (rt *RegressionTree) FeatureCount() int {
	return rt.featureCount
}
