package pipeline

import (
	"context"
	"sync/atomic"

	"houseprice/logger"
)

// 健康状态
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// Health 服务健康状态
type Health struct {
	Status           string            `json:"status"`
	ModelLoaded      bool              `json:"model_loaded"`
	ArtifactVersions map[string]string `json:"artifact_versions,omitempty"`
}

// Service 预测服务入口，产物加载前所有预测请求返回 ErrNotReady
type Service struct {
	orchestrator *Orchestrator
	predictor    atomic.Pointer[readyState]
	log          *logger.Logger
}

type readyState struct {
	predictor Predictor
	versions  map[string]string
}

// NewService 创建预测服务
func NewService(orchestrator *Orchestrator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{orchestrator: orchestrator, log: log}
}

// Ready 设置已加载的模型，只能成功一次
func (s *Service) Ready(predictor Predictor) bool {
	state := &readyState{predictor: predictor, versions: predictor.Versions()}
	if !s.predictor.CompareAndSwap(nil, state) {
		return false
	}
	s.log.Info("predictor ready", "versions", state.versions)
	return true
}

// MaxBatchSize 批量上限
func (s *Service) MaxBatchSize() int {
	return s.orchestrator.MaxBatchSize()
}

// PredictOne 单条预测
func (s *Service) PredictOne(raw map[string]any) (PredictionResult, error) {
	state := s.predictor.Load()
	if state == nil {
		return PredictionResult{}, ErrNotReady
	}
	vector, err := s.orchestrator.prepare(raw)
	if err != nil {
		return PredictionResult{}, err
	}
	prediction, err := state.predictor.Predict(vector)
	if err != nil {
		return PredictionResult{}, err
	}
	return PredictionResult{Prediction: prediction, Input: vector.Record}, nil
}

// PredictMany 批量预测
func (s *Service) PredictMany(ctx context.Context, raws []map[string]any) (BatchResult, error) {
	state := s.predictor.Load()
	if state == nil {
		return BatchResult{}, ErrNotReady
	}
	return s.orchestrator.Run(ctx, state.predictor, raws)
}

// Health 健康检查，不触发模型调用
func (s *Service) Health() Health {
	state := s.predictor.Load()
	if state == nil {
		return Health{Status: StatusNotReady}
	}
	versions := make(map[string]string, len(state.versions))
	for k, v := range state.versions {
		versions[k] = v
	}
	return Health{Status: StatusReady, ModelLoaded: true, ArtifactVersions: versions}
}
