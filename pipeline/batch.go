package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"houseprice/logger"
	"houseprice/ml"
)

// Predictor 模型阶段接口，由 ml.Predictor 实现
type Predictor interface {
	Predict(vector ml.FeatureVector) (ml.Prediction, error)
	PredictBatch(vectors []ml.FeatureVector) []ml.Outcome
	Versions() map[string]string
}

// PredictionResult 单条预测结果，附带校验后的输入
type PredictionResult struct {
	ml.Prediction
	Input ml.HouseRecord `json:"input"`
}

// BatchItem 批量结果中的一项，Result 与 Error 二者恰有其一
type BatchItem struct {
	Index  int               `json:"index"`
	Result *PredictionResult `json:"prediction,omitempty"`
	Error  *ErrorDescriptor  `json:"error,omitempty"`
}

// BatchResult 批量预测结果，顺序与输入一致
type BatchResult struct {
	Items     []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// OrchestratorConfig 批处理配置
type OrchestratorConfig struct {
	MaxBatchSize int
	// Workers 大于1时按块并发调用模型
	Workers int
}

// Orchestrator 批处理编排器
type Orchestrator struct {
	config    OrchestratorConfig
	validator *Validator
	engineer  *ml.Engineer
	log       *logger.Logger
}

// NewOrchestrator 创建批处理编排器
func NewOrchestrator(config OrchestratorConfig, validator *Validator, engineer *ml.Engineer, log *logger.Logger) (*Orchestrator, error) {
	if config.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", config.MaxBatchSize)
	}
	if validator == nil || engineer == nil {
		return nil, fmt.Errorf("validator and engineer are required")
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{config: config, validator: validator, engineer: engineer, log: log}, nil
}

// MaxBatchSize 批量上限
func (o *Orchestrator) MaxBatchSize() int {
	return o.config.MaxBatchSize
}

// prepare 校验并构造特征，单条与批量共用
func (o *Orchestrator) prepare(raw map[string]any) (ml.FeatureVector, error) {
	record, err := o.validator.Validate(raw)
	if err != nil {
		return ml.FeatureVector{}, err
	}
	return o.engineer.Engineer(record), nil
}

// Run 执行批量预测
// 超过上限时整体拒绝且不调用模型；单条失败不影响其他记录
func (o *Orchestrator) Run(ctx context.Context, predictor Predictor, raws []map[string]any) (BatchResult, error) {
	if len(raws) > o.config.MaxBatchSize {
		return BatchResult{}, &BatchSizeError{Size: len(raws), Max: o.config.MaxBatchSize}
	}

	items := make([]BatchItem, len(raws))
	vectors := make([]ml.FeatureVector, 0, len(raws))
	positions := make([]int, 0, len(raws))
	for i, raw := range raws {
		items[i].Index = i
		vector, err := o.prepare(raw)
		if err != nil {
			desc := Describe(err)
			items[i].Error = &desc
			continue
		}
		vectors = append(vectors, vector)
		positions = append(positions, i)
	}

	outcomes, err := o.predict(ctx, predictor, vectors)
	if err != nil {
		return BatchResult{}, err
	}

	for j, outcome := range outcomes {
		i := positions[j]
		if outcome.Err != nil {
			desc := Describe(outcome.Err)
			items[i].Error = &desc
			o.log.Warn("batch record failed", "index", i, "kind", desc.Kind, "error", desc.Message)
			continue
		}
		items[i].Result = &PredictionResult{Prediction: outcome.Prediction, Input: vectors[j].Record}
	}

	result := BatchResult{Items: items}
	for _, item := range items {
		if item.Error != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	return result, nil
}

func (o *Orchestrator) predict(ctx context.Context, predictor Predictor, vectors []ml.FeatureVector) ([]ml.Outcome, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	if o.config.Workers <= 1 || len(vectors) <= o.config.Workers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes := predictor.PredictBatch(vectors)
		if len(outcomes) != len(vectors) {
			return nil, fmt.Errorf("predictor returned %d outcomes for %d records", len(outcomes), len(vectors))
		}
		return outcomes, nil
	}

	chunk := (len(vectors) + o.config.Workers - 1) / o.config.Workers
	outcomes := make([]ml.Outcome, len(vectors))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)
	for start := 0; start < len(vectors); start += chunk {
		end := min(start+chunk, len(vectors))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			part := predictor.PredictBatch(vectors[start:end])
			if len(part) != end-start {
				return fmt.Errorf("predictor returned %d outcomes for %d records", len(part), end-start)
			}
			copy(outcomes[start:end], part)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
