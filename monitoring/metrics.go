package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics 预测服务计数器，可并发更新
type Metrics struct {
	predictions      atomic.Int64
	validationErrors atomic.Int64
	predictionErrors atomic.Int64
	batchRejections  atomic.Int64
	batches          atomic.Int64
	latencyMicros    atomic.Int64
	startTime        time.Time
}

// Snapshot 指标快照
type Snapshot struct {
	PredictionsTotal      int64   `json:"predictions_total"`
	ValidationErrorsTotal int64   `json:"validation_errors_total"`
	PredictionErrorsTotal int64   `json:"prediction_errors_total"`
	BatchRejectionsTotal  int64   `json:"batch_rejections_total"`
	BatchesTotal          int64   `json:"batches_total"`
	AvgLatencyMs          float64 `json:"avg_latency_ms"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
	Goroutines            int     `json:"goroutines"`
	HeapAllocBytes        uint64  `json:"heap_alloc_bytes"`
}

// NewMetrics 创建计数器
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// ObservePrediction 记录一条成功预测
func (m *Metrics) ObservePrediction(elapsed time.Duration) {
	m.predictions.Add(1)
	m.latencyMicros.Add(elapsed.Microseconds())
}

// ObservePredictions 记录一批成功预测，elapsed 为整批耗时
func (m *Metrics) ObservePredictions(n int, elapsed time.Duration) {
	if n <= 0 {
		return
	}
	m.predictions.Add(int64(n))
	m.latencyMicros.Add(elapsed.Microseconds())
}

// ObserveValidationError 记录一条校验失败
func (m *Metrics) ObserveValidationError() {
	m.validationErrors.Add(1)
}

// ObservePredictionError 记录一条模型阶段失败
func (m *Metrics) ObservePredictionError() {
	m.predictionErrors.Add(1)
}

// ObserveBatch 记录一次被接受的批量请求
func (m *Metrics) ObserveBatch() {
	m.batches.Add(1)
}

// ObserveBatchRejection 记录一次超限的批量请求
func (m *Metrics) ObserveBatchRejection() {
	m.batchRejections.Add(1)
}

// Snapshot 读取当前指标
func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Snapshot{
		PredictionsTotal:      m.predictions.Load(),
		ValidationErrorsTotal: m.validationErrors.Load(),
		PredictionErrorsTotal: m.predictionErrors.Load(),
		BatchRejectionsTotal:  m.batchRejections.Load(),
		BatchesTotal:          m.batches.Load(),
		UptimeSeconds:         time.Since(m.startTime).Seconds(),
		Goroutines:            runtime.NumGoroutine(),
		HeapAllocBytes:        mem.HeapAlloc,
	}
	if s.PredictionsTotal > 0 {
		s.AvgLatencyMs = float64(m.latencyMicros.Load()) / float64(s.PredictionsTotal) / 1000
	}
	return s
}
