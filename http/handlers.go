package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"houseprice/db"
	"houseprice/logger"
	"houseprice/monitoring"
	"houseprice/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// PredictionService 预测服务接口，由 pipeline.Service 实现
type PredictionService interface {
	PredictOne(raw map[string]any) (pipeline.PredictionResult, error)
	PredictMany(ctx context.Context, raws []map[string]any) (pipeline.BatchResult, error)
	Health() pipeline.Health
}

// Journal 预测记录存储，为 nil 时不落库
type Journal interface {
	Record(ctx context.Context, entries []db.Entry) error
	Recent(ctx context.Context, limit int) ([]db.Entry, error)
}

// Dependencies 处理器依赖
type Dependencies struct {
	Service PredictionService
	Metrics *monitoring.Metrics
	Hub     *monitoring.Hub
	Journal Journal
	Logger  *logger.Logger
	// RecentResults LRU缓存容量
	RecentResults int
	// Now 预测时间戳来源
	Now func() time.Time
}

type handlers struct {
	service PredictionService
	metrics *monitoring.Metrics
	hub     *monitoring.Hub
	journal Journal
	recent  *lru.Cache[string, predictResponse]
	log     *logger.Logger
	printer *message.Printer
	now     func() time.Time
}

func newHandlers(deps Dependencies) (*handlers, error) {
	if deps.Service == nil {
		return nil, errors.New("prediction service is required")
	}
	size := deps.RecentResults
	if size <= 0 {
		size = 256
	}
	recent, err := lru.New[string, predictResponse](size)
	if err != nil {
		return nil, fmt.Errorf("create recent cache: %w", err)
	}
	h := &handlers{
		service: deps.Service,
		metrics: deps.Metrics,
		hub:     deps.Hub,
		journal: deps.Journal,
		recent:  recent,
		log:     deps.Logger,
		printer: message.NewPrinter(language.AmericanEnglish),
		now:     deps.Now,
	}
	if h.metrics == nil {
		h.metrics = monitoring.NewMetrics()
	}
	if h.log == nil {
		h.log = logger.Nop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// register 注册所有路由
func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("POST /batch-predict", h.handleBatchPredict)
	mux.HandleFunc("GET /api/predictions/{id}", h.handleGetPrediction)
	mux.HandleFunc("GET /api/predictions", h.handleListPredictions)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.HandleFunc("GET /openapi.json", h.handleOpenAPI)
	if h.hub != nil {
		mux.Handle("GET /ws/predictions", h.hub)
	}
}

type healthResponse struct {
	Status           string            `json:"status"`
	ModelLoaded      bool              `json:"model_loaded"`
	ArtifactVersions map[string]string `json:"artifact_versions,omitempty"`
}

type predictResponse struct {
	PredictionID        string             `json:"prediction_id"`
	RequestID           string             `json:"request_id"`
	Price               float64            `json:"predicted_price"`
	FormattedPrice      string             `json:"formatted_price"`
	ConfidenceInterval  [2]float64         `json:"confidence_interval"`
	FeatureImportance   map[string]float64 `json:"features_importance"`
	PredictionTime      time.Time          `json:"prediction_time"`
	ModelVersion        string             `json:"model_version"`
	PreprocessorVersion string             `json:"preprocessor_version"`
}

type batchItemResponse struct {
	Index      int              `json:"index"`
	Prediction *predictResponse `json:"prediction,omitempty"`
	Error      *errorBody       `json:"error,omitempty"`
}

type batchResponse struct {
	RequestID string              `json:"request_id"`
	Results   []batchItemResponse `json:"results"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// errorBody Detail 为字符串或字段错误列表
type errorBody struct {
	Kind   pipeline.ErrorKind `json:"kind"`
	Detail any                `json:"detail"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health()
	if health.Status != pipeline.StatusReady {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: health.Status})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "healthy",
		ModelLoaded:      health.ModelLoaded,
		ArtifactVersions: health.ArtifactVersions,
	})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	body, err := decodeBody(r)
	if err != nil {
		h.writeDecodeError(w, err)
		return
	}
	raw, _ := body.(map[string]any)

	start := requestStart(r.Context())
	result, err := h.service.PredictOne(raw)
	if err != nil {
		h.observeError(err, requestID)
		h.writeError(w, err)
		return
	}
	h.metrics.ObservePrediction(time.Since(start))

	resp := h.buildResponse(requestID, result)
	h.recent.Add(resp.PredictionID, resp)
	h.journalEntries(r.Context(), []db.Entry{h.entry(resp, result.Input)})
	h.publish(monitoring.PredictionEvent, monitoring.PredictionMessage{
		PredictionID: resp.PredictionID,
		RequestID:    requestID,
		Price:        resp.Price,
		ModelVersion: resp.ModelVersion,
	})

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleBatchPredict(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	body, err := decodeBody(r)
	if err != nil {
		h.writeDecodeError(w, err)
		return
	}
	elements, ok := body.([]any)
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Kind:   pipeline.KindValidation,
			Detail: []pipeline.FieldError{{Reason: "body must be an array of records"}},
		})
		return
	}
	raws := make([]map[string]any, len(elements))
	for i, element := range elements {
		// 非对象元素按单条校验失败处理
		raws[i], _ = element.(map[string]any)
	}

	start := requestStart(r.Context())
	result, err := h.service.PredictMany(r.Context(), raws)
	if err != nil {
		var sizeErr *pipeline.BatchSizeError
		if errors.As(err, &sizeErr) {
			h.metrics.ObserveBatchRejection()
			h.log.Warn("batch rejected", "request_id", requestID, "size", sizeErr.Size, "max", sizeErr.Max)
		}
		h.writeError(w, err)
		return
	}
	h.metrics.ObserveBatch()

	resp := batchResponse{
		RequestID: requestID,
		Results:   make([]batchItemResponse, len(result.Items)),
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	}
	entries := make([]db.Entry, 0, len(result.Items))
	for i, item := range result.Items {
		resp.Results[i].Index = item.Index
		if item.Error != nil {
			h.observeKind(item.Error.Kind)
			resp.Results[i].Error = descriptorBody(*item.Error)
			entries = append(entries, db.Entry{
				PredictionID: uuid.NewString(),
				RequestID:    requestID,
				Input:        marshalInput(raws[i]),
				ErrorKind:    string(item.Error.Kind),
				CreatedAt:    h.now(),
			})
			continue
		}
		prediction := h.buildResponse(requestID, *item.Result)
		h.recent.Add(prediction.PredictionID, prediction)
		resp.Results[i].Prediction = &prediction
		entries = append(entries, h.entry(prediction, item.Result.Input))
	}
	if result.Succeeded > 0 {
		h.metrics.ObservePredictions(result.Succeeded, time.Since(start))
	}
	h.journalEntries(r.Context(), entries)
	h.publish(monitoring.BatchEvent, monitoring.BatchMessage{
		RequestID: requestID,
		Size:      len(result.Items),
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	})
	h.log.Info("batch served",
		"request_id", requestID,
		"size", len(result.Items),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resp, ok := h.recent.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Kind: "not_found", Detail: "prediction " + id + " not found"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Kind: "not_found", Detail: "prediction journal is disabled"})
		return
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Detail: "limit must be a positive integer"})
			return
		}
		limit = min(l, maxListLimit)
	}

	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("query journal failed", "request_id", GetRequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: pipeline.KindInternal, Detail: "query journal failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := h.metrics.Snapshot()
	resp := map[string]any{"metrics": snapshot}
	if h.hub != nil {
		resp["websocket_clients"] = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) buildResponse(requestID string, result pipeline.PredictionResult) predictResponse {
	return predictResponse{
		PredictionID:        uuid.NewString(),
		RequestID:           requestID,
		Price:               result.Price,
		FormattedPrice:      h.printer.Sprintf("$%.2f", result.Price),
		ConfidenceInterval:  result.ConfidenceInterval,
		FeatureImportance:   result.FeatureImportance,
		PredictionTime:      h.now().UTC(),
		ModelVersion:        result.ModelVersion,
		PreprocessorVersion: result.PreprocessorVersion,
	}
}

func (h *handlers) entry(resp predictResponse, input any) db.Entry {
	return db.Entry{
		PredictionID:        resp.PredictionID,
		RequestID:           resp.RequestID,
		Input:               marshalInput(input),
		Price:               resp.Price,
		IntervalLower:       resp.ConfidenceInterval[0],
		IntervalUpper:       resp.ConfidenceInterval[1],
		ModelVersion:        resp.ModelVersion,
		PreprocessorVersion: resp.PreprocessorVersion,
		CreatedAt:           resp.PredictionTime,
	}
}

// journalEntries 写入失败只记录日志，不影响响应；客户端断开不丢记录
func (h *handlers) journalEntries(ctx context.Context, entries []db.Entry) {
	if h.journal == nil || len(entries) == 0 {
		return
	}
	if err := h.journal.Record(context.WithoutCancel(ctx), entries); err != nil {
		h.log.Error("record predictions failed", "request_id", GetRequestID(ctx), "count", len(entries), "error", err)
	}
}

func (h *handlers) publish(msgType monitoring.MessageType, data any) {
	if h.hub == nil {
		return
	}
	if err := h.hub.Publish(msgType, data); err != nil {
		h.log.Warn("publish event failed", "type", msgType, "error", err)
	}
}

func (h *handlers) observeError(err error, requestID string) {
	kind := pipeline.Describe(err).Kind
	h.observeKind(kind)
	if kind == pipeline.KindPrediction {
		h.log.Warn("prediction failed", "request_id", requestID, "kind", kind, "error", err)
	}
}

func (h *handlers) observeKind(kind pipeline.ErrorKind) {
	switch kind {
	case pipeline.KindValidation:
		h.metrics.ObserveValidationError()
	case pipeline.KindPrediction:
		h.metrics.ObservePredictionError()
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	desc := pipeline.Describe(err)
	writeJSON(w, statusFor(desc.Kind), descriptorBody(desc))
}

func (h *handlers) writeDecodeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Kind:   "request_too_large",
			Detail: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
		})
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Detail: "malformed JSON: " + err.Error()})
}

func descriptorBody(desc pipeline.ErrorDescriptor) *errorBody {
	if desc.Kind == pipeline.KindValidation {
		return &errorBody{Kind: desc.Kind, Detail: desc.Fields}
	}
	return &errorBody{Kind: desc.Kind, Detail: desc.Message}
}

func statusFor(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindValidation:
		return http.StatusUnprocessableEntity
	case pipeline.KindBatchSize:
		return http.StatusRequestEntityTooLarge
	case pipeline.KindNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody 数字保留为 json.Number，交给校验器转换
func decodeBody(r *http.Request) (any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON value")
	}
	return body, nil
}

func marshalInput(input any) json.RawMessage {
	data, err := json.Marshal(input)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestStart 返回日志中间件记录的请求开始时间，未经中间件时取当前时间
func requestStart(ctx context.Context) time.Time {
	if start := GetStartTime(ctx); !start.IsZero() {
		return start
	}
	return time.Now()
}

// apiDocument 描述对外的三个核心接口
var apiDocument = map[string]any{
	"openapi": "3.0.3",
	"info": map[string]any{
		"title":   "House Price Prediction API",
		"version": "1.0.0",
	},
	"paths": map[string]any{
		"/health": map[string]any{
			"get": operation("Service health", "200", "503"),
		},
		"/predict": map[string]any{
			"post": operation("Predict the price of one house", "200", "400", "413", "422", "500", "503"),
		},
		"/batch-predict": map[string]any{
			"post": operation("Predict prices for a batch of houses", "200", "400", "413", "422", "503"),
		},
	},
}

func operation(summary string, statuses ...string) map[string]any {
	responses := make(map[string]any, len(statuses))
	for _, status := range statuses {
		code, _ := strconv.Atoi(status)
		responses[status] = map[string]any{"description": http.StatusText(code)}
	}
	return map[string]any{"summary": summary, "responses": responses}
}

func (h *handlers) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiDocument)
}
