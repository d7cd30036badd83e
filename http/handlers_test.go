package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"houseprice/db"
	"houseprice/ml"
	"houseprice/monitoring"
	"houseprice/pipeline"
)

var (
	testLocations  = []string{"urban", "suburban", "rural"}
	testConditions = []string{"Poor", "Fair", "Good", "Excellent"}
)

func fixedClock() time.Time {
	return time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []db.Entry
	err     error
}

func (f *fakeJournal) Record(ctx context.Context, entries []db.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeJournal) Recent(ctx context.Context, limit int) ([]db.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := min(limit, len(f.entries))
	return append([]db.Entry(nil), f.entries[:n]...), nil
}

type testEnv struct {
	handler http.Handler
	service *pipeline.Service
	metrics *monitoring.Metrics
	journal *fakeJournal
}

func newTestEnv(t *testing.T, ready bool, journal *fakeJournal) *testEnv {
	t.Helper()
	validator, err := pipeline.NewValidator(pipeline.ValidationRules{
		Locations:    testLocations,
		Conditions:   testConditions,
		YearBuiltMin: 1800,
		Now:          fixedClock,
	})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	layout, err := ml.NewLayout(testLocations, testConditions)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	engineer := ml.NewEngineer(layout, fixedClock)
	orchestrator, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{MaxBatchSize: 3, Workers: 2}, validator, engineer, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	service := pipeline.NewService(orchestrator, nil)
	if ready {
		predictor, err := ml.LoadPredictor("../ml/testdata/preprocessor.json", "../ml/testdata/model.json", layout)
		if err != nil {
			t.Fatalf("LoadPredictor: %v", err)
		}
		service.Ready(predictor)
	}

	metrics := monitoring.NewMetrics()
	deps := Dependencies{
		Service: service,
		Metrics: metrics,
		Now:     fixedClock,
	}
	if journal != nil {
		deps.Journal = journal
	}
	config := DefaultServerConfig()
	config.MaxRequestBytes = 4096
	handler, err := NewHandler(config, deps)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &testEnv{handler: handler, service: service, metrics: metrics, journal: journal}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return payload
}

const validBody = `{"sqft":2000,"bedrooms":3,"bathrooms":2,"location":"suburban","year_built":2010,"condition":"Good"}`

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		wantStatus int
		wantBody   string
	}{
		{name: "not ready", ready: false, wantStatus: http.StatusServiceUnavailable, wantBody: "not_ready"},
		{name: "ready", ready: true, wantStatus: http.StatusOK, wantBody: "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.ready, nil)
			w := env.do(t, http.MethodGet, "/health", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			payload := decode(t, w)
			if payload["status"] != tt.wantBody {
				t.Errorf("status = %v, want %s", payload["status"], tt.wantBody)
			}
			if payload["model_loaded"] != tt.ready {
				t.Errorf("model_loaded = %v", payload["model_loaded"])
			}
		})
	}
}

func TestHandlePredict(t *testing.T) {
	journal := &fakeJournal{}
	env := newTestEnv(t, true, journal)

	w := env.do(t, http.MethodPost, "/predict", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}

	payload := decode(t, w)
	if price := payload["predicted_price"].(float64); math.Abs(price-335720) > 1e-6 {
		t.Errorf("predicted_price = %f, want 335720", price)
	}
	if formatted := payload["formatted_price"].(string); !strings.Contains(formatted, "335,720") {
		t.Errorf("formatted_price = %q", formatted)
	}
	if interval := payload["confidence_interval"].([]any); len(interval) != 2 {
		t.Errorf("confidence_interval = %v", interval)
	}
	if payload["prediction_time"] != "2026-06-01T12:00:00Z" {
		t.Errorf("prediction_time = %v", payload["prediction_time"])
	}
	if _, ok := payload["features_importance"].(map[string]any)["sqft"]; !ok {
		t.Errorf("features_importance = %v", payload["features_importance"])
	}

	if len(journal.entries) != 1 || journal.entries[0].Price != payload["predicted_price"].(float64) {
		t.Errorf("journal entries = %+v", journal.entries)
	}
	if env.metrics.Snapshot().PredictionsTotal != 1 {
		t.Errorf("metrics = %+v", env.metrics.Snapshot())
	}

	id := payload["prediction_id"].(string)
	w = env.do(t, http.MethodGet, "/api/predictions/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("lookup expected 200, got %d", w.Code)
	}
	if decode(t, w)["prediction_id"] != id {
		t.Errorf("lookup returned a different prediction")
	}
}

func TestHandlePredictErrors(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		body       string
		wantStatus int
		wantKind   string
	}{
		{name: "not ready", ready: false, body: validBody, wantStatus: http.StatusServiceUnavailable, wantKind: "not_ready"},
		{name: "malformed json", ready: true, body: `{"sqft":`, wantStatus: http.StatusBadRequest, wantKind: "bad_request"},
		{name: "missing field", ready: true, body: `{"bedrooms":3,"bathrooms":2,"location":"suburban","year_built":2010,"condition":"Good"}`, wantStatus: http.StatusUnprocessableEntity, wantKind: "validation_error"},
		{name: "future year", ready: true, body: `{"sqft":2000,"bedrooms":3,"bathrooms":2,"location":"suburban","year_built":2030,"condition":"Good"}`, wantStatus: http.StatusUnprocessableEntity, wantKind: "validation_error"},
		{name: "array body", ready: true, body: `[1,2]`, wantStatus: http.StatusUnprocessableEntity, wantKind: "validation_error"},
		{name: "non-positive price", ready: true, body: `{"sqft":100,"bedrooms":0,"bathrooms":0,"location":"rural","year_built":1800,"condition":"Poor"}`, wantStatus: http.StatusInternalServerError, wantKind: "prediction_error"},
		{name: "oversized body", ready: true, body: `{"sqft":"` + strings.Repeat("9", 5000) + `"}`, wantStatus: http.StatusRequestEntityTooLarge, wantKind: "request_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.ready, nil)
			w := env.do(t, http.MethodPost, "/predict", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if kind := decode(t, w)["kind"]; kind != tt.wantKind {
				t.Errorf("kind = %v, want %s", kind, tt.wantKind)
			}
		})
	}
}

func TestHandlePredictValidationDetail(t *testing.T) {
	env := newTestEnv(t, true, nil)
	w := env.do(t, http.MethodPost, "/predict", `{"bedrooms":3,"bathrooms":2,"location":"suburban","year_built":2010,"condition":"Good"}`)
	detail := decode(t, w)["detail"].([]any)
	if len(detail) != 1 {
		t.Fatalf("detail = %v", detail)
	}
	field := detail[0].(map[string]any)
	if field["field"] != "sqft" || field["reason"] != "field required" {
		t.Errorf("detail = %v", field)
	}
	if env.metrics.Snapshot().ValidationErrorsTotal != 1 {
		t.Errorf("validation errors not counted")
	}
}

func TestHandleBatchPredict(t *testing.T) {
	journal := &fakeJournal{}
	env := newTestEnv(t, true, journal)

	body := `[` + validBody + `, 42, {"sqft":100,"bedrooms":0,"bathrooms":0,"location":"rural","year_built":1800,"condition":"Poor"}]`
	w := env.do(t, http.MethodPost, "/batch-predict", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	payload := decode(t, w)
	if payload["succeeded"].(float64) != 1 || payload["failed"].(float64) != 2 {
		t.Errorf("succeeded=%v failed=%v", payload["succeeded"], payload["failed"])
	}
	results := payload["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}

	first := results[0].(map[string]any)
	if _, ok := first["error"]; ok {
		t.Errorf("first result has an error: %v", first)
	}
	single := decode(t, env.do(t, http.MethodPost, "/predict", validBody))
	if first["prediction"].(map[string]any)["predicted_price"] != single["predicted_price"] {
		t.Errorf("batch and single prices differ")
	}

	wantKinds := []string{"", "validation_error", "prediction_error"}
	for i, r := range results {
		item := r.(map[string]any)
		if item["index"].(float64) != float64(i) {
			t.Errorf("result %d has index %v", i, item["index"])
		}
		if wantKinds[i] == "" {
			continue
		}
		if kind := item["error"].(map[string]any)["kind"]; kind != wantKinds[i] {
			t.Errorf("result %d kind = %v, want %s", i, kind, wantKinds[i])
		}
	}

	if len(journal.entries) != 4 {
		t.Errorf("journal has %d entries, want 4", len(journal.entries))
	}
	snapshot := env.metrics.Snapshot()
	if snapshot.BatchesTotal != 1 || snapshot.ValidationErrorsTotal != 1 || snapshot.PredictionErrorsTotal != 1 {
		t.Errorf("metrics = %+v", snapshot)
	}
}

func TestHandleBatchPredictEdges(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		body       string
		wantStatus int
	}{
		{name: "empty batch", ready: true, body: `[]`, wantStatus: http.StatusOK},
		{name: "over the cap", ready: true, body: `[{},{},{},{}]`, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "object body", ready: true, body: validBody, wantStatus: http.StatusUnprocessableEntity},
		{name: "malformed json", ready: true, body: `[{`, wantStatus: http.StatusBadRequest},
		{name: "not ready", ready: false, body: `[]`, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.ready, nil)
			w := env.do(t, http.MethodPost, "/batch-predict", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestBatchRejectionCounted(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.do(t, http.MethodPost, "/batch-predict", `[{},{},{},{}]`)
	if env.metrics.Snapshot().BatchRejectionsTotal != 1 {
		t.Errorf("metrics = %+v", env.metrics.Snapshot())
	}
}

func TestGetPredictionNotFound(t *testing.T) {
	env := newTestEnv(t, true, nil)
	w := env.do(t, http.MethodGet, "/api/predictions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListPredictions(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		env := newTestEnv(t, true, nil)
		if w := env.do(t, http.MethodGet, "/api/predictions", ""); w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("journal enabled", func(t *testing.T) {
		env := newTestEnv(t, true, &fakeJournal{})
		env.do(t, http.MethodPost, "/predict", validBody)
		env.do(t, http.MethodPost, "/predict", validBody)

		w := env.do(t, http.MethodGet, "/api/predictions?limit=1", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if data := decode(t, w)["data"].([]any); len(data) != 1 {
			t.Errorf("got %d entries, want 1", len(data))
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		env := newTestEnv(t, true, &fakeJournal{})
		if w := env.do(t, http.MethodGet, "/api/predictions?limit=abc", ""); w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("journal failure", func(t *testing.T) {
		env := newTestEnv(t, true, &fakeJournal{err: errors.New("disk full")})
		if w := env.do(t, http.MethodPost, "/predict", validBody); w.Code != http.StatusOK {
			t.Fatalf("journal failure should not fail the prediction, got %d", w.Code)
		}
		if w := env.do(t, http.MethodGet, "/api/predictions", ""); w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	})
}

func TestMetricsHandler(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.do(t, http.MethodPost, "/predict", validBody)
	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	metrics := decode(t, w)["metrics"].(map[string]any)
	if metrics["predictions_total"].(float64) != 1 {
		t.Errorf("metrics = %v", metrics)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t, false, nil)
	w := env.do(t, http.MethodGet, "/openapi.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	paths, ok := decode(t, w)["paths"].(map[string]any)
	if !ok {
		t.Fatal("missing paths")
	}
	for _, path := range []string{"/health", "/predict", "/batch-predict"} {
		if _, ok := paths[path]; !ok {
			t.Errorf("missing path %s", path)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, true, nil)
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("allow origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestLoggerMiddlewareStampsStartTime(t *testing.T) {
	before := time.Now()
	var start time.Time
	handler := LoggerMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start = GetStartTime(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if start.Before(before) || start.After(time.Now()) {
		t.Errorf("start time %v not within request", start)
	}

	if !GetStartTime(context.Background()).IsZero() {
		t.Error("expected zero start time without middleware")
	}
	if requestStart(context.Background()).Before(before) {
		t.Error("requestStart should fall back to now")
	}
	stamped := context.WithValue(context.Background(), StartTimeKey, before)
	if !requestStart(stamped).Equal(before) {
		t.Error("requestStart should use the stamped time")
	}
}

func TestJournalSurvivesCancelledRequest(t *testing.T) {
	env := newTestEnv(t, true, nil)
	journal := &fakeJournal{}
	h, err := newHandlers(Dependencies{Service: env.service, Journal: journal, Now: fixedClock})
	if err != nil {
		t.Fatalf("newHandlers: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(validBody)).WithContext(ctx)
	w := httptest.NewRecorder()
	h.handlePredict(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(journal.entries) != 1 {
		t.Errorf("journal entries = %d, want 1", len(journal.entries))
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	handler := Chain(mark("a"), mark("b"), mark("c"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, "") != "abc" {
		t.Errorf("order = %v", order)
	}
}

func TestPredictionEventsOverWebSocket(t *testing.T) {
	env := newTestEnv(t, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := monitoring.NewHub([]string{"*"}, nil)
	go hub.Run(ctx)

	handler, err := NewHandler(DefaultServerConfig(), Dependencies{Service: env.service, Hub: hub, Now: fixedClock})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/predictions", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(server.URL+"/predict", "application/json", strings.NewReader(validBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg monitoring.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != monitoring.PredictionEvent {
		t.Errorf("type = %s", msg.Type)
	}
}
