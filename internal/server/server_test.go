package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/chipower/internal/config"
	"github.com/copyleftdev/chipower/internal/logging"
)

// testConfig creates a test configuration with small simulation defaults
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"

	cfg.Power.Confidence = 0.95
	cfg.Power.Precision = 0.01
	cfg.Power.Repetitions = 500
	cfg.Power.MaxIterations = 1000
	cfg.Power.MaxSampleSize = 1e9
	cfg.Power.Rounding = "nearest"
	cfg.Power.WorkerCount = 2

	cfg.Jobs.MaxConcurrent = 2
	cfg.Jobs.Retention = time.Hour

	return cfg
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.DebugLevel, io.Discard)
}

func newTestRouter(t *testing.T, cfg *config.Config) (*Server, chi.Router) {
	t.Helper()
	srv := NewServer(cfg, testLogger(t))
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, reader))

	var decoded map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded), rr.Body.String())
	}
	return rr, decoded
}

// slowSearch never converges and runs long enough to be observed while running
const slowSearch = `{"p":[0.5,0.5],"ptest":[0.5,0.5],"repetitions":200000}`

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NotNil(t, srv, "Server should be created")
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/estimate", true},
		{"POST", "/api/v1/search", true},
		{"GET", "/api/v1/search/123", true},
		{"DELETE", "/api/v1/search/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}")))

			// unknown search ids answer 404 with a JSON body, unknown routes with plain text
			routeMissing := rr.Code == http.StatusNotFound && !strings.Contains(rr.Header().Get("Content-Type"), "json")
			assert.Equal(t, !tt.shouldExist, routeMissing)
		})
	}
}

func TestClose(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NoError(t, srv.Close(), "Close should not return an error")
}

func TestHandleEstimate(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/estimate",
		`{"p":[0.5,0.5],"ptest":[0.9,0.1],"n":200,"seed":1}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(200), body["sample_size"])
	assert.Equal(t, float64(500), body["repetitions"])
	assert.Greater(t, body["power"].(float64), 0.99)
	assert.InDelta(t, 3.841459, body["critical_value"].(float64), 1e-5)
	assert.Equal(t, float64(1), body["degrees_of_freedom"])
	assert.Equal(t, 0.95, body["confidence"])
}

func TestHandleEstimateRejectsBadRequests(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"p":`},
		{"unknown field", `{"p":[0.5,0.5],"ptest":[0.6,0.4],"n":10,"alpha":0.05}`},
		{"missing p", `{"ptest":[0.6,0.4],"n":10}`},
		{"single category", `{"p":[1],"ptest":[1],"n":10}`},
		{"negative probability", `{"p":[0.5,0.5],"ptest":[1.2,-0.2],"n":10}`},
		{"zero sample size", `{"p":[0.5,0.5],"ptest":[0.6,0.4],"n":0}`},
		{"confidence out of range", `{"p":[0.5,0.5],"ptest":[0.6,0.4],"n":10,"confidence":1.5}`},
		{"unknown rounding", `{"p":[0.5,0.5],"ptest":[0.6,0.4],"n":10,"rounding":"up"}`},
		{"max sample size beyond int32", `{"p":[0.5,0.5],"ptest":[0.6,0.4],"n":10,"max_sample_size":3e9}`},
		{"dimension mismatch", `{"p":[0.5,0.5],"ptest":[0.2,0.3,0.5],"n":10}`},
		{"zero null probability", `{"p":[0,1],"ptest":[0.5,0.5],"n":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, r, http.MethodPost, "/api/v1/estimate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "invalid_argument", body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSearchLifecycle(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/search",
		`{"p":[0.5,0.5],"ptest":[0.6,0.4],"confidence":0.8,"precision":0.05,"repetitions":1000,"seed":3}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	id, ok := body["search_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	var status map[string]interface{}
	require.Eventually(t, func() bool {
		_, status = doJSON(t, r, http.MethodGet, "/api/v1/search/"+id, "")
		return status["status"] == string(JobCompleted)
	}, 30*time.Second, 10*time.Millisecond)

	result, ok := status["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, []interface{}{"converged", "stuck"}, result["status"])
	assert.Positive(t, result["sample_size"].(float64))
	assert.NotNil(t, status["end_time"])
	assert.NotNil(t, status["progress"])

	// finished searches cannot be cancelled
	rr, body = doJSON(t, r, http.MethodDelete, "/api/v1/search/"+id, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", body["kind"])
}

func TestSearchCancel(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/search", slowSearch)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := body["search_id"].(string)

	rr, body = doJSON(t, r, http.MethodDelete, "/api/v1/search/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "cancellation requested", body["status"])

	_, status := doJSON(t, r, http.MethodGet, "/api/v1/search/"+id, "")
	assert.Equal(t, string(JobCancelled), status["status"])
	assert.Nil(t, status["result"])

	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/search/"+id, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSweepJobsForgetsExpiredSearches(t *testing.T) {
	srv, r := newTestRouter(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/search", slowSearch)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	running := body["search_id"].(string)

	rr, body = doJSON(t, r, http.MethodPost, "/api/v1/search", slowSearch)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	cancelled := body["search_id"].(string)

	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/search/"+cancelled, "")
	require.Equal(t, http.StatusOK, rr.Code)

	// still inside the retention window
	assert.Equal(t, 0, srv.sweepJobs(time.Now()))
	rr, _ = doJSON(t, r, http.MethodGet, "/api/v1/search/"+cancelled, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, 1, srv.sweepJobs(time.Now().Add(2*time.Hour)))

	rr, body = doJSON(t, r, http.MethodGet, "/api/v1/search/"+cancelled, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", body["kind"])

	// running jobs are never swept
	rr, _ = doJSON(t, r, http.MethodGet, "/api/v1/search/"+running, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSweepJobsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Retention = 0
	srv, r := newTestRouter(t, cfg)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/search", slowSearch)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := body["search_id"].(string)
	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/search/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, 0, srv.sweepJobs(time.Now().Add(24*time.Hour)))
	rr, _ = doJSON(t, r, http.MethodGet, "/api/v1/search/"+id, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSearchUnknownID(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	rr, body := doJSON(t, r, http.MethodGet, "/api/v1/search/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", body["kind"])

	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/search/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSearchConcurrencyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.MaxConcurrent = 1
	_, r := newTestRouter(t, cfg)

	rr, _ := doJSON(t, r, http.MethodPost, "/api/v1/search", slowSearch)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/search", slowSearch)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "unavailable", body["kind"])
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{
			name:       "string id",
			code:       rpcInvalidParams,
			message:    "invalid input",
			id:         "123",
			expectedID: "123",
		},
		{
			name:       "nil id",
			code:       rpcServerError,
			message:    "server error",
			id:         nil,
			expectedID: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id, nil)

			// JSON-RPC errors travel in a 200 response
			assert.Equal(t, http.StatusOK, rr.Code)

			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
			assert.Equal(t, tt.expectedID, response["id"])
		})
	}
}

func rpcCall(t *testing.T, h http.Handler, method string, params ...interface{}) map[string]interface{} {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rr.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	return response
}

func rpcErrorCode(t *testing.T, response map[string]interface{}) float64 {
	t.Helper()
	errObj, ok := response["error"].(map[string]interface{})
	require.True(t, ok, "expected an error response, got %v", response)
	return errObj["code"].(float64)
}

func TestJSONRPCProtocolErrors(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	tests := []struct {
		name string
		body string
		code float64
	}{
		{"parse error", `{"jsonrpc":`, rpcParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"search.status"}`, rpcInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.start"}`, rpcMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"power.estimate"}`, rpcInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, r, http.MethodPost, "/rpc", tt.body)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.code, rpcErrorCode(t, body))
		})
	}
}

func TestJSONRPCMethods(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	t.Run("power.estimate", func(t *testing.T) {
		response := rpcCall(t, r, "power.estimate", map[string]interface{}{
			"p":     []float64{0.5, 0.5},
			"ptest": []float64{0.5, 0.5},
			"n":     100,
			"seed":  8,
		})
		result, ok := response["result"].(map[string]interface{})
		require.True(t, ok, "%v", response)
		assert.InDelta(t, 0.05, result["power"].(float64), 0.04)
	})

	t.Run("power.estimate invalid params", func(t *testing.T) {
		response := rpcCall(t, r, "power.estimate", map[string]interface{}{
			"p":     []float64{0.5, 0.5},
			"ptest": []float64{0.5, 0.5},
			"n":     -1,
		})
		assert.Equal(t, float64(rpcInvalidParams), rpcErrorCode(t, response))
	})

	t.Run("search lifecycle", func(t *testing.T) {
		var params map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(slowSearch), &params))

		response := rpcCall(t, r, "search.start", params)
		result, ok := response["result"].(map[string]interface{})
		require.True(t, ok, "%v", response)
		id := result["search_id"].(string)

		response = rpcCall(t, r, "search.status", map[string]string{"search_id": id})
		result = response["result"].(map[string]interface{})
		assert.Contains(t, []interface{}{"pending", "running"}, result["status"])

		response = rpcCall(t, r, "search.cancel", map[string]string{"search_id": id})
		assert.Nil(t, response["error"])

		response = rpcCall(t, r, "search.cancel", map[string]string{"search_id": id})
		assert.Equal(t, float64(rpcServerError), rpcErrorCode(t, response))
	})

	t.Run("search.status unknown id", func(t *testing.T) {
		response := rpcCall(t, r, "search.status", map[string]string{"search_id": "missing"})
		assert.Equal(t, float64(rpcServerError), rpcErrorCode(t, response))
		data := response["error"].(map[string]interface{})["data"].(map[string]interface{})
		assert.Equal(t, "not_found", data["kind"])
	})
}
