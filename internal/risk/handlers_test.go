package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupHandlerTest(t *testing.T, store Store) (*gin.Engine, *Engine) {
	t.Helper()
	e := newTestEngine()
	if store != nil {
		e.WithStore(store)
	}
	r := gin.New()
	NewHandler(e).RegisterRoutes(r.Group("/v1"))
	return r, e
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_EvaluateTrap(t *testing.T) {
	r, _ := setupHandlerTest(t, nil)

	w := doRequest(r, http.MethodPost, "/v1/risk/evaluate", `{
		"username": "alice",
		"clientIp": "9.9.9.9",
		"loginTime": "2026-03-14T03:15:00Z",
		"biometrics": {"password_duration_ms": 80, "password_len": 10}
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Assessment Assessment `json:"assessment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.Assessment.Verdict.Score)
	assert.Equal(t, DecisionTrap, resp.Assessment.Action)
	assert.True(t, resp.Assessment.Biometric.PasswordPasted)
}

func TestHandler_EvaluateErrors(t *testing.T) {
	r, _ := setupHandlerTest(t, nil)

	w := doRequest(r, http.MethodPost, "/v1/risk/evaluate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/risk/evaluate", `{"clientIp":"nope","loginTime":"2026-03-14T03:15:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	w = doRequest(r, http.MethodPost, "/v1/risk/evaluate", `{"clientIp":"1.1.1.1","loginTime":"last tuesday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "malformed_input")

	w = doRequest(r, http.MethodPost, "/v1/risk/evaluate", `{"username":"bogus","clientIp":"1.1.1.1","loginTime":"2026-03-14T03:15:00Z"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "configuration_error")
}

func TestHandler_History(t *testing.T) {
	store := NewMemoryStore()
	r, e := setupHandlerTest(t, store)

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), Request{Username: "alice", ClientIP: "10.0.0.5", LoginTime: "2026-03-14T10:00:00Z"})
		require.NoError(t, err)
	}
	e.Flush()

	w := doRequest(r, http.MethodGet, "/v1/risk/users/alice/assessments?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Assessments []Assessment `json:"assessments"`
		Count       int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = doRequest(r, http.MethodGet, "/v1/risk/users/nobody/assessments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"assessments":[]`)
}

type unavailableStore struct{ brokenStore }

func (unavailableStore) ListByUser(context.Context, string, int) ([]*Assessment, error) {
	return nil, fmt.Errorf("list: %w", database.ErrUnavailable)
}

func TestHandler_HistoryStorageUnavailable(t *testing.T) {
	r, _ := setupHandlerTest(t, unavailableStore{})

	w := doRequest(r, http.MethodGet, "/v1/risk/users/alice/assessments", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "storage_unavailable")
}
