package decoy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupHandlerTest(t *testing.T) (*gin.Engine, *Engine, *fakeClock) {
	t.Helper()
	e, _, clock := newTestEngine()
	r := gin.New()
	NewHandler(e).RegisterRoutes(r.Group("/v1"))
	return r, e, clock
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

type sessionEnvelope struct {
	Session Session `json:"session"`
}

func TestHandler_CreateAndGet(t *testing.T) {
	r, _, _ := setupHandlerTest(t)

	w := doRequest(r, http.MethodPost, "/v1/decoys",
		`{"metadata":{"campaign":"q3"},"attackerIp":"9.9.9.9","ttlSeconds":120}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created sessionEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "9.9.9.9", created.Session.AttackerIP)
	assert.Equal(t, 120*time.Second, created.Session.ExpiresAt.Sub(created.Session.CreatedAt))

	w = doRequest(r, http.MethodGet, "/v1/decoys/"+created.Session.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got sessionEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.Session.ID, got.Session.ID)
	assert.Equal(t, StatusActive, got.Session.Status)
}

func TestHandler_CreateValidation(t *testing.T) {
	r, _, _ := setupHandlerTest(t)

	w := doRequest(r, http.MethodPost, "/v1/decoys", `{"attackerIp":"not-an-ip"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	w = doRequest(r, http.MethodPost, "/v1/decoys", `{"ttlSeconds":-5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/decoys", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetNotFoundAndMalformed(t *testing.T) {
	r, _, _ := setupHandlerTest(t)

	w := doRequest(r, http.MethodGet, "/v1/decoys/3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/decoys/garbage", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_MutationsOnUnknownSessionAreNotFound(t *testing.T) {
	r, e, _ := setupHandlerTest(t)
	base := "/v1/decoys/3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e"

	tests := []struct {
		path, body string
	}{
		{"/visit", `{"page":"/login"}`},
		{"/capture", `{"username":"admin","password":"x"}`},
		{"/terminate", `{}`},
		{"/container", `{"containerId":"c-1"}`},
	}
	for _, tc := range tests {
		w := doRequest(r, http.MethodPost, base+tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Contains(t, w.Body.String(), "not_found", tc.path)
	}

	// An existing but closed session is still a conflict.
	s := mustCreate(t, e, CreateRequest{})
	w := doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/terminate", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	for _, tc := range tests {
		w = doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+tc.path, tc.body)
		assert.Equal(t, http.StatusConflict, w.Code, tc.path)
	}
}

func TestHandler_VisitAndConflict(t *testing.T) {
	r, e, _ := setupHandlerTest(t)
	s := mustCreate(t, e, CreateRequest{})

	w := doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/visit", `{"page":"/login"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"recorded":true}`, w.Body.String())

	w = doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/visit", `{"page":"/login"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/visit", `{"page":"no-slash"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/visit", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CaptureRedactsPassword(t *testing.T) {
	r, e, _ := setupHandlerTest(t)
	s := mustCreate(t, e, CreateRequest{})

	w := doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/capture",
		`{"username":"admin","password":"Winter2024!"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/decoys/"+s.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "Winter2024!")

	var got sessionEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Session.Capture)
	assert.Equal(t, "admin", got.Session.Capture.Username)
	assert.Equal(t, "Wi***", got.Session.Capture.Password)
	assert.Equal(t, "/login", got.Session.Capture.Page)
	assert.Equal(t, []string{"/login"}, got.Session.VisitedPages)
}

func TestHandler_CaptureFieldLimits(t *testing.T) {
	r, e, _ := setupHandlerTest(t)
	s := mustCreate(t, e, CreateRequest{})

	// Passphrases longer than any username are still captured.
	long := strings.Repeat("p", validation.MaxUsernameLength+1)
	w := doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/capture",
		`{"username":"admin","password":"`+long+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	other := mustCreate(t, e, CreateRequest{})
	tooLong := strings.Repeat("p", validation.MaxPasswordLength+1)
	w = doRequest(r, http.MethodPost, "/v1/decoys/"+other.ID+"/capture",
		`{"username":"admin","password":"`+tooLong+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	w = doRequest(r, http.MethodPost, "/v1/decoys/"+other.ID+"/capture",
		`{"username":"`+strings.Repeat("u", validation.MaxUsernameLength+1)+`","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_TerminateThenMutate(t *testing.T) {
	r, e, _ := setupHandlerTest(t)
	s := mustCreate(t, e, CreateRequest{})

	w := doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/terminate", `{"reason":"contained"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/terminate", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/visit", `{"page":"/files"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_ListActive(t *testing.T) {
	r, e, clock := setupHandlerTest(t)
	mustCreate(t, e, CreateRequest{TTL: time.Minute})
	live := mustCreate(t, e, CreateRequest{TTL: time.Hour})
	clock.Advance(10 * time.Minute)

	w := doRequest(r, http.MethodGet, "/v1/decoys/active", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []Session `json:"sessions"`
		Count    int       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, live.ID, resp.Sessions[0].ID)
}

func TestHandler_ListActivePaged(t *testing.T) {
	r, e, clock := setupHandlerTest(t)
	var created []*Session
	for i := 0; i < 5; i++ {
		created = append(created, mustCreate(t, e, CreateRequest{}))
		clock.Advance(time.Second)
	}

	type page struct {
		Sessions   []Session `json:"sessions"`
		NextCursor string    `json:"nextCursor"`
		HasMore    bool      `json:"hasMore"`
	}
	var got []string
	cursor := ""
	for i := 0; i < 3; i++ {
		w := doRequest(r, http.MethodGet, "/v1/decoys/active?limit=2&cursor="+cursor, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var p page
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		for _, s := range p.Sessions {
			got = append(got, s.ID)
		}
		if !p.HasMore {
			break
		}
		cursor = p.NextCursor
	}

	require.Len(t, got, 5)
	for i, id := range got {
		assert.Equal(t, created[4-i].ID, id, "newest first")
	}

	w := doRequest(r, http.MethodGet, "/v1/decoys/active?cursor=***", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_cursor")
}

func TestHandler_ContainerAndWatermark(t *testing.T) {
	r, e, clock := setupHandlerTest(t)
	s := mustCreate(t, e, CreateRequest{AttackerIP: "9.9.9.9"})

	w := doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/container", `{"containerId":"ctr-42"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/decoys/"+s.ID+"/watermark",
		`{"watermarkTemplate":"{{session_id}}:{{attacker_ip}}:{{timestamp}}"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, s.ID[:8]+":9.9.9.9:"+clock.Now().UTC().Format("20060102-150405"), resp["watermark"])
}
