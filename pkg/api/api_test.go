package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func testServer() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{}
	s.router = gin.New()
	s.registerRoutes()
	return s
}

func TestPullJobHandler_MissingParamsReturns400(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/jobs/pull", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushJobHandler_InvalidJSONReturns400(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodPost, "/jobs/push", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushJobHandler_NonTerminalResultReturns422(t *testing.T) {
	s := testServer()
	body := `{"job_id":"1","worker_id":"w1","result":"pending"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs/push", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateJobHandler_MissingFieldsReturns400(t *testing.T) {
	s := testServer()
	body := `{"role":"coder"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobsHandler_MissingPipelineIDReturns400(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/jobs/list", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
