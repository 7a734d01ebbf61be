package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/store"
	"github.com/sells-group/crm-migrate/internal/store/mocks"
)

// seededStore returns a SQLite store holding one finished run with two associations.
func seededStore(t *testing.T) (store.Store, string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	run, err := st.CreateRun(ctx, "/data/snapshot")
	require.NoError(t, err)
	require.NoError(t, st.SaveOutputs(ctx, run.ID, store.Outputs{
		Companies: []model.CompanyRecord{{ID: 1, Name: "Acme", BaseName: "Acme", DomainKey: "acme.com", RecordType: model.RecordStandalone}},
		Associations: []model.AssociationRecord{
			{SourceEntity: model.EntityDeal, SourceID: 10, TargetEntity: model.EntityCompany, TargetID: model.Int64Ptr(1), Status: model.StatusResolved},
			{SourceEntity: model.EntityDeal, SourceID: 11, TargetEntity: model.EntityCompany, Status: model.StatusUnresolvedTarget},
		},
	}))
	require.NoError(t, st.UpdateRunResult(ctx, run.ID, &model.RunResult{Success: true, Associations: 2, Unresolved: 1}))
	return st, run.ID
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Health(t *testing.T) {
	h := buildRouter(nil, []string{"*"})

	rr := serve(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_Runs(t *testing.T) {
	st, runID := seededStore(t)
	h := buildRouter(st, []string{"*"})

	rr := serve(t, h, http.MethodGet, "/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)

	rr = serve(t, h, http.MethodGet, "/runs?status=failed")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/runs/"+runID)
	require.Equal(t, http.StatusOK, rr.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	require.NotNil(t, run.Result)
	assert.Equal(t, 1, run.Result.Unresolved)
}

func TestBuildRouter_Associations(t *testing.T) {
	st, runID := seededStore(t)
	h := buildRouter(st, []string{"*"})

	rr := serve(t, h, http.MethodGet, "/runs/"+runID+"/associations")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []model.AssociationRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	rr = serve(t, h, http.MethodGet, "/runs/"+runID+"/associations?status=UnresolvedTarget")
	require.Equal(t, http.StatusOK, rr.Code)
	recs = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, int64(11), recs[0].SourceID)
}

func TestBuildRouter_NotFound(t *testing.T) {
	st, _ := seededStore(t)
	h := buildRouter(st, []string{"*"})

	for _, target := range []string{"/runs/missing", "/runs/missing/associations"} {
		rr := serve(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rr.Code, target)
		assert.Contains(t, rr.Body.String(), "run not found")
	}
}

func TestBuildRouter_BadFilter(t *testing.T) {
	h := buildRouter(mocks.NewMockStore(t), []string{"*"})

	rr := serve(t, h, http.MethodGet, "/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid limit")

	rr = serve(t, h, http.MethodGet, "/runs?offset=-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_StoreError(t *testing.T) {
	st := mocks.NewMockStore(t)
	st.On("ListRuns", mock.Anything, store.RunFilter{Limit: 5}).Return(nil, errors.New("connection reset"))
	st.On("GetRun", mock.Anything, "r1").Return(nil, errors.New("connection reset"))
	h := buildRouter(st, []string{"*"})

	rr := serve(t, h, http.MethodGet, "/runs?limit=5")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection reset")

	rr = serve(t, h, http.MethodGet, "/runs/r1")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestBuildRouter_CORS(t *testing.T) {
	h := buildRouter(nil, []string{"https://ops.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://ops.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
