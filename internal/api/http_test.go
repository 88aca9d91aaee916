package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/config"
	"github.com/abelzeko/station-reducer/internal/repository"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleDocument = "../integration/testdata/campos.xml"

func sampleBytes(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(sampleDocument)
	require.NoError(t, err)
	return data
}

func newTestUseCase(t *testing.T, withRepo bool) *usecases.ReductionUseCase {
	t.Helper()
	var repo repository.ReductionRepository
	if withRepo {
		r, err := repository.NewSQLiteReductionRepository(filepath.Join(t.TempDir(), "runs.db"), zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { r.Close() })
		repo = r
	}
	return usecases.NewReductionUseCase(repo, nil, nil, zap.NewNop(), usecases.Options{Workers: 2})
}

func newTestServer(t *testing.T, uc *usecases.ReductionUseCase, cfg config.HTTPConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHTTPServer(uc, cfg, zap.NewNop()).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newTestUseCase(t, false), config.HTTPConfig{})

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestReduceAndQueryRuns(t *testing.T) {
	srv := newTestServer(t, newTestUseCase(t, true), config.HTTPConfig{})

	res, err := http.Post(srv.URL+"/api/reductions?source=campos.xml", "application/xml", bytes.NewReader(sampleBytes(t)))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	runID := res.Header.Get("X-Run-ID")
	require.NotEmpty(t, runID)
	assert.Equal(t, "0", res.Header.Get("X-Fields-Failed"))
	assert.Contains(t, res.Header.Get("Content-Type"), "application/xml")

	var body bytes.Buffer
	_, err = body.ReadFrom(res.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "estacionesBaseReducidas")

	runsRes, err := http.Get(srv.URL + "/api/runs?limit=5")
	require.NoError(t, err)
	defer runsRes.Body.Close()
	require.Equal(t, http.StatusOK, runsRes.StatusCode)

	var runs []runResponse
	require.NoError(t, json.NewDecoder(runsRes.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "campos.xml", runs[0].Source)
	assert.Equal(t, 3, runs[0].Groups)

	groupsRes, err := http.Get(srv.URL + "/api/runs/" + runID + "/fields/01/groups")
	require.NoError(t, err)
	defer groupsRes.Body.Close()
	require.Equal(t, http.StatusOK, groupsRes.StatusCode)

	var groups []groupResponse
	require.NoError(t, json.NewDecoder(groupsRes.Body).Decode(&groups))
	require.Len(t, groups, 2)
	assert.Equal(t, "e01", groups[0].Representative)
	assert.Equal(t, []totalResponse{
		{Sensor: "s01", Category: "soil", Value: 8},
		{Sensor: "t01", Category: "crop", Value: 6},
	}, groups[0].Totals)

	missing, err := http.Get(srv.URL + "/api/runs/" + runID + "/fields/99/groups")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestReduceRejectsInvalidDocument(t *testing.T) {
	srv := newTestServer(t, newTestUseCase(t, false), config.HTTPConfig{})

	for _, body := range []string{"<broken", "<camposAgricolas></camposAgricolas>"} {
		res, err := http.Post(srv.URL+"/api/reductions", "application/xml", strings.NewReader(body))
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, body)
	}
}

func TestReduceRejectsSharedSensorID(t *testing.T) {
	srv := newTestServer(t, newTestUseCase(t, true), config.HTTPConfig{})

	doc := `<camposAgricolas><campo id="c1"><estacionesBase><estacion id="e1" nombre="Uno"/></estacionesBase>
<sensoresSuelo><sensorS id="x1"><frecuencia idEstacion="e1">3</frecuencia></sensorS></sensoresSuelo>
<sensoresCultivo><sensorT id="x1"><frecuencia idEstacion="e1">10</frecuencia></sensorT></sensoresCultivo></campo></camposAgricolas>`
	res, err := http.Post(srv.URL+"/api/reductions", "application/xml", strings.NewReader(doc))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestReduceStoreFailure(t *testing.T) {
	repo, err := repository.NewSQLiteReductionRepository(filepath.Join(t.TempDir(), "runs.db"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	uc := usecases.NewReductionUseCase(repo, nil, nil, zap.NewNop(), usecases.Options{Workers: 2})
	srv := newTestServer(t, uc, config.HTTPConfig{})

	res, err := http.Post(srv.URL+"/api/reductions", "application/xml", bytes.NewReader(sampleBytes(t)))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Empty(t, res.Header.Get("X-Run-ID"))
}

func TestReduceAbortedBatch(t *testing.T) {
	handler := NewHTTPServer(newTestUseCase(t, true), config.HTTPConfig{}, zap.NewNop()).Routes()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/reductions", bytes.NewReader(sampleBytes(t))).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "context canceled")
}

func TestRunsWithoutHistory(t *testing.T) {
	srv := newTestServer(t, newTestUseCase(t, false), config.HTTPConfig{})

	res, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	bad, err := http.Get(srv.URL + "/api/runs?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, newTestUseCase(t, true), config.HTTPConfig{JWTSecret: secret})

	res, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	wrong, err := SignToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)
	token, err := SignToken(secret, "ops", time.Hour)
	require.NoError(t, err)

	for _, tc := range []struct {
		token string
		want  int
	}{
		{wrong, http.StatusUnauthorized},
		{token, http.StatusOK},
	} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/runs", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, tc.want, res.StatusCode)
	}

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestSignTokenRequiresSecret(t *testing.T) {
	_, err := SignToken("", "ops", time.Hour)
	require.Error(t, err)

	token, err := SignToken("s", "ops", time.Hour)
	require.NoError(t, err)
	sub, err := parseToken("s", token)
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)

	expired, err := SignToken("s", "ops", -time.Minute)
	require.NoError(t, err)
	_, err = parseToken("s", expired)
	require.Error(t, err)
}
