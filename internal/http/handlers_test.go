package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"silo-data/internal/domain"
	"silo-data/internal/repository"
	"silo-data/internal/service"
)

// stubSiloRepo in-memory SiloRepository
type stubSiloRepo struct {
	silos map[string]domain.Silo
}

func newStubSiloRepo(codes ...string) *stubSiloRepo {
	s := &stubSiloRepo{silos: make(map[string]domain.Silo)}
	for _, code := range codes {
		s.silos[code] = domain.Silo{SiloID: "silo-" + code, SiloCode: code, SiloName: "Silo " + code}
	}
	return s
}

func (s *stubSiloRepo) Resolve(ctx context.Context, code string) (string, error) {
	if silo, ok := s.silos[code]; ok {
		return silo.SiloID, nil
	}
	s.silos[code] = domain.Silo{SiloID: "silo-" + code, SiloCode: code, SiloName: "Silo " + code}
	return "silo-" + code, nil
}

func (s *stubSiloRepo) GetByCode(ctx context.Context, code string) (*domain.Silo, error) {
	silo, ok := s.silos[code]
	if !ok {
		return nil, domain.ErrSiloNotFound
	}
	return &silo, nil
}

func (s *stubSiloRepo) List(ctx context.Context) ([]domain.Silo, error) {
	var out []domain.Silo
	for _, silo := range s.silos {
		out = append(out, silo)
	}
	return out, nil
}

// stubReadingRepo in-memory ReadingRepository
type stubReadingRepo struct {
	readings []domain.Reading
	latest   map[string]*domain.Reading
	inserted int
}

func newStubReadingRepo() *stubReadingRepo {
	return &stubReadingRepo{latest: make(map[string]*domain.Reading)}
}

func (s *stubReadingRepo) InsertReading(ctx context.Context, siloID string, ts time.Time, temperature, humidity *float64, isError bool, raw *string) (bool, error) {
	s.inserted++
	return true, nil
}

func (s *stubReadingRepo) ListReadings(ctx context.Context, filters repository.ReadingFilters) ([]domain.Reading, int, error) {
	return s.readings, len(s.readings), nil
}

func (s *stubReadingRepo) LatestBySilo(ctx context.Context, siloID string) (*domain.Reading, error) {
	reading, ok := s.latest[siloID]
	if !ok {
		return nil, domain.ErrNoReadings
	}
	return reading, nil
}

func (s *stubReadingRepo) LatestPerSilo(ctx context.Context) ([]domain.Reading, error) {
	return s.readings, nil
}

func (s *stubReadingRepo) SiloStats(ctx context.Context, siloID string) (*domain.SiloStats, error) {
	return &domain.SiloStats{}, nil
}

func (s *stubReadingRepo) HourlyBuckets(ctx context.Context, siloID string, start, end time.Time) ([]domain.HourlyBucket, error) {
	return nil, nil
}

func (s *stubReadingRepo) CrossSiloStats(ctx context.Context, siloCode string, start, end *time.Time) ([]domain.SiloAggregate, error) {
	return nil, nil
}

func newTestRouter(silos *stubSiloRepo, readings *stubReadingRepo) *Router {
	logger := zap.NewNop()
	ingestSvc := service.NewIngestService(silos, readings, "timestamp", logger)
	querySvc := service.NewQueryService(silos, readings, nil, logger)
	handler := NewHandler(ingestSvc, querySvc, 32<<20, logger)
	router := NewRouter(logger)
	router.RegisterSiloRoutes(handler)
	return router
}

func doRequest(router *Router, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(newStubSiloRepo(), newStubReadingRepo())

	rec := doRequest(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestEndpoint(t *testing.T) {
	readings := newStubReadingRepo()
	router := newTestRouter(newStubSiloRepo(), readings)

	doc := "timestamp,sensor_silo001_temp,sensor_silo001_hum\n2024-03-01 10:00:00,21.5,55.0\n"
	rec := doRequest(router, http.MethodPost, "/api/v1/ingest", doc)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success          bool `json:"success"`
		RowsProcessed    int  `json:"rows_processed"`
		ReadingsInserted int  `json:"readings_inserted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.RowsProcessed)
	assert.Equal(t, 1, resp.ReadingsInserted)
	assert.Equal(t, 1, readings.inserted)
}

func TestIngestEndpoint_BadDocument(t *testing.T) {
	router := newTestRouter(newStubSiloRepo(), newStubReadingRepo())

	rec := doRequest(router, http.MethodPost, "/api/v1/ingest", "no_timestamp_here\n1\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEndpoint_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(newStubSiloRepo(), newStubReadingRepo())

	rec := doRequest(router, http.MethodGet, "/api/v1/ingest", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetSiloDetails_PathDispatch(t *testing.T) {
	silos := newStubSiloRepo("001")
	readings := newStubReadingRepo()
	readings.latest["silo-001"] = &domain.Reading{ID: 1, SiloCode: "001", Timestamp: time.Now().UTC()}
	router := newTestRouter(silos, readings)

	rec := doRequest(router, http.MethodGet, "/api/v1/silos/001", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/silos/001/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/silos/001/analytics/hourly", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/silos/001/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSiloDetails_UnknownSilo(t *testing.T) {
	router := newTestRouter(newStubSiloRepo("001"), newStubReadingRepo())

	rec := doRequest(router, http.MethodGet, "/api/v1/silos/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestReading_NoReadings(t *testing.T) {
	router := newTestRouter(newStubSiloRepo("001"), newStubReadingRepo())

	rec := doRequest(router, http.MethodGet, "/api/v1/silos/001/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReadings_QueryValidation(t *testing.T) {
	router := newTestRouter(newStubSiloRepo(), newStubReadingRepo())

	rec := doRequest(router, http.MethodGet, "/api/v1/readings?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/readings?limit=2000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/readings?start_time=not-a-time", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/readings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHourlyAnalytics_QueryValidation(t *testing.T) {
	router := newTestRouter(newStubSiloRepo("001"), newStubReadingRepo())

	rec := doRequest(router, http.MethodGet, "/api/v1/silos/001/analytics/hourly?hours=200", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/silos/001/analytics/hourly?hours=48", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCrossSiloStats(t *testing.T) {
	router := newTestRouter(newStubSiloRepo("001"), newStubReadingRepo())

	rec := doRequest(router, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/v1/stats?silo=999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
