package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"silo-data/internal/cache"
	"silo-data/internal/domain"
	"silo-data/internal/repository"
)

// fakeSiloRepo in-memory SiloRepository
type fakeSiloRepo struct {
	silos map[string]domain.Silo // keyed by code
}

func newFakeSiloRepo(codes ...string) *fakeSiloRepo {
	repo := &fakeSiloRepo{silos: make(map[string]domain.Silo)}
	for _, code := range codes {
		repo.silos[code] = domain.Silo{
			SiloID:    "silo-" + code,
			SiloCode:  code,
			SiloName:  "Silo " + code,
			CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return repo
}

func (f *fakeSiloRepo) Resolve(ctx context.Context, code string) (string, error) {
	if silo, ok := f.silos[code]; ok {
		return silo.SiloID, nil
	}
	silo := domain.Silo{SiloID: "silo-" + code, SiloCode: code, SiloName: "Silo " + code}
	f.silos[code] = silo
	return silo.SiloID, nil
}

func (f *fakeSiloRepo) GetByCode(ctx context.Context, code string) (*domain.Silo, error) {
	silo, ok := f.silos[code]
	if !ok {
		return nil, domain.ErrSiloNotFound
	}
	return &silo, nil
}

func (f *fakeSiloRepo) List(ctx context.Context) ([]domain.Silo, error) {
	var out []domain.Silo
	for _, silo := range f.silos {
		out = append(out, silo)
	}
	return out, nil
}

// fakeReadingRepo in-memory ReadingRepository
type fakeReadingRepo struct {
	all         []domain.Reading // newest first
	latest      map[string]*domain.Reading
	latestCalls int
	stats       map[string]*domain.SiloStats
	buckets     []domain.HourlyBucket
	aggregates  []domain.SiloAggregate

	lastFilters ReadingFiltersRecorder
	lastStart   time.Time
	lastEnd     time.Time
	inserted    int
}

type ReadingFiltersRecorder struct {
	Set     bool
	Filters repository.ReadingFilters
}

func newFakeReadingRepo() *fakeReadingRepo {
	return &fakeReadingRepo{
		latest: make(map[string]*domain.Reading),
		stats:  make(map[string]*domain.SiloStats),
	}
}

func (f *fakeReadingRepo) InsertReading(ctx context.Context, siloID string, ts time.Time, temperature, humidity *float64, isError bool, raw *string) (bool, error) {
	f.inserted++
	return true, nil
}

func (f *fakeReadingRepo) ListReadings(ctx context.Context, filters repository.ReadingFilters) ([]domain.Reading, int, error) {
	f.lastFilters = ReadingFiltersRecorder{Set: true, Filters: filters}

	total := len(f.all)
	if filters.Offset >= total {
		return nil, total, nil
	}
	end := filters.Offset + filters.Limit
	if end > total {
		end = total
	}
	page := make([]domain.Reading, end-filters.Offset)
	copy(page, f.all[filters.Offset:end])
	return page, total, nil
}

func (f *fakeReadingRepo) LatestBySilo(ctx context.Context, siloID string) (*domain.Reading, error) {
	f.latestCalls++
	reading, ok := f.latest[siloID]
	if !ok {
		return nil, domain.ErrNoReadings
	}
	return reading, nil
}

func (f *fakeReadingRepo) LatestPerSilo(ctx context.Context) ([]domain.Reading, error) {
	var out []domain.Reading
	for _, r := range f.latest {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeReadingRepo) SiloStats(ctx context.Context, siloID string) (*domain.SiloStats, error) {
	if stats, ok := f.stats[siloID]; ok {
		return stats, nil
	}
	return &domain.SiloStats{}, nil
}

func (f *fakeReadingRepo) HourlyBuckets(ctx context.Context, siloID string, start, end time.Time) ([]domain.HourlyBucket, error) {
	f.lastStart, f.lastEnd = start, end
	return f.buckets, nil
}

func (f *fakeReadingRepo) CrossSiloStats(ctx context.Context, siloCode string, start, end *time.Time) ([]domain.SiloAggregate, error) {
	return f.aggregates, nil
}

// fakeKVStore in-memory KVStore, ignores TTL
type fakeKVStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]string)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.data[key]
	if !ok {
		return "", cache.ErrCacheMiss
	}
	return value, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func newTestQueryService(silos *fakeSiloRepo, readings *fakeReadingRepo) *QueryService {
	return NewQueryService(silos, readings, nil, zap.NewNop())
}

func ptr(v float64) *float64 { return &v }

func TestListReadings_DefaultsApplied(t *testing.T) {
	readings := newFakeReadingRepo()
	svc := newTestQueryService(newFakeSiloRepo("001"), readings)

	resp, err := svc.ListReadings(context.Background(), ListReadingsRequest{})
	require.NoError(t, err)

	assert.Equal(t, DefaultPageSize, resp.Pagination.Limit)
	require.True(t, readings.lastFilters.Set)
	assert.Equal(t, DefaultPageSize, readings.lastFilters.Filters.Limit)
	assert.True(t, readings.lastFilters.Filters.IncludeErrors, "errors included by default")
}

func TestListReadings_PaginationMath(t *testing.T) {
	readings := newFakeReadingRepo()
	for i := 0; i < 25; i++ {
		readings.all = append(readings.all, domain.Reading{ID: int64(i), SiloCode: "001"})
	}
	svc := newTestQueryService(newFakeSiloRepo("001"), readings)

	cases := []struct {
		limit, offset, expectLen int
		expectHasMore            bool
	}{
		{10, 0, 10, true},
		{10, 10, 10, true},
		{10, 20, 5, false},
		{10, 25, 0, false},
		{10, 30, 0, false},
		{100, 0, 25, false},
	}
	for _, tc := range cases {
		resp, err := svc.ListReadings(context.Background(), ListReadingsRequest{Limit: tc.limit, Offset: tc.offset})
		require.NoError(t, err, "limit=%d offset=%d", tc.limit, tc.offset)
		assert.Len(t, resp.Readings, tc.expectLen, "limit=%d offset=%d", tc.limit, tc.offset)
		assert.Equal(t, 25, resp.Pagination.Total)
		assert.Equal(t, tc.expectHasMore, resp.Pagination.HasMore, "limit=%d offset=%d", tc.limit, tc.offset)
	}
}

func TestListReadings_Validation(t *testing.T) {
	svc := newTestQueryService(newFakeSiloRepo(), newFakeReadingRepo())

	start := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []ListReadingsRequest{
		{Limit: -1},
		{Limit: MaxPageSize + 1},
		{Offset: -5},
		{StartTime: &start, EndTime: &end},
	}
	for i, req := range cases {
		_, err := svc.ListReadings(context.Background(), req)
		require.Error(t, err, "case %d", i)
		assert.True(t, domain.IsValidationError(err), "case %d", i)
	}
}

func TestGetSiloDetails_NotFound(t *testing.T) {
	svc := newTestQueryService(newFakeSiloRepo("001"), newFakeReadingRepo())

	_, err := svc.GetSiloDetails(context.Background(), "999")
	assert.ErrorIs(t, err, domain.ErrSiloNotFound)
}

func TestGetSiloDetails_RoundsAverages(t *testing.T) {
	silos := newFakeSiloRepo("001")
	readings := newFakeReadingRepo()
	readings.stats["silo-001"] = &domain.SiloStats{
		TotalCount:     36,
		ErrorCount:     2,
		AvgTemperature: ptr(21.4567),
		MinTemperature: ptr(19.25),
		MaxTemperature: ptr(24.125),
		AvgHumidity:    ptr(55.005),
	}
	svc := newTestQueryService(silos, readings)

	details, err := svc.GetSiloDetails(context.Background(), "001")
	require.NoError(t, err)

	assert.Equal(t, "001", details.SiloCode)
	require.NotNil(t, details.Stats.AvgTemperature)
	assert.Equal(t, 21.46, *details.Stats.AvgTemperature)
	// min/max keep native precision
	assert.Equal(t, 19.25, *details.Stats.MinTemperature)
	assert.Equal(t, 24.125, *details.Stats.MaxTemperature)
}

func TestLatestReading_NotFoundVsNoReadings(t *testing.T) {
	silos := newFakeSiloRepo("001")
	readings := newFakeReadingRepo()
	svc := newTestQueryService(silos, readings)

	_, err := svc.LatestReading(context.Background(), "999")
	assert.ErrorIs(t, err, domain.ErrSiloNotFound)

	_, err = svc.LatestReading(context.Background(), "001")
	assert.ErrorIs(t, err, domain.ErrNoReadings)
}

func TestLatestReading_CacheReadThrough(t *testing.T) {
	silos := newFakeSiloRepo("001")
	readings := newFakeReadingRepo()
	readings.latest["silo-001"] = &domain.Reading{
		ID:        7,
		SiloCode:  "001",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	latestCache := cache.NewLatestReadingCache(newFakeKVStore(), zap.NewNop())
	svc := NewQueryService(silos, readings, latestCache, zap.NewNop())

	first, err := svc.LatestReading(context.Background(), "001")
	require.NoError(t, err)
	assert.Equal(t, int64(7), first.ID)
	assert.Equal(t, 1, readings.latestCalls)

	// second call served from cache
	second, err := svc.LatestReading(context.Background(), "001")
	require.NoError(t, err)
	assert.Equal(t, int64(7), second.ID)
	assert.Equal(t, 1, readings.latestCalls)
}

func TestHourlyAnalytics_DefaultWindow(t *testing.T) {
	silos := newFakeSiloRepo("001")
	readings := newFakeReadingRepo()
	svc := newTestQueryService(silos, readings)

	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.HourlyAnalytics(context.Background(), "001", AnalyticsWindow{})
	require.NoError(t, err)

	assert.Equal(t, now, readings.lastEnd)
	assert.Equal(t, now.Add(-DefaultWindowHours*time.Hour), readings.lastStart)
}

func TestHourlyAnalytics_WindowValidation(t *testing.T) {
	svc := newTestQueryService(newFakeSiloRepo("001"), newFakeReadingRepo())

	_, err := svc.HourlyAnalytics(context.Background(), "001", AnalyticsWindow{Hours: MaxWindowHours + 1})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))

	_, err = svc.HourlyAnalytics(context.Background(), "001", AnalyticsWindow{Hours: -1})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestHourlyAnalytics_UnknownSilo(t *testing.T) {
	svc := newTestQueryService(newFakeSiloRepo(), newFakeReadingRepo())

	_, err := svc.HourlyAnalytics(context.Background(), "999", AnalyticsWindow{Hours: 24})
	assert.ErrorIs(t, err, domain.ErrSiloNotFound)
}

func TestHourlyAnalytics_RoundsAverages(t *testing.T) {
	silos := newFakeSiloRepo("001")
	readings := newFakeReadingRepo()
	readings.buckets = []domain.HourlyBucket{
		{
			BucketStart:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			ReadingCount:   12,
			AvgTemperature: ptr(21.0349),
			AvgHumidity:    ptr(54.999),
		},
	}
	svc := newTestQueryService(silos, readings)

	buckets, err := svc.HourlyAnalytics(context.Background(), "001", AnalyticsWindow{Hours: 24})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 21.03, *buckets[0].AvgTemperature)
	assert.Equal(t, 55.0, *buckets[0].AvgHumidity)
}

func TestCrossSiloStats_UnknownScopedSilo(t *testing.T) {
	svc := newTestQueryService(newFakeSiloRepo("001"), newFakeReadingRepo())

	_, err := svc.CrossSiloStats(context.Background(), "999", nil)
	assert.ErrorIs(t, err, domain.ErrSiloNotFound)
}

func TestCrossSiloStats_RoundsAverages(t *testing.T) {
	readings := newFakeReadingRepo()
	readings.aggregates = []domain.SiloAggregate{
		{SiloCode: "001", SiloStats: domain.SiloStats{TotalCount: 3, AvgTemperature: ptr(22.3333)}},
	}
	svc := newTestQueryService(newFakeSiloRepo("001"), readings)

	aggregates, err := svc.CrossSiloStats(context.Background(), "", nil)
	require.NoError(t, err)
	require.Len(t, aggregates, 1)
	assert.Equal(t, 22.33, *aggregates[0].AvgTemperature)
}
