package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"silo-data/internal/cache"
	"silo-data/internal/domain"
	"silo-data/internal/repository"

	"go.uber.org/zap"
)

const (
	// DefaultPageSize 读数列表默认页大小
	DefaultPageSize = 100
	// MaxPageSize 读数列表页大小上限
	MaxPageSize = 1000
	// DefaultWindowHours 小时聚合默认时间窗口
	DefaultWindowHours = 24
	// MaxWindowHours 小时聚合时间窗口上限（7 天）
	MaxWindowHours = 168
)

// ListReadingsRequest 读数列表查询参数
type ListReadingsRequest struct {
	SiloCode      string
	StartTime     *time.Time
	EndTime       *time.Time
	IncludeErrors *bool // nil 时默认包含
	Limit         int   // 0 时取默认值
	Offset        int
}

// Pagination 分页信息
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListReadingsResponse 读数列表结果
type ListReadingsResponse struct {
	Readings   []domain.Reading `json:"readings"`
	Pagination Pagination       `json:"pagination"`
}

// SiloDetails 筒仓详情（含统计）
type SiloDetails struct {
	domain.Silo
	Stats domain.SiloStats `json:"stats"`
}

// AnalyticsWindow 聚合时间窗口：显式 start/end，或最近 N 小时
type AnalyticsWindow struct {
	StartTime *time.Time
	EndTime   *time.Time
	Hours     int // 0 时取默认值
}

// QueryService 查询/聚合服务，只读
type QueryService struct {
	silos       repository.SiloRepository
	readings    repository.ReadingRepository
	latestCache *cache.LatestReadingCache // 可为 nil（Redis 关闭时）
	logger      *zap.Logger
	now         func() time.Time // 测试注入
}

func NewQueryService(silos repository.SiloRepository, readings repository.ReadingRepository, latestCache *cache.LatestReadingCache, logger *zap.Logger) *QueryService {
	return &QueryService{
		silos:       silos,
		readings:    readings,
		latestCache: latestCache,
		logger:      logger,
		now:         time.Now,
	}
}

// ListSilos 按编号升序返回全部筒仓
func (s *QueryService) ListSilos(ctx context.Context) ([]domain.Silo, error) {
	return s.silos.List(ctx)
}

// GetSiloDetails 筒仓详情；未知编号返回 domain.ErrSiloNotFound，
// 区别于空统计对象
func (s *QueryService) GetSiloDetails(ctx context.Context, code string) (*SiloDetails, error) {
	silo, err := s.silos.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	stats, err := s.readings.SiloStats(ctx, silo.SiloID)
	if err != nil {
		return nil, err
	}
	roundStats(stats)

	return &SiloDetails{Silo: *silo, Stats: *stats}, nil
}

// ListReadings 过滤+分页查询，时间倒序
func (s *QueryService) ListReadings(ctx context.Context, req ListReadingsRequest) (*ListReadingsResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 0 {
		return nil, domain.NewValidationError("limit", "must be positive")
	}
	if limit > MaxPageSize {
		return nil, domain.NewValidationError("limit", fmt.Sprintf("must not exceed %d", MaxPageSize))
	}
	if req.Offset < 0 {
		return nil, domain.NewValidationError("offset", "must not be negative")
	}
	if req.StartTime != nil && req.EndTime != nil && req.StartTime.After(*req.EndTime) {
		return nil, domain.NewValidationError("start_time", "must not be after end_time")
	}

	includeErrors := true
	if req.IncludeErrors != nil {
		includeErrors = *req.IncludeErrors
	}

	readings, total, err := s.readings.ListReadings(ctx, repository.ReadingFilters{
		SiloCode:      req.SiloCode,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		IncludeErrors: includeErrors,
		Limit:         limit,
		Offset:        req.Offset,
	})
	if err != nil {
		return nil, err
	}
	if readings == nil {
		readings = []domain.Reading{}
	}

	return &ListReadingsResponse{
		Readings: readings,
		Pagination: Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  req.Offset,
			HasMore: req.Offset+len(readings) < total,
		},
	}, nil
}

// LatestReading 单筒仓最新读数。缓存读穿透：命中直接返回，未命中查库并回填。
func (s *QueryService) LatestReading(ctx context.Context, code string) (*domain.Reading, error) {
	if s.latestCache != nil {
		if reading, ok := s.latestCache.Get(ctx, code); ok {
			return reading, nil
		}
	}

	silo, err := s.silos.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	reading, err := s.readings.LatestBySilo(ctx, silo.SiloID)
	if err != nil {
		return nil, err
	}

	if s.latestCache != nil {
		s.latestCache.Set(ctx, code, reading)
	}

	return reading, nil
}

// LatestPerSilo 每个筒仓的最新读数，按编号升序；没有读数的筒仓被省略
func (s *QueryService) LatestPerSilo(ctx context.Context) ([]domain.Reading, error) {
	return s.readings.LatestPerSilo(ctx)
}

// resolveWindow 把 AnalyticsWindow 正规化为 [start, end]。
// 两端都缺省时取最近 Hours 小时（默认 24，上限 168）。
func (s *QueryService) resolveWindow(w AnalyticsWindow) (time.Time, time.Time, error) {
	if w.Hours < 0 {
		return time.Time{}, time.Time{}, domain.NewValidationError("hours", "must be positive")
	}
	if w.Hours > MaxWindowHours {
		return time.Time{}, time.Time{}, domain.NewValidationError("hours", fmt.Sprintf("must not exceed %d", MaxWindowHours))
	}

	hours := w.Hours
	if hours == 0 {
		hours = DefaultWindowHours
	}

	if w.StartTime == nil && w.EndTime == nil {
		end := s.now()
		return end.Add(-time.Duration(hours) * time.Hour), end, nil
	}

	end := s.now()
	if w.EndTime != nil {
		end = *w.EndTime
	}
	start := end.Add(-time.Duration(hours) * time.Hour)
	if w.StartTime != nil {
		start = *w.StartTime
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, domain.NewValidationError("start_time", "must not be after end_time")
	}

	return start, end, nil
}

// HourlyAnalytics 按小时聚合一个筒仓的读数；空桶省略，桶起始时间升序
func (s *QueryService) HourlyAnalytics(ctx context.Context, code string, window AnalyticsWindow) ([]domain.HourlyBucket, error) {
	start, end, err := s.resolveWindow(window)
	if err != nil {
		return nil, err
	}

	silo, err := s.silos.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	buckets, err := s.readings.HourlyBuckets(ctx, silo.SiloID, start, end)
	if err != nil {
		return nil, err
	}

	for i := range buckets {
		buckets[i].AvgTemperature = round2(buckets[i].AvgTemperature)
		buckets[i].AvgHumidity = round2(buckets[i].AvgHumidity)
	}

	return buckets, nil
}

// CrossSiloStats 跨筒仓统计，可选限定单个筒仓和时间窗口
func (s *QueryService) CrossSiloStats(ctx context.Context, code string, window *AnalyticsWindow) ([]domain.SiloAggregate, error) {
	var start, end *time.Time
	if window != nil {
		from, to, err := s.resolveWindow(*window)
		if err != nil {
			return nil, err
		}
		start, end = &from, &to
	}

	if code != "" {
		if _, err := s.silos.GetByCode(ctx, code); err != nil {
			return nil, err
		}
	}

	aggregates, err := s.readings.CrossSiloStats(ctx, code, start, end)
	if err != nil {
		return nil, err
	}

	for i := range aggregates {
		roundStats(&aggregates[i].SiloStats)
	}

	return aggregates, nil
}

// round2 平均值按两位小数呈现；最小/最大保留原始精度
func round2(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*100) / 100
	return &r
}

func roundStats(stats *domain.SiloStats) {
	stats.AvgTemperature = round2(stats.AvgTemperature)
	stats.AvgHumidity = round2(stats.AvgHumidity)
}
