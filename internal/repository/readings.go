package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"silo-data/internal/domain"

	"go.uber.org/zap"
)

// ReadingFilters 读数列表过滤条件
type ReadingFilters struct {
	SiloCode      string
	StartTime     *time.Time // inclusive
	EndTime       *time.Time // inclusive
	IncludeErrors bool
	Limit         int
	Offset        int
}

// ReadingRepository 读数存储
type ReadingRepository interface {
	// InsertReading 幂等追加一条读数：(silo_id, timestamp) 已存在时为空操作，
	// 返回 inserted=false 且不报错
	InsertReading(ctx context.Context, siloID string, ts time.Time, temperature, humidity *float64, isError bool, raw *string) (bool, error)
	// ListReadings 按过滤条件查询，时间倒序，返回总数用于分页
	ListReadings(ctx context.Context, filters ReadingFilters) ([]domain.Reading, int, error)
	// LatestBySilo 单个筒仓的最新读数，没有读数返回 domain.ErrNoReadings
	LatestBySilo(ctx context.Context, siloID string) (*domain.Reading, error)
	// LatestPerSilo 每个筒仓的最新读数，按编号升序；没有读数的筒仓被省略
	LatestPerSilo(ctx context.Context) ([]domain.Reading, error)
	// SiloStats 单筒仓统计
	SiloStats(ctx context.Context, siloID string) (*domain.SiloStats, error)
	// HourlyBuckets 按小时聚合，桶起始时间升序，空桶省略
	HourlyBuckets(ctx context.Context, siloID string, start, end time.Time) ([]domain.HourlyBucket, error)
	// CrossSiloStats 跨筒仓统计，仅统计 temperature 非空的行，按编号升序
	CrossSiloStats(ctx context.Context, siloCode string, start, end *time.Time) ([]domain.SiloAggregate, error)
}

// PostgresReadingRepository ReadingRepository 的 PostgreSQL 实现
type PostgresReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ ReadingRepository = (*PostgresReadingRepository)(nil)

func NewPostgresReadingRepository(db *sql.DB, logger *zap.Logger) *PostgresReadingRepository {
	return &PostgresReadingRepository{db: db, logger: logger}
}

// InsertReading 依赖 readings(silo_id, timestamp) 唯一约束做原子的
// "insert if absent"，这是去重的唯一手段（没有应用层 check-then-insert）。
func (r *PostgresReadingRepository) InsertReading(ctx context.Context, siloID string, ts time.Time, temperature, humidity *float64, isError bool, raw *string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (silo_id, timestamp, temperature, humidity, is_error, raw_value)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (silo_id, timestamp) DO NOTHING`,
		siloID, ts, temperature, humidity, isError, raw,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert reading: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return affected == 1, nil
}

const readingColumns = `
	r.id,
	r.silo_id::text,
	s.silo_code,
	r.timestamp,
	r.temperature,
	r.humidity,
	r.is_error,
	r.raw_value,
	r.created_at
`

// buildWhereClause 构建 WHERE 子句
func buildWhereClause(filters ReadingFilters, args *[]interface{}, argN *int) string {
	var where []string

	if filters.SiloCode != "" {
		where = append(where, fmt.Sprintf("s.silo_code = $%d", *argN))
		*args = append(*args, filters.SiloCode)
		*argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("r.timestamp >= $%d", *argN))
		*args = append(*args, *filters.StartTime)
		*argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("r.timestamp <= $%d", *argN))
		*args = append(*args, *filters.EndTime)
		*argN++
	}
	if !filters.IncludeErrors {
		where = append(where, "r.is_error = FALSE")
	}

	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

func (r *PostgresReadingRepository) ListReadings(ctx context.Context, filters ReadingFilters) ([]domain.Reading, int, error) {
	var args []interface{}
	argN := 1
	whereClause := buildWhereClause(filters, &args, &argN)

	countQuery := `
		SELECT COUNT(*)
		FROM readings r
		INNER JOIN silos s ON r.silo_id = s.silo_id` + whereClause

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count readings: %w", err)
	}

	listQuery := `
		SELECT ` + readingColumns + `
		FROM readings r
		INNER JOIN silos s ON r.silo_id = s.silo_id` + whereClause + fmt.Sprintf(`
		ORDER BY r.timestamp DESC
		LIMIT $%d OFFSET $%d`, argN, argN+1)
	args = append(args, filters.Limit, filters.Offset)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, 0, err
	}

	return readings, total, nil
}

func (r *PostgresReadingRepository) LatestBySilo(ctx context.Context, siloID string) (*domain.Reading, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM readings r
		INNER JOIN silos s ON r.silo_id = s.silo_id
		WHERE r.silo_id = $1
		ORDER BY r.timestamp DESC
		LIMIT 1`, siloID)

	reading, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoReadings
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return reading, nil
}

func (r *PostgresReadingRepository) LatestPerSilo(ctx context.Context) ([]domain.Reading, error) {
	// DISTINCT ON 要求内层按 silo_id 排序，外层再按编号排
	rows, err := r.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT DISTINCT ON (r.silo_id) `+readingColumns+`
			FROM readings r
			INNER JOIN silos s ON r.silo_id = s.silo_id
			ORDER BY r.silo_id, r.timestamp DESC
		) latest
		ORDER BY latest.silo_code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

func (r *PostgresReadingRepository) SiloStats(ctx context.Context, siloID string) (*domain.SiloStats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_error),
			AVG(temperature) FILTER (WHERE NOT is_error),
			MIN(temperature) FILTER (WHERE NOT is_error),
			MAX(temperature) FILTER (WHERE NOT is_error),
			AVG(humidity) FILTER (WHERE NOT is_error),
			MIN(humidity) FILTER (WHERE NOT is_error),
			MAX(humidity) FILTER (WHERE NOT is_error)
		FROM readings
		WHERE silo_id = $1`, siloID)

	var stats domain.SiloStats
	var avgT, minT, maxT, avgH, minH, maxH sql.NullFloat64
	if err := row.Scan(&stats.TotalCount, &stats.ErrorCount, &avgT, &minT, &maxT, &avgH, &minH, &maxH); err != nil {
		return nil, fmt.Errorf("failed to query silo stats: %w", err)
	}

	stats.AvgTemperature = nullableFloat(avgT)
	stats.MinTemperature = nullableFloat(minT)
	stats.MaxTemperature = nullableFloat(maxT)
	stats.AvgHumidity = nullableFloat(avgH)
	stats.MinHumidity = nullableFloat(minH)
	stats.MaxHumidity = nullableFloat(maxH)

	return &stats, nil
}

func (r *PostgresReadingRepository) HourlyBuckets(ctx context.Context, siloID string, start, end time.Time) ([]domain.HourlyBucket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			date_trunc('hour', timestamp) AS bucket_start,
			COUNT(*),
			COUNT(*) FILTER (WHERE is_error),
			AVG(temperature) FILTER (WHERE NOT is_error),
			MIN(temperature) FILTER (WHERE NOT is_error),
			MAX(temperature) FILTER (WHERE NOT is_error),
			AVG(humidity) FILTER (WHERE NOT is_error),
			MIN(humidity) FILTER (WHERE NOT is_error),
			MAX(humidity) FILTER (WHERE NOT is_error)
		FROM readings
		WHERE silo_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY bucket_start
		ORDER BY bucket_start ASC`, siloID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly buckets: %w", err)
	}
	defer rows.Close()

	var buckets []domain.HourlyBucket
	for rows.Next() {
		var b domain.HourlyBucket
		var avgT, minT, maxT, avgH, minH, maxH sql.NullFloat64
		if err := rows.Scan(&b.BucketStart, &b.ReadingCount, &b.ErrorCount, &avgT, &minT, &maxT, &avgH, &minH, &maxH); err != nil {
			return nil, fmt.Errorf("failed to scan hourly bucket: %w", err)
		}
		b.AvgTemperature = nullableFloat(avgT)
		b.MinTemperature = nullableFloat(minT)
		b.MaxTemperature = nullableFloat(maxT)
		b.AvgHumidity = nullableFloat(avgH)
		b.MinHumidity = nullableFloat(minH)
		b.MaxHumidity = nullableFloat(maxH)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hourly buckets: %w", err)
	}

	return buckets, nil
}

func (r *PostgresReadingRepository) CrossSiloStats(ctx context.Context, siloCode string, start, end *time.Time) ([]domain.SiloAggregate, error) {
	// 仅统计 temperature 非空的行；humidity 可以为空，AVG 会自动忽略
	where := []string{"r.temperature IS NOT NULL"}
	var args []interface{}
	argN := 1

	if siloCode != "" {
		where = append(where, fmt.Sprintf("s.silo_code = $%d", argN))
		args = append(args, siloCode)
		argN++
	}
	if start != nil {
		where = append(where, fmt.Sprintf("r.timestamp >= $%d", argN))
		args = append(args, *start)
		argN++
	}
	if end != nil {
		where = append(where, fmt.Sprintf("r.timestamp <= $%d", argN))
		args = append(args, *end)
		argN++
	}

	query := `
		SELECT
			s.silo_code,
			COUNT(*),
			COUNT(*) FILTER (WHERE r.is_error),
			AVG(r.temperature) FILTER (WHERE NOT r.is_error),
			MIN(r.temperature) FILTER (WHERE NOT r.is_error),
			MAX(r.temperature) FILTER (WHERE NOT r.is_error),
			AVG(r.humidity) FILTER (WHERE NOT r.is_error),
			MIN(r.humidity) FILTER (WHERE NOT r.is_error),
			MAX(r.humidity) FILTER (WHERE NOT r.is_error)
		FROM readings r
		INNER JOIN silos s ON r.silo_id = s.silo_id
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY s.silo_code
		ORDER BY s.silo_code ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cross-silo stats: %w", err)
	}
	defer rows.Close()

	var aggregates []domain.SiloAggregate
	for rows.Next() {
		var agg domain.SiloAggregate
		var avgT, minT, maxT, avgH, minH, maxH sql.NullFloat64
		if err := rows.Scan(&agg.SiloCode, &agg.TotalCount, &agg.ErrorCount, &avgT, &minT, &maxT, &avgH, &minH, &maxH); err != nil {
			return nil, fmt.Errorf("failed to scan cross-silo stats: %w", err)
		}
		agg.AvgTemperature = nullableFloat(avgT)
		agg.MinTemperature = nullableFloat(minT)
		agg.MaxTemperature = nullableFloat(maxT)
		agg.AvgHumidity = nullableFloat(avgH)
		agg.MinHumidity = nullableFloat(minH)
		agg.MaxHumidity = nullableFloat(maxH)
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cross-silo stats: %w", err)
	}

	return aggregates, nil
}

// scanner 兼容 *sql.Row 和 *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row scanner) (*domain.Reading, error) {
	var reading domain.Reading
	var temperature, humidity sql.NullFloat64
	var raw sql.NullString

	err := row.Scan(
		&reading.ID,
		&reading.SiloID,
		&reading.SiloCode,
		&reading.Timestamp,
		&temperature,
		&humidity,
		&reading.IsError,
		&raw,
		&reading.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	reading.Temperature = nullableFloat(temperature)
	reading.Humidity = nullableFloat(humidity)
	if raw.Valid {
		reading.RawValue = &raw.String
	}

	return &reading, nil
}

func scanReadings(rows *sql.Rows) ([]domain.Reading, error) {
	var readings []domain.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
