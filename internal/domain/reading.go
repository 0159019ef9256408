package domain

import "time"

// Reading 传感器读数（对应 readings 表）
// (silo_id, timestamp) 唯一；temperature/humidity 各自可空（同一时刻某一路
// 传感器可能单独失效）。raw_value 保留异常单元格的原始文本。
type Reading struct {
	ID          int64     `json:"id" db:"id"`
	SiloID      string    `json:"-" db:"silo_id"`
	SiloCode    string    `json:"silo_code" db:"silo_code"` // 从 silos 表 JOIN 获取
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Temperature *float64  `json:"temperature" db:"temperature"`
	Humidity    *float64  `json:"humidity" db:"humidity"`
	IsError     bool      `json:"is_error" db:"is_error"`
	RawValue    *string   `json:"raw_value,omitempty" db:"raw_value"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SiloStats 单筒仓统计
// 平均/最小/最大仅统计非错误且非空的值；TotalCount 统计全部读数。
type SiloStats struct {
	TotalCount     int      `json:"total_count"`
	ErrorCount     int      `json:"error_count"`
	AvgTemperature *float64 `json:"avg_temperature"`
	MinTemperature *float64 `json:"min_temperature"`
	MaxTemperature *float64 `json:"max_temperature"`
	AvgHumidity    *float64 `json:"avg_humidity"`
	MinHumidity    *float64 `json:"min_humidity"`
	MaxHumidity    *float64 `json:"max_humidity"`
}

// HourlyBucket 按小时聚合的统计桶（date_trunc('hour', timestamp)）
// 窗口内没有读数的小时不产生桶。
type HourlyBucket struct {
	BucketStart    time.Time `json:"bucket_start"`
	ReadingCount   int       `json:"reading_count"`
	ErrorCount     int       `json:"error_count"`
	AvgTemperature *float64  `json:"avg_temperature"`
	MinTemperature *float64  `json:"min_temperature"`
	MaxTemperature *float64  `json:"max_temperature"`
	AvgHumidity    *float64  `json:"avg_humidity"`
	MinHumidity    *float64  `json:"min_humidity"`
	MaxHumidity    *float64  `json:"max_humidity"`
}

// SiloAggregate 跨筒仓统计（按 silo_code 分组）
type SiloAggregate struct {
	SiloCode string `json:"silo_code"`
	SiloStats
}
