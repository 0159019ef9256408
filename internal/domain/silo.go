package domain

import "time"

// Silo 筒仓实体（对应 silos 表）
// silo_code 是稳定的外部标识（如 "001"）；silo_id 是代理 UUID，仅用于 JOIN，
// 不作为对外身份暴露。
type Silo struct {
	SiloID    string    `json:"-" db:"silo_id"`
	SiloCode  string    `json:"silo_code" db:"silo_code"`
	SiloName  string    `json:"silo_name" db:"silo_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
