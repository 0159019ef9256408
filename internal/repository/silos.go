package repository

import (
	"context"
	"database/sql"
	"fmt"

	"silo-data/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SiloRepository 筒仓目录
type SiloRepository interface {
	// Resolve 按编号查找筒仓，不存在则自动建档，返回内部主键
	Resolve(ctx context.Context, code string) (string, error)
	// GetByCode 按编号查找筒仓，不存在返回 domain.ErrSiloNotFound
	GetByCode(ctx context.Context, code string) (*domain.Silo, error)
	// List 按编号升序返回全部筒仓
	List(ctx context.Context) ([]domain.Silo, error)
}

// PostgresSiloRepository SiloRepository 的 PostgreSQL 实现
type PostgresSiloRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ SiloRepository = (*PostgresSiloRepository)(nil)

func NewPostgresSiloRepository(db *sql.DB, logger *zap.Logger) *PostgresSiloRepository {
	return &PostgresSiloRepository{db: db, logger: logger}
}

// Resolve 依赖 silos.silo_code 的唯一约束：先尝试插入（冲突即忽略），
// 冲突时回读已有行。并发首次出现同一编号时只会建档一次。
func (r *PostgresSiloRepository) Resolve(ctx context.Context, code string) (string, error) {
	siloID := uuid.NewString()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO silos (silo_id, silo_code, silo_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (silo_code) DO NOTHING`,
		siloID, code, "Silo "+code,
	)
	if err != nil {
		return "", fmt.Errorf("failed to provision silo %s: %w", code, err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 1 {
		r.logger.Info("provisioned new silo", zap.String("silo_code", code))
		return siloID, nil
	}

	// conflict path: the row already existed, read its key back
	var existingID string
	err = r.db.QueryRowContext(ctx,
		`SELECT silo_id FROM silos WHERE silo_code = $1`, code,
	).Scan(&existingID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve silo %s: %w", code, err)
	}

	return existingID, nil
}

func (r *PostgresSiloRepository) GetByCode(ctx context.Context, code string) (*domain.Silo, error) {
	var silo domain.Silo
	err := r.db.QueryRowContext(ctx,
		`SELECT silo_id, silo_code, silo_name, created_at
		 FROM silos WHERE silo_code = $1`, code,
	).Scan(&silo.SiloID, &silo.SiloCode, &silo.SiloName, &silo.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSiloNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query silo %s: %w", code, err)
	}
	return &silo, nil
}

func (r *PostgresSiloRepository) List(ctx context.Context) ([]domain.Silo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT silo_id, silo_code, silo_name, created_at
		 FROM silos ORDER BY silo_code ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query silos: %w", err)
	}
	defer rows.Close()

	var silos []domain.Silo
	for rows.Next() {
		var silo domain.Silo
		if err := rows.Scan(&silo.SiloID, &silo.SiloCode, &silo.SiloName, &silo.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan silo: %w", err)
		}
		silos = append(silos, silo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate silos: %w", err)
	}

	return silos, nil
}
