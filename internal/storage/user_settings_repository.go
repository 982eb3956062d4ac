package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

// UserSettingsRepository handles per-user analytics settings
type UserSettingsRepository struct {
	db *PostgresDB
}

// NewUserSettingsRepository creates a new user settings repository
func NewUserSettingsRepository(db *PostgresDB) *UserSettingsRepository {
	return &UserSettingsRepository{db: db}
}

// Get returns the user's settings, or defaults when none are stored
func (r *UserSettingsRepository) Get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	query := `
		SELECT user_id, risk_free_rate, benchmark_id, updated_at
		FROM user_settings
		WHERE user_id = $1
	`

	var s models.UserSettings
	err := r.db.conn(ctx).QueryRow(ctx, query, userID).Scan(&s.UserID, &s.RiskFreeRate, &s.BenchmarkID, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DefaultUserSettings(userID), nil
		}
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	return &s, nil
}

// Upsert stores the user's settings
func (r *UserSettingsRepository) Upsert(ctx context.Context, s *models.UserSettings) error {
	query := `
		INSERT INTO user_settings (user_id, risk_free_rate, benchmark_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			risk_free_rate = EXCLUDED.risk_free_rate,
			benchmark_id = EXCLUDED.benchmark_id,
			updated_at = EXCLUDED.updated_at
	`

	s.UpdatedAt = time.Now().UTC()
	if _, err := r.db.conn(ctx).Exec(ctx, query, s.UserID, s.RiskFreeRate, s.BenchmarkID, s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert user settings: %w", err)
	}
	return nil
}
