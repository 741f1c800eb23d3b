package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"omni2api-go/internal/models"
)

// GetSetting returns the user's channel preferences, or an empty record.
func (s *Store) GetSetting(ctx context.Context, userID int64) (*models.UserSetting, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var st models.UserSetting
	err := s.db.QueryRowContext(ctx, `SELECT user_id, account_channel,
		dashboard_channel, updated_at
		FROM user_settings WHERE user_id = $1`, userID).Scan(
		&st.UserID, &st.AccountChannel, &st.DashboardChannel, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UserSetting{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get user setting: %w", err)
	}
	return &st, nil
}

// UpsertSetting writes the user's channel preferences.
func (s *Store) UpsertSetting(ctx context.Context, st *models.UserSetting) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO user_settings
		(user_id, account_channel, dashboard_channel, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET
			account_channel = EXCLUDED.account_channel,
			dashboard_channel = EXCLUDED.dashboard_channel,
			updated_at = now()`,
		st.UserID, st.AccountChannel, st.DashboardChannel)
	if err != nil {
		return fmt.Errorf("storage: upsert user setting: %w", err)
	}
	return nil
}
