package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
)

// CommitUsage writes one request's accounting in a single transaction:
// insert the log row, prune the window, add the counter delta. The counter
// upsert only ever adds, so stored totals are monotonic.
func (s *Store) CommitUsage(ctx context.Context, entry *models.UsageLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin usage tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `INSERT INTO usage_logs
		(user_id, config_type, account_id, endpoint, method, model, is_stream,
		 success, status_code, error_message, input_tokens, output_tokens,
		 cached_tokens, total_tokens, quota_consumed, duration_ms, client_app,
		 request_body)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id, created_at`,
		entry.UserID, entry.ConfigType, entry.AccountID, entry.Endpoint,
		entry.Method, entry.Model, entry.IsStream, entry.Success,
		entry.StatusCode, entry.ErrorMessage, entry.InputTokens,
		entry.OutputTokens, entry.CachedTokens, entry.TotalTokens,
		entry.QuotaUsed, entry.DurationMS, entry.ClientApp, entry.RequestBody,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert usage log: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM usage_logs
		WHERE user_id = $1 AND config_type = $2 AND id NOT IN (
			SELECT id FROM usage_logs
			WHERE user_id = $1 AND config_type = $2
			ORDER BY id DESC LIMIT $3)`,
		entry.UserID, entry.ConfigType, constants.UsageLogRetention)
	if err != nil {
		return fmt.Errorf("storage: prune usage logs: %w", err)
	}

	success, failed := int64(0), int64(0)
	if entry.Success {
		success = 1
	} else {
		failed = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO usage_counters
		(user_id, config_type, total_requests, success_requests, failed_requests,
		 input_tokens, output_tokens, cached_tokens, total_tokens,
		 total_quota_consumed, total_duration_ms, updated_at)
		VALUES ($1,$2,1,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (user_id, config_type) DO UPDATE SET
			total_requests       = usage_counters.total_requests + 1,
			success_requests     = usage_counters.success_requests + EXCLUDED.success_requests,
			failed_requests      = usage_counters.failed_requests + EXCLUDED.failed_requests,
			input_tokens         = usage_counters.input_tokens + EXCLUDED.input_tokens,
			output_tokens        = usage_counters.output_tokens + EXCLUDED.output_tokens,
			cached_tokens        = usage_counters.cached_tokens + EXCLUDED.cached_tokens,
			total_tokens         = usage_counters.total_tokens + EXCLUDED.total_tokens,
			total_quota_consumed = usage_counters.total_quota_consumed + EXCLUDED.total_quota_consumed,
			total_duration_ms    = usage_counters.total_duration_ms + EXCLUDED.total_duration_ms,
			updated_at           = now()`,
		entry.UserID, entry.ConfigType, success, failed,
		entry.InputTokens, entry.OutputTokens, entry.CachedTokens,
		entry.TotalTokens, entry.QuotaUsed, entry.DurationMS)
	if err != nil {
		return fmt.Errorf("storage: upsert usage counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit usage tx: %w", err)
	}
	return nil
}

// RecentLogs returns the newest rows for (user, provider), newest first.
func (s *Store) RecentLogs(ctx context.Context, userID int64, configType string, limit int) ([]*models.UsageLog, error) {
	if limit <= 0 || limit > constants.UsageLogRetention {
		limit = constants.UsageLogRetention
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT
		id, user_id, config_type, account_id, endpoint, method, model,
		is_stream, success, status_code, error_message, input_tokens,
		output_tokens, cached_tokens, total_tokens, quota_consumed,
		duration_ms, client_app, request_body, created_at
		FROM usage_logs
		WHERE user_id = $1 AND config_type = $2
		ORDER BY id DESC LIMIT $3`, userID, configType, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent logs: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageLog
	for rows.Next() {
		var l models.UsageLog
		err := rows.Scan(&l.ID, &l.UserID, &l.ConfigType, &l.AccountID,
			&l.Endpoint, &l.Method, &l.Model, &l.IsStream, &l.Success,
			&l.StatusCode, &l.ErrorMessage, &l.InputTokens, &l.OutputTokens,
			&l.CachedTokens, &l.TotalTokens, &l.QuotaUsed, &l.DurationMS,
			&l.ClientApp, &l.RequestBody, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: scan usage log: %w", err)
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate usage logs: %w", err)
	}
	return out, nil
}

// GetCounter returns the accumulated totals for (user, provider), or a
// zero-valued counter when none exist yet.
func (s *Store) GetCounter(ctx context.Context, userID int64, configType string) (*models.UsageCounter, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var c models.UsageCounter
	err := s.db.QueryRowContext(ctx, `SELECT
		user_id, config_type, total_requests, success_requests, failed_requests,
		input_tokens, output_tokens, cached_tokens, total_tokens,
		total_quota_consumed, total_duration_ms, updated_at
		FROM usage_counters WHERE user_id = $1 AND config_type = $2`,
		userID, configType).Scan(
		&c.UserID, &c.ConfigType, &c.TotalRequests, &c.SuccessRequests,
		&c.FailedRequests, &c.InputTokens, &c.OutputTokens, &c.CachedTokens,
		&c.TotalTokens, &c.TotalQuotaUsed, &c.TotalDurationMS, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UsageCounter{UserID: userID, ConfigType: configType}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get usage counter: %w", err)
	}
	return &c, nil
}
