package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
)

// accountTables maps provider tags to their table. The two zai pools share
// one account table; the config_type split only matters for usage rows.
var accountTables = map[string]string{
	constants.ProviderAntigravity: "accounts_antigravity",
	constants.ProviderCodex:       "accounts_codex",
	constants.ProviderKiro:        "accounts_kiro",
	constants.ProviderGeminiCLI:   "accounts_gemini_cli",
	constants.ProviderQwen:        "accounts_qwen",
	constants.ProviderZaiTTS:      "accounts_zai",
	constants.ProviderZaiImage:    "accounts_zai",
}

// TableFor resolves the account table for a provider tag. Unknown tags are
// an error so raw strings can never reach query text.
func TableFor(provider string) (string, error) {
	t, ok := accountTables[provider]
	if !ok {
		return "", fmt.Errorf("storage: unknown provider %q", provider)
	}
	return t, nil
}

const accountColumns = `id, user_id, external_id, name, credentials, status,
	token_expires_at, last_refresh_at, last_used_at, project_ids, email,
	limit_5h_used_percent, limit_5h_reset_at,
	limit_week_used_percent, limit_week_reset_at, freeze_reason,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }, provider string) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.UserID, &a.ExternalID, &a.Name, &a.Credentials, &a.Status,
		&a.TokenExpiresAt, &a.LastRefreshAt, &a.LastUsedAt, &a.ProjectIDs, &a.Email,
		&a.Limit5hUsedPercent, &a.Limit5hResetAt,
		&a.LimitWeekUsedPercent, &a.LimitWeekResetAt, &a.FreezeReason,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Provider = provider
	return &a, nil
}

// ListByUser returns all of a user's accounts in insertion order.
func (s *Store) ListByUser(ctx context.Context, provider string, userID int64) ([]*models.Account, error) {
	table, err := TableFor(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY id ASC`, accountColumns, table)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s accounts: %w", provider, err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows, provider)
		if err != nil {
			return nil, fmt.Errorf("storage: scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate accounts: %w", err)
	}
	return out, nil
}

// ListEnabledByUser returns accounts with status=enabled in insertion order.
// Freeze state is derived in memory by callers; it is not a status filter.
func (s *Store) ListEnabledByUser(ctx context.Context, provider string, userID int64) ([]*models.Account, error) {
	table, err := TableFor(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 AND status = $2 ORDER BY id ASC`, accountColumns, table)
	rows, err := s.db.QueryContext(ctx, query, userID, models.StatusEnabled)
	if err != nil {
		return nil, fmt.Errorf("storage: list enabled %s accounts: %w", provider, err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows, provider)
		if err != nil {
			return nil, fmt.Errorf("storage: scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate accounts: %w", err)
	}
	return out, nil
}

// GetByIDAndUser fetches one account, enforcing the ownership boundary.
func (s *Store) GetByIDAndUser(ctx context.Context, provider string, id, userID int64) (*models.Account, error) {
	table, err := TableFor(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND user_id = $2`, accountColumns, table)
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, id, userID), provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s account %d: %w", provider, id, err)
	}
	return a, nil
}

// GetByExternalID is the import dedup lookup.
func (s *Store) GetByExternalID(ctx context.Context, provider string, userID int64, externalID string) (*models.Account, error) {
	table, err := TableFor(provider)
	if err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 AND external_id = $2 ORDER BY id ASC LIMIT 1`, accountColumns, table)
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, userID, externalID), provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s account by external id: %w", provider, err)
	}
	return a, nil
}

// Create inserts a new account and fills in its id and timestamps.
func (s *Store) Create(ctx context.Context, a *models.Account) error {
	table, err := TableFor(a.Provider)
	if err != nil {
		return err
	}
	if a.Credentials == "" {
		return errors.New("storage: refusing to store empty credentials blob")
	}
	if a.Status == "" {
		a.Status = models.StatusEnabled
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s
		(user_id, external_id, name, credentials, status, token_expires_at,
		 last_refresh_at, project_ids, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`, table)
	err = s.db.QueryRowContext(ctx, query,
		a.UserID, a.ExternalID, a.Name, a.Credentials, a.Status,
		a.TokenExpiresAt, a.LastRefreshAt, a.ProjectIDs, a.Email,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: create %s account: %w", a.Provider, err)
	}
	return nil
}

// CredentialUpdate is the atomic refresh write: blob plus profile fields
// plus refresh timestamps, one statement.
type CredentialUpdate struct {
	Credentials    string
	TokenExpiresAt *time.Time
	LastRefreshAt  time.Time
	ExternalID     string // optional: only written when non-empty
	Email          string // optional: only written when non-empty
	ProjectIDs     *string
}

// UpdateCredentials applies a CredentialUpdate to one account.
func (s *Store) UpdateCredentials(ctx context.Context, provider string, id int64, upd CredentialUpdate) error {
	table, err := TableFor(provider)
	if err != nil {
		return err
	}
	if upd.Credentials == "" {
		return errors.New("storage: refusing to store empty credentials blob")
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET
		credentials = $2,
		token_expires_at = $3,
		last_refresh_at = $4,
		external_id = CASE WHEN $5 <> '' THEN $5 ELSE external_id END,
		email = CASE WHEN $6 <> '' THEN $6 ELSE email END,
		project_ids = COALESCE($7, project_ids),
		updated_at = now()
		WHERE id = $1`, table)
	res, err := s.db.ExecContext(ctx, query, id,
		upd.Credentials, upd.TokenExpiresAt, upd.LastRefreshAt,
		upd.ExternalID, upd.Email, upd.ProjectIDs)
	if err != nil {
		return fmt.Errorf("storage: update %s credentials: %w", provider, err)
	}
	return requireRow(res, provider, id)
}

// UpdateLimits writes the quota window fields and freeze reason.
func (s *Store) UpdateLimits(ctx context.Context, provider string, id int64,
	used5h *int, reset5h *time.Time, usedWeek *int, resetWeek *time.Time, freezeReason string) error {
	table, err := TableFor(provider)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET
		limit_5h_used_percent = $2, limit_5h_reset_at = $3,
		limit_week_used_percent = $4, limit_week_reset_at = $5,
		freeze_reason = $6, updated_at = now()
		WHERE id = $1`, table)
	res, err := s.db.ExecContext(ctx, query, id, used5h, reset5h, usedWeek, resetWeek, freezeReason)
	if err != nil {
		return fmt.Errorf("storage: update %s limits: %w", provider, err)
	}
	return requireRow(res, provider, id)
}

// UpdateStatus flips the manual switch.
func (s *Store) UpdateStatus(ctx context.Context, provider string, id, userID int64, status string) error {
	table, err := TableFor(provider)
	if err != nil {
		return err
	}
	if status != models.StatusEnabled && status != models.StatusDisabled {
		return fmt.Errorf("storage: invalid status %q", status)
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET status = $3, updated_at = now() WHERE id = $1 AND user_id = $2`, table)
	res, err := s.db.ExecContext(ctx, query, id, userID, status)
	if err != nil {
		return fmt.Errorf("storage: update %s status: %w", provider, err)
	}
	return requireRow(res, provider, id)
}

// UpdateName renames an account.
func (s *Store) UpdateName(ctx context.Context, provider string, id, userID int64, name string) error {
	table, err := TableFor(provider)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET name = $3, updated_at = now() WHERE id = $1 AND user_id = $2`, table)
	res, err := s.db.ExecContext(ctx, query, id, userID, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("storage: update %s name: %w", provider, err)
	}
	return requireRow(res, provider, id)
}

// TouchLastUsed bumps last_used_at. Callers throttle via the cache.
func (s *Store) TouchLastUsed(ctx context.Context, provider string, id int64) error {
	table, err := TableFor(provider)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET last_used_at = now() WHERE id = $1`, table)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("storage: touch %s last_used: %w", provider, err)
	}
	return nil
}

// Delete removes an account. Only explicit user action reaches here.
func (s *Store) Delete(ctx context.Context, provider string, id, userID int64) error {
	table, err := TableFor(provider)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, table)
	res, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("storage: delete %s account: %w", provider, err)
	}
	return requireRow(res, provider, id)
}

func requireRow(res sql.Result, provider string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s account %d", ErrNotFound, provider, id)
	}
	return nil
}
