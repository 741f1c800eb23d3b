package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"omni2api-go/internal/models"
	"omni2api-go/internal/monitoring"
	"omni2api-go/internal/monitoring/tracing"
)

// WithInstrumentation wraps the store with tracing and metrics. The wrapper
// satisfies every repository interface the rest of the gateway consumes.
func WithInstrumentation(inner *Store) *InstrumentedStore {
	return &InstrumentedStore{inner: inner}
}

// InstrumentedStore decorates each repository call with a span, a latency
// observation and pool gauges.
type InstrumentedStore struct {
	inner *Store
}

func (i *InstrumentedStore) ListByUser(ctx context.Context, provider string, userID int64) ([]*models.Account, error) {
	var result []*models.Account
	err := i.instrument(ctx, "list_by_user", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.ListByUser(ctx, provider, userID)
		return innerErr
	})
	return result, err
}

func (i *InstrumentedStore) ListEnabledByUser(ctx context.Context, provider string, userID int64) ([]*models.Account, error) {
	var result []*models.Account
	err := i.instrument(ctx, "list_enabled", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.ListEnabledByUser(ctx, provider, userID)
		return innerErr
	})
	return result, err
}

func (i *InstrumentedStore) GetByIDAndUser(ctx context.Context, provider string, id, userID int64) (*models.Account, error) {
	var result *models.Account
	err := i.instrument(ctx, "get_by_id", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetByIDAndUser(ctx, provider, id, userID)
		return innerErr
	})
	return result, err
}

func (i *InstrumentedStore) GetByExternalID(ctx context.Context, provider string, userID int64, externalID string) (*models.Account, error) {
	var result *models.Account
	err := i.instrument(ctx, "get_by_external_id", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetByExternalID(ctx, provider, userID, externalID)
		return innerErr
	})
	return result, err
}

func (i *InstrumentedStore) Create(ctx context.Context, a *models.Account) error {
	return i.instrument(ctx, "create", func(ctx context.Context) error {
		return i.inner.Create(ctx, a)
	})
}

func (i *InstrumentedStore) UpdateCredentials(ctx context.Context, provider string, id int64, upd CredentialUpdate) error {
	return i.instrument(ctx, "update_credentials", func(ctx context.Context) error {
		return i.inner.UpdateCredentials(ctx, provider, id, upd)
	})
}

func (i *InstrumentedStore) UpdateLimits(ctx context.Context, provider string, id int64,
	used5h *int, reset5h *time.Time, usedWeek *int, resetWeek *time.Time, freezeReason string) error {
	return i.instrument(ctx, "update_limits", func(ctx context.Context) error {
		return i.inner.UpdateLimits(ctx, provider, id, used5h, reset5h, usedWeek, resetWeek, freezeReason)
	})
}

func (i *InstrumentedStore) UpdateStatus(ctx context.Context, provider string, id, userID int64, status string) error {
	return i.instrument(ctx, "update_status", func(ctx context.Context) error {
		return i.inner.UpdateStatus(ctx, provider, id, userID, status)
	})
}

func (i *InstrumentedStore) UpdateName(ctx context.Context, provider string, id, userID int64, name string) error {
	return i.instrument(ctx, "update_name", func(ctx context.Context) error {
		return i.inner.UpdateName(ctx, provider, id, userID, name)
	})
}

func (i *InstrumentedStore) TouchLastUsed(ctx context.Context, provider string, id int64) error {
	return i.instrument(ctx, "touch_last_used", func(ctx context.Context) error {
		return i.inner.TouchLastUsed(ctx, provider, id)
	})
}

func (i *InstrumentedStore) Delete(ctx context.Context, provider string, id, userID int64) error {
	return i.instrument(ctx, "delete", func(ctx context.Context) error {
		return i.inner.Delete(ctx, provider, id, userID)
	})
}

func (i *InstrumentedStore) GetSetting(ctx context.Context, userID int64) (*models.UserSetting, error) {
	var result *models.UserSetting
	err := i.instrument(ctx, "get_setting", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetSetting(ctx, userID)
		return innerErr
	})
	return result, err
}

func (i *InstrumentedStore) UpsertSetting(ctx context.Context, st *models.UserSetting) error {
	return i.instrument(ctx, "upsert_setting", func(ctx context.Context) error {
		return i.inner.UpsertSetting(ctx, st)
	})
}

func (i *InstrumentedStore) CommitUsage(ctx context.Context, entry *models.UsageLog) error {
	return i.instrument(ctx, "commit_usage", func(ctx context.Context) error {
		return i.inner.CommitUsage(ctx, entry)
	})
}

func (i *InstrumentedStore) RecentLogs(ctx context.Context, userID int64, configType string, limit int) ([]*models.UsageLog, error) {
	var result []*models.UsageLog
	err := i.instrument(ctx, "recent_logs", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.RecentLogs(ctx, userID, configType, limit)
		return innerErr
	})
	return result, err
}

func (i *InstrumentedStore) GetCounter(ctx context.Context, userID int64, configType string) (*models.UsageCounter, error) {
	var result *models.UsageCounter
	err := i.instrument(ctx, "get_counter", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetCounter(ctx, userID, configType)
		return innerErr
	})
	return result, err
}

func (i *InstrumentedStore) Initialize(ctx context.Context) error {
	return i.instrument(ctx, "initialize", func(ctx context.Context) error {
		return i.inner.Initialize(ctx)
	})
}

func (i *InstrumentedStore) Health(ctx context.Context) error {
	return i.instrument(ctx, "health", func(ctx context.Context) error {
		return i.inner.Health(ctx)
	})
}

func (i *InstrumentedStore) Close() error {
	return i.inner.Close()
}

func (i *InstrumentedStore) PoolStats() (inUse, idle, waits int64) {
	return i.inner.PoolStats()
}

func (i *InstrumentedStore) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "storage", "postgres/"+operation)
	span.SetAttributes(
		attribute.String("storage.backend", "postgres"),
		attribute.String("storage.operation", operation),
	)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		// 查无此行是正常答案,不算故障。
		outcome = "not_found"
		span.SetStatus(codes.Ok, "")
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	monitoring.StorageOpDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
	inUse, idle, _ := i.inner.PoolStats()
	monitoring.StoragePoolInUse.Set(float64(inUse))
	monitoring.StoragePoolIdle.Set(float64(idle))
	return err
}
