package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "itdb",
				"POSTGRES_USER":     "ituser",
				"POSTGRES_PASSWORD": "itpass",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://ituser:itpass@%s:%s/itdb?sslmode=disable", host, port.Port())
	pg, err := Open(dsn)
	require.NoError(t, err)
	// 走带观测的包装层,生产路径怎么跑测试就怎么跑。
	store := WithInstrumentation(pg)
	require.NoError(t, store.Initialize(ctx))
	t.Cleanup(func() {
		_ = store.Close()
	})

	const userID = int64(42)

	t.Run("account lifecycle", func(t *testing.T) {
		acct := &models.Account{
			UserID:      userID,
			Provider:    constants.ProviderCodex,
			ExternalID:  "acct-ext-1",
			Name:        "primary",
			Credentials: "ciphertext-blob",
		}
		require.NoError(t, store.Create(ctx, acct))
		require.NotZero(t, acct.ID)

		got, err := store.GetByIDAndUser(ctx, constants.ProviderCodex, acct.ID, userID)
		require.NoError(t, err)
		require.Equal(t, "acct-ext-1", got.ExternalID)
		require.Equal(t, models.StatusEnabled, got.Status)

		// ownership boundary
		_, err = store.GetByIDAndUser(ctx, constants.ProviderCodex, acct.ID, userID+1)
		require.ErrorIs(t, err, ErrNotFound)

		// dedup lookup
		dup, err := store.GetByExternalID(ctx, constants.ProviderCodex, userID, "acct-ext-1")
		require.NoError(t, err)
		require.Equal(t, acct.ID, dup.ID)

		exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, store.UpdateCredentials(ctx, constants.ProviderCodex, acct.ID, CredentialUpdate{
			Credentials:    "ciphertext-blob-2",
			TokenExpiresAt: &exp,
			LastRefreshAt:  time.Now(),
			Email:          "user@example.com",
		}))
		got, err = store.GetByIDAndUser(ctx, constants.ProviderCodex, acct.ID, userID)
		require.NoError(t, err)
		require.Equal(t, "ciphertext-blob-2", got.Credentials)
		require.Equal(t, "user@example.com", got.Email)
		require.NotNil(t, got.TokenExpiresAt)

		used := 100
		reset := time.Now().Add(3 * time.Hour)
		require.NoError(t, store.UpdateLimits(ctx, constants.ProviderCodex, acct.ID,
			&used, &reset, nil, nil, models.FreezeReason5h))
		got, err = store.GetByIDAndUser(ctx, constants.ProviderCodex, acct.ID, userID)
		require.NoError(t, err)
		require.True(t, got.IsFrozen(time.Now()))

		require.NoError(t, store.UpdateStatus(ctx, constants.ProviderCodex, acct.ID, userID, models.StatusDisabled))
		enabled, err := store.ListEnabledByUser(ctx, constants.ProviderCodex, userID)
		require.NoError(t, err)
		require.Empty(t, enabled)

		require.NoError(t, store.Delete(ctx, constants.ProviderCodex, acct.ID, userID))
		_, err = store.GetByIDAndUser(ctx, constants.ProviderCodex, acct.ID, userID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("usage commit prunes and accumulates", func(t *testing.T) {
		for i := 0; i < constants.UsageLogRetention+20; i++ {
			entry := &models.UsageLog{
				UserID:       userID,
				ConfigType:   constants.ProviderCodex,
				Endpoint:     "/v1/chat/completions",
				Method:       "POST",
				Model:        "gpt-5-codex",
				Success:      true,
				StatusCode:   200,
				InputTokens:  3,
				OutputTokens: 1,
				TotalTokens:  4,
				DurationMS:   12,
			}
			require.NoError(t, store.CommitUsage(ctx, entry))
		}

		logs, err := store.RecentLogs(ctx, userID, constants.ProviderCodex, 0)
		require.NoError(t, err)
		require.Len(t, logs, constants.UsageLogRetention)

		counter, err := store.GetCounter(ctx, userID, constants.ProviderCodex)
		require.NoError(t, err)
		require.EqualValues(t, constants.UsageLogRetention+20, counter.TotalRequests)
		require.EqualValues(t, (constants.UsageLogRetention+20)*4, counter.TotalTokens)
		require.Zero(t, counter.FailedRequests)

		// failures still count
		fail := &models.UsageLog{
			UserID:     userID,
			ConfigType: constants.ProviderCodex,
			Endpoint:   "/v1/chat/completions",
			Method:     "POST",
			Model:      "gpt-5-codex",
			Success:    false,
			StatusCode: 502,
		}
		require.NoError(t, store.CommitUsage(ctx, fail))
		counter, err = store.GetCounter(ctx, userID, constants.ProviderCodex)
		require.NoError(t, err)
		require.EqualValues(t, 1, counter.FailedRequests)
	})

	t.Run("settings upsert", func(t *testing.T) {
		ch := constants.ProviderKiro
		require.NoError(t, store.UpsertSetting(ctx, &models.UserSetting{
			UserID:         userID,
			AccountChannel: &ch,
		}))
		got, err := store.GetSetting(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, got.AccountChannel)
		require.Equal(t, constants.ProviderKiro, *got.AccountChannel)

		other, err := store.GetSetting(ctx, userID+100)
		require.NoError(t, err)
		require.Nil(t, other.AccountChannel)
	})
}
