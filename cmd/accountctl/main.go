// Operator tooling for the account pools. The zai pools hold static API
// keys with no interactive onboarding flow, so import happens here; list
// and verify cover the routine checks on any pool.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"omni2api-go/internal/config"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/secret"
	"omni2api-go/internal/storage"
)

func main() {
	mode := flag.String("mode", "", "operation mode: import | list | verify")
	provider := flag.String("provider", "", "pool tag, e.g. zai-tts (list/verify cover all pools when empty)")
	userID := flag.Int64("user", 0, "owning user id")
	name := flag.String("name", "", "display name for import (defaults to the credential email)")
	filePath := flag.String("file", "", "credential json for import (default: stdin)")
	configPath := flag.String("config", "", "path to config.yaml (empty checks the usual locations)")
	timeout := flag.Duration("timeout", 30*time.Second, "operation timeout")
	flag.Parse()

	if *mode == "" {
		fail(errors.New("missing -mode (import|list|verify)"))
	}
	if *userID <= 0 {
		fail(errors.New("missing -user"))
	}

	mgr, err := config.NewManager(*configPath)
	if err != nil {
		fail(fmt.Errorf("load configuration: %w", err))
	}
	defer mgr.Close()
	cfg := mgr.Get()

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		fail(errors.New("database_url (DATABASE_URL) is required"))
	}
	cipher, err := secret.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		fail(fmt.Errorf("credential cipher: %w", err))
	}

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		fail(fmt.Errorf("open database: %w", err))
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := store.Initialize(ctx); err != nil {
		fail(fmt.Errorf("apply migrations: %w", err))
	}

	switch strings.ToLower(*mode) {
	case "import":
		if err := runImport(ctx, store, cipher, *provider, *userID, *name, *filePath); err != nil {
			fail(err)
		}
	case "list":
		if err := runList(ctx, store, *provider, *userID); err != nil {
			fail(err)
		}
	case "verify":
		healthy, err := runVerify(ctx, store, cipher, *provider, *userID)
		if err != nil {
			fail(err)
		}
		if !healthy {
			os.Exit(1)
		}
	default:
		fail(fmt.Errorf("unknown mode %q (expected import|list|verify)", *mode))
	}
}

func runImport(ctx context.Context, store *storage.Store, cipher *secret.Cipher,
	provider string, userID int64, name, filePath string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !validProvider(provider) {
		return fmt.Errorf("unknown provider %q (expected one of %s)",
			provider, strings.Join(constants.AllProviders, ", "))
	}

	raw, err := readInput(filePath)
	if err != nil {
		return fmt.Errorf("read credential json: %w", err)
	}
	canonical, err := models.NormalizeCredentialJSON(raw)
	if err != nil {
		return err
	}
	cred, err := models.ParseCredential(string(canonical))
	if err != nil {
		return err
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return errors.New("credential carries neither access_token nor refresh_token")
	}

	blob, err := cipher.Encrypt(string(canonical))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	extID := cred.Email
	if extID == "" {
		extID = cred.AccountID
	}
	if extID == "" {
		// 静态 key 没有身份字段,用摘要当外部 id,重复导入落到同一行。
		sum := sha256.Sum256([]byte(cred.AccessToken + "\x00" + cred.RefreshToken))
		extID = "key-" + hex.EncodeToString(sum[:4])
	}

	var expiry *time.Time
	if t := cred.ExpiresTime(); !t.IsZero() {
		expiry = &t
	}

	existing, err := store.GetByExternalID(ctx, provider, userID, extID)
	switch {
	case err == nil:
		upd := storage.CredentialUpdate{
			Credentials:    blob,
			TokenExpiresAt: expiry,
			LastRefreshAt:  time.Now(),
		}
		if err := store.UpdateCredentials(ctx, provider, existing.ID, upd); err != nil {
			return fmt.Errorf("update account %d: %w", existing.ID, err)
		}
		fmt.Printf("updated account %d (%s/%s)\n", existing.ID, provider, extID)
		return nil
	case errors.Is(err, storage.ErrNotFound):
		if name == "" {
			name = cred.Email
		}
		if name == "" {
			name = provider + " account"
		}
		acct := &models.Account{
			UserID:         userID,
			Provider:       provider,
			ExternalID:     extID,
			Name:           name,
			Credentials:    blob,
			Status:         models.StatusEnabled,
			TokenExpiresAt: expiry,
			ProjectIDs:     cred.ProjectID,
			Email:          cred.Email,
		}
		if err := store.Create(ctx, acct); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		fmt.Printf("created account %d (%s/%s)\n", acct.ID, provider, extID)
		return nil
	default:
		return fmt.Errorf("look up account: %w", err)
	}
}

func runList(ctx context.Context, store *storage.Store, provider string, userID int64) error {
	accounts, err := collectAccounts(ctx, store, provider, userID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(accounts)
}

func runVerify(ctx context.Context, store *storage.Store, cipher *secret.Cipher,
	provider string, userID int64) (bool, error) {
	accounts, err := collectAccounts(ctx, store, provider, userID)
	if err != nil {
		return false, err
	}

	healthy := true
	for _, a := range accounts {
		plaintext, err := cipher.Decrypt(a.Credentials)
		if err == nil {
			_, err = models.ParseCredential(plaintext)
		}
		if err != nil {
			healthy = false
			fmt.Printf("account %d (%s/%s): corrupted: %v\n", a.ID, a.Provider, a.ExternalID, err)
			continue
		}
		fmt.Printf("account %d (%s/%s): ok\n", a.ID, a.Provider, a.ExternalID)
	}
	if len(accounts) == 0 {
		fmt.Println("no accounts found")
	}
	return healthy, nil
}

func collectAccounts(ctx context.Context, store *storage.Store, provider string, userID int64) ([]*models.Account, error) {
	providers := constants.AllProviders
	if provider != "" {
		provider = strings.ToLower(strings.TrimSpace(provider))
		if !validProvider(provider) {
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
		providers = []string{provider}
	}

	var out []*models.Account
	for _, p := range providers {
		accounts, err := store.ListByUser(ctx, p, userID)
		if err != nil {
			return nil, fmt.Errorf("list %s accounts: %w", p, err)
		}
		out = append(out, accounts...)
	}
	return out, nil
}

func validProvider(provider string) bool {
	for _, p := range constants.AllProviders {
		if p == provider {
			return true
		}
	}
	return false
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "accountctl:", err)
	os.Exit(1)
}
