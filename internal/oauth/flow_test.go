package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/secret"
	"omni2api-go/internal/storage"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewFromClient(client, "")
}

func newTestCipher(t *testing.T) *secret.Cipher {
	t.Helper()
	c, err := secret.NewCipher("flow-test-passphrase")
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	return c
}

// fakeStore is an in-memory AccountStore.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
	nextID   int64
	updates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[int64]*models.Account), nextID: 1}
}

func (f *fakeStore) GetByExternalID(_ context.Context, provider string, userID int64, externalID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if externalID == "" {
		return nil, storage.ErrNotFound
	}
	for _, a := range f.accounts {
		if a.Provider == provider && a.UserID == userID && a.ExternalID == externalID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetByIDAndUser(_ context.Context, provider string, id, userID int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Provider != provider || a.UserID != userID {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) Create(_ context.Context, acct *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct.Credentials == "" {
		return errors.New("empty credentials blob")
	}
	acct.ID = f.nextID
	f.nextID++
	acct.CreatedAt = time.Now()
	acct.UpdatedAt = acct.CreatedAt
	cp := *acct
	f.accounts[acct.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateCredentials(_ context.Context, provider string, id int64, upd storage.CredentialUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Provider != provider {
		return storage.ErrNotFound
	}
	if upd.Credentials == "" {
		return errors.New("empty credentials blob")
	}
	a.Credentials = upd.Credentials
	a.TokenExpiresAt = upd.TokenExpiresAt
	lr := upd.LastRefreshAt
	a.LastRefreshAt = &lr
	if upd.Email != "" {
		a.Email = upd.Email
	}
	if upd.ExternalID != "" {
		a.ExternalID = upd.ExternalID
	}
	if upd.ProjectIDs != nil {
		a.ProjectIDs = *upd.ProjectIDs
	}
	a.UpdatedAt = time.Now()
	f.updates++
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts)
}

// makeIDToken builds an unsigned JWT carrying the given claims.
func makeIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

type fakeDiscoverer struct {
	projects []string
	err      error
	called   bool
}

func (f *fakeDiscoverer) DiscoverProjects(context.Context, string) ([]string, error) {
	f.called = true
	return f.projects, f.err
}

// tokenEndpoint serves the code exchange used by CompletePKCE.
func tokenEndpoint(t *testing.T, idToken string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code_verifier") == "" {
			http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + r.Form.Get("code"),
			"refresh_token": "refresh-" + r.Form.Get("code"),
			"id_token":      idToken,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	return httptest.NewServer(mux)
}

func TestStartPKCEStoresSession(t *testing.T) {
	c := newTestCache(t)
	mgr := NewManager(c, newFakeStore(), newTestCipher(t))

	authURL, state, err := mgr.StartPKCE(context.Background(), 7, constants.ProviderAntigravity)
	if err != nil {
		t.Fatalf("StartPKCE failed: %v", err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("auth url not parseable: %v", err)
	}
	q := u.Query()
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("auth url missing PKCE params: %q", authURL)
	}
	if q.Get("state") != state {
		t.Fatalf("state mismatch: url has %q, returned %q", q.Get("state"), state)
	}
	if q.Get("access_type") != "offline" {
		t.Fatalf("expected access_type=offline, got %q", q.Get("access_type"))
	}

	var sess PKCESession
	if err := c.GetJSON(context.Background(), cache.PKCEStateKey(state), &sess); err != nil {
		t.Fatalf("session not cached: %v", err)
	}
	if sess.UserID != 7 || sess.Provider != constants.ProviderAntigravity {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if Challenge(sess.CodeVerifier) != q.Get("code_challenge") {
		t.Fatalf("cached verifier does not match challenge in url")
	}
}

func TestStartPKCEUnknownProvider(t *testing.T) {
	mgr := NewManager(newTestCache(t), newFakeStore(), newTestCipher(t))
	if _, _, err := mgr.StartPKCE(context.Background(), 1, constants.ProviderKiro); !errors.Is(err, ErrUnknownFlow) {
		t.Fatalf("expected ErrUnknownFlow for device-only provider, got %v", err)
	}
}

func TestCompletePKCECreatesAccount(t *testing.T) {
	idToken := makeIDToken(t, map[string]any{
		"sub":   "subject-1",
		"email": "user@example.com",
	})
	srv := tokenEndpoint(t, idToken)
	defer srv.Close()

	c := newTestCache(t)
	store := newFakeStore()
	cipher := newTestCipher(t)
	disc := &fakeDiscoverer{projects: []string{"proj-a", "proj-b"}}
	mgr := NewManager(c, store, cipher,
		WithHTTPClient(srv.Client()),
		WithFlowEndpoints(constants.ProviderAntigravity, srv.URL+"/auth", srv.URL+"/token"),
		WithProjectDiscoverer(disc),
	)

	ctx := context.Background()
	_, state, err := mgr.StartPKCE(ctx, 7, constants.ProviderAntigravity)
	if err != nil {
		t.Fatalf("StartPKCE failed: %v", err)
	}

	acct, err := mgr.CompletePKCE(ctx, 7, fmt.Sprintf("http://localhost:8085/oauth2callback?code=c1&state=%s", state))
	if err != nil {
		t.Fatalf("CompletePKCE failed: %v", err)
	}

	if acct.ExternalID != "user@example.com" {
		t.Fatalf("expected email external id, got %q", acct.ExternalID)
	}
	if acct.ProjectIDs != "proj-a,proj-b" {
		t.Fatalf("unexpected project ids %q", acct.ProjectIDs)
	}
	if !disc.called {
		t.Fatalf("expected project discovery to run for google provider")
	}
	if acct.Status != models.StatusEnabled {
		t.Fatalf("new account should be enabled, got %q", acct.Status)
	}

	plaintext, err := cipher.Decrypt(acct.Credentials)
	if err != nil {
		t.Fatalf("credentials blob does not decrypt: %v", err)
	}
	cred, err := models.ParseCredential(plaintext)
	if err != nil {
		t.Fatalf("credential decode failed: %v", err)
	}
	if cred.RefreshToken != "refresh-c1" {
		t.Fatalf("unexpected refresh token %q", cred.RefreshToken)
	}
	if cred.ProjectID != "proj-a" {
		t.Fatalf("expected first project on credential, got %q", cred.ProjectID)
	}

	// session burns on use
	if _, err := mgr.CompletePKCE(ctx, 7, "?code=c2&state="+state); err == nil {
		t.Fatalf("expected reuse of state to fail")
	}
}

func TestCompletePKCEDedupsOnExternalID(t *testing.T) {
	idToken := makeIDToken(t, map[string]any{"email": "dup@example.com"})
	srv := tokenEndpoint(t, idToken)
	defer srv.Close()

	c := newTestCache(t)
	store := newFakeStore()
	mgr := NewManager(c, store, newTestCipher(t),
		WithHTTPClient(srv.Client()),
		WithFlowEndpoints(constants.ProviderCodex, srv.URL+"/auth", srv.URL+"/token"),
	)

	ctx := context.Background()
	for i, code := range []string{"first", "second"} {
		_, state, err := mgr.StartPKCE(ctx, 3, constants.ProviderCodex)
		if err != nil {
			t.Fatalf("StartPKCE %d failed: %v", i, err)
		}
		if _, err := mgr.CompletePKCE(ctx, 3, fmt.Sprintf("?code=%s&state=%s", code, state)); err != nil {
			t.Fatalf("CompletePKCE %d failed: %v", i, err)
		}
	}

	if got := store.count(); got != 1 {
		t.Fatalf("expected exactly one account after re-import, got %d", got)
	}
	if store.updates != 1 {
		t.Fatalf("expected one credential update, got %d", store.updates)
	}
	acct, err := store.GetByExternalID(ctx, constants.ProviderCodex, 3, "dup@example.com")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if acct.LastRefreshAt == nil {
		t.Fatalf("re-import should bump last_refresh_at")
	}
}

func TestCompletePKCERejectsWrongUser(t *testing.T) {
	c := newTestCache(t)
	mgr := NewManager(c, newFakeStore(), newTestCipher(t))

	_, state, err := mgr.StartPKCE(context.Background(), 1, constants.ProviderAntigravity)
	if err != nil {
		t.Fatalf("StartPKCE failed: %v", err)
	}
	if _, err := mgr.CompletePKCE(context.Background(), 2, "?code=x&state="+state); err == nil {
		t.Fatalf("expected cross-user state to be rejected")
	}
}

func TestCompletePKCEExpiredState(t *testing.T) {
	mgr := NewManager(newTestCache(t), newFakeStore(), newTestCipher(t))
	if _, err := mgr.CompletePKCE(context.Background(), 1, "?code=x&state=deadbeef"); err == nil {
		t.Fatalf("expected unknown state to fail")
	}
}

func TestExtractClaimsChatGPTNesting(t *testing.T) {
	tok := makeIDToken(t, map[string]any{
		"sub":   "auth0|123",
		"email": "codex@example.com",
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": "acct-42",
			"chatgpt_plan_type":  "pro",
		},
	})
	claims, err := ExtractClaims(tok)
	if err != nil {
		t.Fatalf("ExtractClaims failed: %v", err)
	}
	if claims.AccountID != "acct-42" || claims.PlanType != "pro" {
		t.Fatalf("nested auth claim not extracted: %+v", claims)
	}
	if claims.ExternalID() != "acct-42" {
		t.Fatalf("account id should win external id precedence, got %q", claims.ExternalID())
	}

	tok = makeIDToken(t, map[string]any{"sub": "s-1", "email": "e@example.com"})
	claims, _ = ExtractClaims(tok)
	if claims.ExternalID() != "e@example.com" {
		t.Fatalf("email should beat subject, got %q", claims.ExternalID())
	}

	tok = makeIDToken(t, map[string]any{"sub": "s-2"})
	claims, _ = ExtractClaims(tok)
	if claims.ExternalID() != "s-2" {
		t.Fatalf("subject fallback broken, got %q", claims.ExternalID())
	}
}
