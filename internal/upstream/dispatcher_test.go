package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/oauth"
	"omni2api-go/internal/secret"
	"omni2api-go/internal/selector"
	"omni2api-go/internal/storage"
	"omni2api-go/internal/translator"
)

// dispatchStore backs both the selector and the refresher in tests.
type dispatchStore struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
	updates  int
}

func newDispatchStore() *dispatchStore {
	return &dispatchStore{accounts: make(map[int64]*models.Account)}
}

func (s *dispatchStore) ListEnabledByUser(_ context.Context, provider string, userID int64) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Account
	for _, a := range s.accounts {
		if a.Provider == provider && a.UserID == userID && a.Status == models.StatusEnabled {
			cp := *a
			out = append(out, &cp)
		}
	}
	// map iteration order is random; selection tests need stable input
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID < out[i].ID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *dispatchStore) TouchLastUsed(_ context.Context, _ string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		now := time.Now()
		a.LastUsedAt = &now
	}
	return nil
}

func (s *dispatchStore) UpdateLimits(_ context.Context, _ string, id int64,
	used5h *int, reset5h *time.Time, usedWeek *int, resetWeek *time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		if used5h != nil {
			a.Limit5hUsedPercent = used5h
		}
		if reset5h != nil {
			a.Limit5hResetAt = reset5h
		}
		if usedWeek != nil {
			a.LimitWeekUsedPercent = usedWeek
		}
		if resetWeek != nil {
			a.LimitWeekResetAt = resetWeek
		}
		a.FreezeReason = reason
	}
	return nil
}

func (s *dispatchStore) GetByExternalID(_ context.Context, provider string, userID int64, externalID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Provider == provider && a.UserID == userID && a.ExternalID == externalID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *dispatchStore) GetByIDAndUser(_ context.Context, provider string, id, userID int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.Provider != provider || a.UserID != userID {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *dispatchStore) Create(_ context.Context, acct *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct.ID = int64(len(s.accounts) + 1)
	cp := *acct
	s.accounts[acct.ID] = &cp
	return nil
}

func (s *dispatchStore) UpdateCredentials(_ context.Context, provider string, id int64, upd storage.CredentialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.Provider != provider {
		return storage.ErrNotFound
	}
	a.Credentials = upd.Credentials
	a.TokenExpiresAt = upd.TokenExpiresAt
	t := upd.LastRefreshAt
	a.LastRefreshAt = &t
	s.updates++
	return nil
}

type scripted struct {
	status int
	body   string
	header http.Header
}

// scriptedProvider plays back result queues: the global queue first, then
// per-account queues, then a default 200.
type scriptedProvider struct {
	mu      sync.Mutex
	tag     string
	global  []scripted
	queues  map[int64][]scripted
	calls   []int64
	tokens  []string
	streams int
}

func newScriptedProvider(tag string) *scriptedProvider {
	return &scriptedProvider{tag: tag, queues: make(map[int64][]scripted)}
}

func (p *scriptedProvider) enqueue(accountID int64, r scripted) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[accountID] = append(p.queues[accountID], r)
}

func (p *scriptedProvider) enqueueAny(r scripted) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = append(p.global, r)
}

func (p *scriptedProvider) next(call *Call) scripted {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call.Account.ID)
	if call.Credential != nil {
		p.tokens = append(p.tokens, call.Credential.AccessToken)
	}
	if len(p.global) > 0 {
		r := p.global[0]
		p.global = p.global[1:]
		return r
	}
	q := p.queues[call.Account.ID]
	if len(q) == 0 {
		return scripted{status: http.StatusOK, body: `{"ok":true}`}
	}
	r := q[0]
	p.queues[call.Account.ID] = q[1:]
	return r
}

func (p *scriptedProvider) Tag() string               { return p.tag }
func (p *scriptedProvider) Format() translator.Format { return translator.FormatOpenAI }

func (p *scriptedProvider) ListModels(context.Context, *Call) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "scripted-model"}}, nil
}

func (p *scriptedProvider) Execute(_ context.Context, call *Call) (*Response, error) {
	r := p.next(call)
	if r.status >= 400 {
		return nil, &StatusError{Provider: p.tag, Status: r.status, Header: r.header, Body: []byte(r.body)}
	}
	return &Response{StatusCode: r.status, Header: r.header, Body: []byte(r.body)}, nil
}

func (p *scriptedProvider) OpenStream(_ context.Context, call *Call) (*Stream, error) {
	r := p.next(call)
	if r.status >= 400 {
		return nil, &StatusError{Provider: p.tag, Status: r.status, Header: r.header, Body: []byte(r.body)}
	}
	p.mu.Lock()
	p.streams++
	p.mu.Unlock()
	return &Stream{StatusCode: r.status, Header: r.header, Body: io.NopCloser(strings.NewReader(r.body))}, nil
}

func (p *scriptedProvider) ClassifyFailure(status int, body []byte, hdr http.Header) models.FailureVerdict {
	return ClassifyStatus(status, body, hdr)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type dispatchEnv struct {
	dispatcher *Dispatcher
	provider   *scriptedProvider
	store      *dispatchStore
	selector   *selector.Selector
	cipher     *secret.Cipher
	refresher  *oauth.Refresher
}

func newDispatchEnv(t *testing.T, tag string, refreshOpts ...oauth.RefresherOption) *dispatchEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewFromClient(client, "test:")

	cipher, err := secret.NewCipher("dispatch-test-passphrase")
	require.NoError(t, err)

	store := newDispatchStore()
	sel := selector.New(c, store)
	refresher := oauth.NewRefresher(c, store, cipher, refreshOpts...)
	provider := newScriptedProvider(tag)
	reg := NewRegistry()
	reg.Register(provider)

	return &dispatchEnv{
		dispatcher: NewDispatcher(reg, sel, refresher),
		provider:   provider,
		store:      store,
		selector:   sel,
		cipher:     cipher,
		refresher:  refresher,
	}
}

func (e *dispatchEnv) seedAccount(t *testing.T, provider string, cred *models.Credential, expiry *time.Time) *models.Account {
	t.Helper()
	plaintext, err := cred.Encode()
	require.NoError(t, err)
	blob, err := e.cipher.Encrypt(plaintext)
	require.NoError(t, err)
	acct := &models.Account{
		UserID:         1,
		Provider:       provider,
		ExternalID:     cred.Email,
		Name:           "acct",
		Credentials:    blob,
		Status:         models.StatusEnabled,
		TokenExpiresAt: expiry,
	}
	require.NoError(t, e.store.Create(context.Background(), acct))
	return acct
}

func futureTime() *time.Time {
	t := time.Now().Add(2 * time.Hour)
	return &t
}

func defaultRequest() DispatchRequest {
	return DispatchRequest{
		UserID:     1,
		ConfigType: constants.ProviderCodex,
		Model:      "gpt-5",
		Payload:    []byte(`{"model":"gpt-5"}`),
	}
}

func TestDispatchSuccess(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-1", RefreshToken: "rt-1", Email: "a@example.com"}, futureTime())

	out, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	require.Nil(t, out.Stream)
	require.Equal(t, http.StatusOK, out.Response.StatusCode)
	require.Equal(t, []string{"at-1"}, env.provider.tokens)
}

func TestDispatchStreamSuccess(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	acct := env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-1", RefreshToken: "rt-1", Email: "a@example.com"}, futureTime())
	env.provider.enqueue(acct.ID, scripted{status: 200, body: "data: {}\n\n"})

	req := defaultRequest()
	req.Stream = true
	out, err := env.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, out.Response)
	require.NotNil(t, out.Stream)
	payload, err := io.ReadAll(out.Stream.Body)
	require.NoError(t, err)
	require.Equal(t, "data: {}\n\n", string(payload))
	require.Equal(t, 1, env.provider.streams)
}

func TestDispatchRotatesPastTransientFailure(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	a1 := env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-1", RefreshToken: "rt", Email: "a@example.com"}, futureTime())
	a2 := env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-2", RefreshToken: "rt", Email: "b@example.com"}, futureTime())
	env.provider.enqueue(a1.ID, scripted{status: 503, body: `{"error":"overloaded"}`})
	env.provider.enqueue(a2.ID, scripted{status: 503, body: `{"error":"overloaded"}`})

	out, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	// two 503s burn one attempt each, then rotation wraps back around;
	// transient failures leave no cooldown behind
	require.Equal(t, 3, env.provider.callCount())
	require.NotEqual(t, env.provider.calls[0], env.provider.calls[1])
}

func TestDispatchCoolsDownRateLimitedAccount(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-1", RefreshToken: "rt", Email: "a@example.com"}, futureTime())
	env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-2", RefreshToken: "rt", Email: "b@example.com"}, futureTime())
	hdr := http.Header{}
	hdr.Set("Retry-After", "120")
	env.provider.enqueueAny(scripted{status: 429, header: hdr, body: `{"error":{"message":"rate limited"}}`})

	out, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	require.Equal(t, 2, env.provider.callCount())
	survivor := env.provider.calls[1]

	// The cooled account must not come back while its window holds.
	for i := 0; i < 4; i++ {
		cand, err := env.selector.Pick(context.Background(), constants.ProviderCodex, 1, "gpt-5", "")
		require.NoError(t, err)
		require.Equal(t, survivor, cand.Account.ID)
	}
}

func TestDispatchRefreshesOn401AndRetriesSameAccount(t *testing.T) {
	var refreshCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-fresh",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	env := newDispatchEnv(t, constants.ProviderCodex,
		oauth.WithRefreshHTTPClient(tokenSrv.Client()),
		oauth.WithRefreshEndpoint(constants.ProviderCodex, tokenSrv.URL),
	)
	acct := env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-stale", RefreshToken: "rt", Email: "a@example.com"}, futureTime())
	env.provider.enqueue(acct.ID, scripted{status: 401, body: `{"error":"token expired"}`})
	env.provider.enqueue(acct.ID, scripted{status: 200, body: `{"ok":true}`})

	out, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	require.Equal(t, []int64{acct.ID, acct.ID}, env.provider.calls)
	require.Equal(t, []string{"at-stale", "at-fresh"}, env.provider.tokens)
}

func TestDispatchSecond401FreezesAccount(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-fresh",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	env := newDispatchEnv(t, constants.ProviderCodex,
		oauth.WithRefreshHTTPClient(tokenSrv.Client()),
		oauth.WithRefreshEndpoint(constants.ProviderCodex, tokenSrv.URL),
	)
	acct := env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-1", RefreshToken: "rt", Email: "a@example.com"}, futureTime())
	env.provider.enqueue(acct.ID, scripted{status: 401, body: `{}`})
	env.provider.enqueue(acct.ID, scripted{status: 401, body: `{}`})

	_, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.Error(t, err)

	env.store.mu.Lock()
	frozen := env.store.accounts[acct.ID].FreezeReason
	env.store.mu.Unlock()
	require.Equal(t, models.FreezeReasonUnauthorized, frozen)
}

func TestDispatchPoolExhaustion(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	acct := env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-1", RefreshToken: "rt", Email: "a@example.com"}, futureTime())
	hdr := http.Header{}
	hdr.Set("Retry-After", "90")
	env.provider.enqueue(acct.ID, scripted{status: 429, header: hdr, body: `{}`})

	_, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.Error(t, err)

	ae := AsAPIError(err)
	require.Equal(t, http.StatusTooManyRequests, ae.HTTPStatus)
	require.Equal(t, "no_account_available", ae.Code)
	require.Contains(t, ae.Message, "earliest recovery at")
	retry := RetryAfterSeconds(ae)
	require.Greater(t, retry, 0)
	require.LessOrEqual(t, retry, 92)
	require.Equal(t, 429, ae.Details["last_upstream_status"])
}

func TestDispatchFatalErrorReturnsUpstreamBody(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	acct := env.seedAccount(t, constants.ProviderCodex,
		&models.Credential{AccessToken: "at-1", RefreshToken: "rt", Email: "a@example.com"}, futureTime())
	env.provider.enqueue(acct.ID, scripted{status: 400, body: `{"error":{"message":"bad payload"}}`})

	_, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.Error(t, err)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	require.Equal(t, 400, serr.Status)
	// request errors never burn additional candidates
	require.Equal(t, 1, env.provider.callCount())

	ae := AsAPIError(err)
	require.Equal(t, 400, ae.HTTPStatus)
}

func TestDispatchUnknownProvider(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	req := defaultRequest()
	req.ConfigType = "no-such-provider"

	_, err := env.dispatcher.Dispatch(context.Background(), req)
	require.Error(t, err)
	ae := AsAPIError(err)
	require.Equal(t, http.StatusBadRequest, ae.HTTPStatus)
}

func TestDispatchCorruptedCredentialFailsFast(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)
	acct := &models.Account{
		UserID:      1,
		Provider:    constants.ProviderCodex,
		ExternalID:  "corrupted@example.com",
		Name:        "acct",
		Credentials: "not-a-ciphertext",
		Status:      models.StatusEnabled,
	}
	require.NoError(t, env.store.Create(context.Background(), acct))

	_, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.Error(t, err)
	ae := AsAPIError(err)
	require.Equal(t, http.StatusInternalServerError, ae.HTTPStatus)
	require.Equal(t, "credential_corrupted", ae.Code)
	require.Contains(t, ae.Message, "re-import")

	// 坏凭据不打上游,也不动账号状态。
	require.Zero(t, env.provider.callCount())
	got, gerr := env.store.GetByIDAndUser(context.Background(), constants.ProviderCodex, acct.ID, 1)
	require.NoError(t, gerr)
	require.Equal(t, models.StatusEnabled, got.Status)
}

func TestAsAPIErrorMapsServerErrorsTo502(t *testing.T) {
	serr := &StatusError{Provider: "codex", Status: 503, Body: []byte(`{"error":"overloaded"}`)}
	ae := AsAPIError(serr)
	require.Equal(t, http.StatusBadGateway, ae.HTTPStatus)
	require.Equal(t, 503, ae.Details["upstream_status"])

	serr = &StatusError{Provider: "codex", Status: 404, Body: nil}
	require.Equal(t, 404, AsAPIError(serr).HTTPStatus)
}

func TestDispatchEmptyPool(t *testing.T) {
	env := newDispatchEnv(t, constants.ProviderCodex)

	_, err := env.dispatcher.Dispatch(context.Background(), defaultRequest())
	require.Error(t, err)
	// an empty pool has no recovery horizon, so no 429 semantics apply
	ae := AsAPIError(err)
	require.Equal(t, http.StatusBadRequest, ae.HTTPStatus)
	require.Equal(t, "no_account_available", ae.Code)
}
