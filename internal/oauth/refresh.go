package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/secret"
	"omni2api-go/internal/storage"
)

// ErrRefreshRejected means the provider refused the refresh token itself.
// The account needs a re-import, not a retry.
var ErrRefreshRejected = errors.New("oauth: refresh token rejected")

// ErrNoRefreshToken reports an account whose credential lacks the
// refresh_token the provider requires.
var ErrNoRefreshToken = errors.New("oauth: credential has no refresh_token")

// Refresher rotates access tokens. Concurrent refreshes of one account
// collapse to a single provider call: in-process via singleflight, across
// processes via a short cache lock.
type Refresher struct {
	cache      *cache.Cache
	store      AccountStore
	cipher     *secret.Cipher
	httpClient *http.Client
	group      singleflight.Group
	endpoints  map[string]string
	now        func() time.Time
}

// RefresherOption tunes a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshHTTPClient swaps the HTTP client used for provider calls.
func WithRefreshHTTPClient(client *http.Client) RefresherOption {
	return func(r *Refresher) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithRefreshEndpoint points one provider's token endpoint somewhere else.
func WithRefreshEndpoint(provider, endpoint string) RefresherOption {
	return func(r *Refresher) { r.endpoints[provider] = endpoint }
}

// WithRefreshNowFunc overrides the clock.
func WithRefreshNowFunc(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRefresher wires the token rotation engine.
func NewRefresher(c *cache.Cache, store AccountStore, cipher *secret.Cipher, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		cache:      c,
		store:      store,
		cipher:     cipher,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoints: map[string]string{
			constants.ProviderAntigravity: constants.GoogleTokenURL,
			constants.ProviderGeminiCLI:   constants.GoogleTokenURL,
			constants.ProviderCodex:       constants.CodexTokenURL,
			constants.ProviderKiro:        constants.KiroTokenURL,
			constants.ProviderQwen:        constants.QwenDeviceTokenURL,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decrypt opens an account's credential blob.
func (r *Refresher) Decrypt(acct *models.Account) (*models.Credential, error) {
	plaintext, err := r.cipher.Decrypt(acct.Credentials)
	if err != nil {
		return nil, err
	}
	return models.ParseCredential(plaintext)
}

// NeedsRefresh reports whether the access token is missing, expired, or
// inside the skew window. zai keys are long-lived and never rotate.
func (r *Refresher) NeedsRefresh(acct *models.Account, cred *models.Credential) bool {
	if cred.AccessToken == "" {
		return true
	}
	switch acct.Provider {
	case constants.ProviderZaiTTS, constants.ProviderZaiImage:
		return false
	}
	expiry := acct.TokenExpiresAt
	if expiry == nil || expiry.IsZero() {
		t := cred.ExpiresTime()
		if t.IsZero() {
			return true
		}
		expiry = &t
	}
	return expiry.Sub(r.now()) <= constants.RefreshSkew
}

// EnsureFresh returns the account with a usable access token, refreshing
// first when the stored one is stale.
func (r *Refresher) EnsureFresh(ctx context.Context, acct *models.Account) (*models.Account, *models.Credential, error) {
	cred, err := r.Decrypt(acct)
	if err != nil {
		return nil, nil, err
	}
	if !r.NeedsRefresh(acct, cred) {
		return acct, cred, nil
	}
	return r.refresh(ctx, acct)
}

// ForceRefresh rotates the token unconditionally. Used after upstream 401
// and for user-initiated refresh.
func (r *Refresher) ForceRefresh(ctx context.Context, acct *models.Account) (*models.Account, *models.Credential, error) {
	return r.refresh(ctx, acct)
}

type refreshed struct {
	acct *models.Account
	cred *models.Credential
}

func (r *Refresher) refresh(ctx context.Context, acct *models.Account) (*models.Account, *models.Credential, error) {
	key := fmt.Sprintf("%s:%d", acct.Provider, acct.ID)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.refreshLocked(ctx, acct)
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(*refreshed)
	return res.acct, res.cred, nil
}

// refreshLocked holds the cross-process lock for the duration of one
// provider call. When another process already holds it, we wait for that
// process's write to land instead of dialing the provider twice.
func (r *Refresher) refreshLocked(ctx context.Context, acct *models.Account) (*refreshed, error) {
	lockKey := cache.RefreshLockKey(acct.Provider, acct.ID)
	got, err := r.cache.SetIfAbsent(ctx, lockKey, "1", constants.RefreshLockTTL)
	if err != nil {
		// Cache down degrades to in-process dedup only.
		log.WithError(err).Warn("refresh lock unavailable, proceeding without it")
		got = true
	}
	if !got {
		if res := r.awaitPeerRefresh(ctx, acct); res != nil {
			return res, nil
		}
		// Peer never landed a fresh token. Do it ourselves.
	} else {
		defer func() {
			if derr := r.cache.Delete(context.WithoutCancel(ctx), lockKey); derr != nil {
				log.WithError(derr).Debug("refresh lock release failed")
			}
		}()
	}

	cred, err := r.Decrypt(acct)
	if err != nil {
		return nil, err
	}
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w: account %d (%s)", ErrNoRefreshToken, acct.ID, acct.Provider)
	}

	tokens, err := r.providerRefresh(ctx, acct.Provider, cred)
	if err != nil {
		return nil, err
	}

	cred.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		cred.RefreshToken = tokens.RefreshToken
	}
	if tokens.IDToken != "" {
		cred.IDToken = tokens.IDToken
	}

	now := r.now()
	var expiry *time.Time
	if tokens.ExpiresIn > 0 {
		t := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
		// token_expires_at never moves backwards across successful refreshes
		if acct.TokenExpiresAt != nil && t.Before(*acct.TokenExpiresAt) {
			t = *acct.TokenExpiresAt
		}
		cred.ExpiresAt = t.UTC().Format(time.RFC3339)
		expiry = &t
	} else {
		expiry = acct.TokenExpiresAt
	}

	plaintext, err := cred.Encode()
	if err != nil {
		return nil, err
	}
	blob, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpdateCredentials(ctx, acct.Provider, acct.ID, storage.CredentialUpdate{
		Credentials:    blob,
		TokenExpiresAt: expiry,
		LastRefreshAt:  now,
	}); err != nil {
		return nil, err
	}

	fresh := *acct
	fresh.Credentials = blob
	fresh.TokenExpiresAt = expiry
	fresh.LastRefreshAt = &now

	log.WithFields(log.Fields{
		"provider":   acct.Provider,
		"account_id": acct.ID,
	}).Info("access token refreshed")
	return &refreshed{acct: &fresh, cred: cred}, nil
}

// awaitPeerRefresh re-reads the account while another process refreshes it,
// returning the result once last_refresh_at moves. nil means the peer never
// finished inside the lock window.
func (r *Refresher) awaitPeerRefresh(ctx context.Context, acct *models.Account) *refreshed {
	deadline := r.now().Add(constants.RefreshLockTTL)
	prev := time.Time{}
	if acct.LastRefreshAt != nil {
		prev = *acct.LastRefreshAt
	}
	for r.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
		latest, err := r.store.GetByIDAndUser(ctx, acct.Provider, acct.ID, acct.UserID)
		if err != nil {
			continue
		}
		if latest.LastRefreshAt != nil && latest.LastRefreshAt.After(prev) {
			cred, derr := r.Decrypt(latest)
			if derr != nil {
				return nil
			}
			return &refreshed{acct: latest, cred: cred}
		}
	}
	return nil
}

// providerRefresh performs the provider-specific token rotation call.
func (r *Refresher) providerRefresh(ctx context.Context, provider string, cred *models.Credential) (*deviceTokens, error) {
	switch provider {
	case constants.ProviderAntigravity, constants.ProviderGeminiCLI:
		return r.refreshGoogle(ctx, provider, cred)
	case constants.ProviderCodex:
		return r.refreshCodex(ctx, cred)
	case constants.ProviderKiro:
		return r.refreshKiro(ctx, cred)
	case constants.ProviderQwen:
		return r.refreshQwen(ctx, cred)
	case constants.ProviderZaiTTS, constants.ProviderZaiImage:
		// zai pools hold static API keys, nothing to rotate
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, provider)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, provider)
	}
}

func (r *Refresher) refreshGoogle(ctx context.Context, provider string, cred *models.Credential) (*deviceTokens, error) {
	clientID, clientSecret := cred.ClientID, cred.ClientSecret
	if clientID == "" {
		if provider == constants.ProviderGeminiCLI {
			clientID, clientSecret = constants.GeminiCLIClientID, constants.GeminiCLIClientSecret
		} else {
			clientID, clientSecret = constants.AntigravityClientID, constants.AntigravityClientSecret
		}
	}
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {cred.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	return r.formTokenCall(ctx, r.endpoints[provider], form)
}

func (r *Refresher) refreshCodex(ctx context.Context, cred *models.Credential) (*deviceTokens, error) {
	clientID := cred.ClientID
	if clientID == "" {
		clientID = constants.CodexClientID
	}
	body := map[string]any{
		"client_id":     clientID,
		"grant_type":    "refresh_token",
		"refresh_token": cred.RefreshToken,
		"scope":         "openid profile email",
	}
	raw, status, err := postJSONRaw(ctx, r.httpClient, r.endpoints[constants.ProviderCodex], body)
	if err != nil {
		return nil, fmt.Errorf("oauth: codex refresh: %w", err)
	}
	return decodeTokenResponse(raw, status)
}

func (r *Refresher) refreshKiro(ctx context.Context, cred *models.Credential) (*deviceTokens, error) {
	if cred.ClientID == "" || cred.ClientSecret == "" {
		return nil, errors.New("oauth: kiro credential missing client registration")
	}
	body := map[string]any{
		"clientId":     cred.ClientID,
		"clientSecret": cred.ClientSecret,
		"grantType":    "refresh_token",
		"refreshToken": cred.RefreshToken,
	}
	raw, status, err := postJSONRaw(ctx, r.httpClient, r.endpoints[constants.ProviderKiro], body)
	if err != nil {
		return nil, fmt.Errorf("oauth: kiro refresh: %w", err)
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRefreshRejected, status, truncateForLog(raw))
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("oauth: kiro refresh failed (%d): %s", status, truncateForLog(raw))
	}
	var tok struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		IDToken      string `json:"idToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("oauth: kiro refresh decode: %w", err)
	}
	return &deviceTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      tok.IDToken,
		ExpiresIn:    tok.ExpiresIn,
	}, nil
}

func (r *Refresher) refreshQwen(ctx context.Context, cred *models.Credential) (*deviceTokens, error) {
	clientID := cred.ClientID
	if clientID == "" {
		clientID = constants.QwenClientID
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {cred.RefreshToken},
	}
	return r.formTokenCall(ctx, r.endpoints[constants.ProviderQwen], form)
}

func (r *Refresher) formTokenCall(ctx context.Context, endpoint string, form url.Values) (*deviceTokens, error) {
	raw, status, err := postFormRaw(ctx, r.httpClient, endpoint, form)
	if err != nil {
		return nil, fmt.Errorf("oauth: token refresh: %w", err)
	}
	return decodeTokenResponse(raw, status)
}

func decodeTokenResponse(raw []byte, status int) (*deviceTokens, error) {
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRefreshRejected, status, truncateForLog(raw))
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("oauth: token refresh failed (%d): %s", status, truncateForLog(raw))
	}
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("oauth: token response decode: %w", err)
	}
	return &deviceTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      tok.IDToken,
		ExpiresIn:    tok.ExpiresIn,
	}, nil
}
