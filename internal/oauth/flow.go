// Package oauth owns the credential lifecycle: PKCE and device-code
// onboarding, token refresh with cross-process dedup, and id_token claim
// extraction.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
	"omni2api-go/internal/secret"
	"omni2api-go/internal/storage"
)

// ErrUnknownFlow reports a provider with no interactive flow (zai pools use
// plain API keys imported directly).
var ErrUnknownFlow = errors.New("oauth: provider has no interactive flow")

// ProjectDiscoverer resolves the project ids behind a fresh Google token.
// The cloudcode client implements it; tests stub it.
type ProjectDiscoverer interface {
	DiscoverProjects(ctx context.Context, accessToken string) ([]string, error)
}

// AccountStore is the slice of the repository the credential lifecycle
// touches. *storage.Store satisfies it.
type AccountStore interface {
	GetByExternalID(ctx context.Context, provider string, userID int64, externalID string) (*models.Account, error)
	GetByIDAndUser(ctx context.Context, provider string, id, userID int64) (*models.Account, error)
	Create(ctx context.Context, acct *models.Account) error
	UpdateCredentials(ctx context.Context, provider string, id int64, upd storage.CredentialUpdate) error
}

type flowSpec struct {
	authURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	redirectURI  string
	extraParams  map[string]string
}

var googleScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

func pkceFlows() map[string]flowSpec {
	return map[string]flowSpec{
		constants.ProviderAntigravity: {
			authURL:      constants.GoogleAuthURL,
			tokenURL:     constants.GoogleTokenURL,
			clientID:     constants.AntigravityClientID,
			clientSecret: constants.AntigravityClientSecret,
			scopes:       googleScopes,
			redirectURI:  "http://localhost:8085/oauth2callback",
		},
		constants.ProviderGeminiCLI: {
			authURL:      constants.GoogleAuthURL,
			tokenURL:     constants.GoogleTokenURL,
			clientID:     constants.GeminiCLIClientID,
			clientSecret: constants.GeminiCLIClientSecret,
			scopes:       googleScopes,
			redirectURI:  "http://localhost:8085/oauth2callback",
		},
		constants.ProviderCodex: {
			authURL:     constants.CodexAuthURL,
			tokenURL:    constants.CodexTokenURL,
			clientID:    constants.CodexClientID,
			scopes:      []string{"openid", "profile", "email", "offline_access"},
			redirectURI: "http://localhost:1455/auth/callback",
			extraParams: map[string]string{
				"id_token_add_organizations": "true",
			},
		},
	}
}

// ManagerOption customizes Manager creation.
type ManagerOption func(*Manager)

// Manager drives the interactive credential flows.
type Manager struct {
	cache      *cache.Cache
	store      AccountStore
	cipher     *secret.Cipher
	httpClient *http.Client
	discoverer ProjectDiscoverer
	flows      map[string]flowSpec
	devices    map[string]deviceProvider
	now        func() time.Time
}

// NewManager wires the credential flow manager.
func NewManager(c *cache.Cache, store AccountStore, cipher *secret.Cipher, opts ...ManagerOption) *Manager {
	m := &Manager{
		cache:      c,
		store:      store,
		cipher:     cipher,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		flows:      pkceFlows(),
		devices: map[string]deviceProvider{
			constants.ProviderKiro: newKiroDevice(),
			constants.ProviderQwen: newQwenDevice(),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithProjectDiscoverer wires Google project discovery for post-exchange
// account enrichment.
func WithProjectDiscoverer(d ProjectDiscoverer) ManagerOption {
	return func(m *Manager) { m.discoverer = d }
}

// WithFlowEndpoints rewrites one provider's endpoints (tests point these at
// httptest servers).
func WithFlowEndpoints(provider, authURL, tokenURL string) ManagerOption {
	return func(m *Manager) {
		f, ok := m.flows[provider]
		if !ok {
			return
		}
		if authURL != "" {
			f.authURL = authURL
		}
		if tokenURL != "" {
			f.tokenURL = tokenURL
		}
		m.flows[provider] = f
	}
}

// WithDeviceProvider replaces a device flow implementation.
func WithDeviceProvider(provider string, d deviceProvider) ManagerOption {
	return func(m *Manager) { m.devices[provider] = d }
}

// WithNowFunc overrides the clock (testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// StartPKCE builds the provider authorize URL and stores the PKCE session.
func (m *Manager) StartPKCE(ctx context.Context, userID int64, provider string) (authURL, state string, err error) {
	flow, ok := m.flows[provider]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownFlow, provider)
	}

	verifier, err := GenerateVerifier()
	if err != nil {
		return "", "", err
	}
	state, err = GenerateState()
	if err != nil {
		return "", "", err
	}

	sess := PKCESession{
		UserID:       userID,
		Provider:     provider,
		CodeVerifier: verifier,
		CreatedAt:    m.now(),
	}
	if err := m.cache.SetJSON(ctx, cache.PKCEStateKey(state), sess, constants.PKCEStateTTL); err != nil {
		return "", "", err
	}

	conf := m.oauthConfig(flow)
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", Challenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	for k, v := range flow.extraParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	authURL = conf.AuthCodeURL(state, opts...)

	log.WithFields(log.Fields{"provider": provider, "user_id": userID}).Info("PKCE flow started")
	return authURL, state, nil
}

// CompletePKCE consumes a pasted callback, exchanges the code and upserts
// the account. The session is deleted whether or not the exchange succeeds.
func (m *Manager) CompletePKCE(ctx context.Context, userID int64, callbackInput string) (*models.Account, error) {
	code, state, err := ParseCallbackInput(callbackInput)
	if err != nil {
		return nil, err
	}
	if state == "" {
		return nil, errors.New("oauth: callback input missing state")
	}

	var sess PKCESession
	if err := m.cache.GetJSON(ctx, cache.PKCEStateKey(state), &sess); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, errors.New("oauth: state expired or unknown")
		}
		return nil, err
	}
	_ = m.cache.Delete(ctx, cache.PKCEStateKey(state))
	if sess.UserID != userID {
		return nil, errors.New("oauth: state belongs to a different user")
	}

	flow, ok := m.flows[sess.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, sess.Provider)
	}

	conf := m.oauthConfig(flow)
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := conf.Exchange(exchangeCtx, code,
		oauth2.SetAuthURLParam("code_verifier", sess.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("oauth: exchange code: %w", err)
	}

	cred := &models.Credential{
		Type:         "oauth",
		RefreshToken: token.RefreshToken,
		AccessToken:  token.AccessToken,
		ClientID:     flow.clientID,
		ClientSecret: flow.clientSecret,
	}
	if !token.Expiry.IsZero() {
		cred.ExpiresAt = token.Expiry.UTC().Format(time.RFC3339)
	}

	var claims *IDTokenClaims
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		cred.IDToken = idToken
		claims, err = ExtractClaims(idToken)
		if err != nil {
			log.WithError(err).Warn("id_token claim extraction failed")
			claims = &IDTokenClaims{}
		}
	} else {
		claims = &IDTokenClaims{}
	}
	cred.Email = claims.Email
	cred.AccountID = claims.AccountID

	var projectIDs string
	if m.discoverer != nil &&
		(sess.Provider == constants.ProviderAntigravity || sess.Provider == constants.ProviderGeminiCLI) {
		if projects, derr := m.discoverer.DiscoverProjects(ctx, token.AccessToken); derr != nil {
			log.WithError(derr).Warn("project discovery failed, account stored without projects")
		} else if len(projects) > 0 {
			projectIDs = joinProjects(projects)
			cred.ProjectID = projects[0]
		}
	}

	acct, err := m.upsertAccount(ctx, userID, sess.Provider, cred, claims.ExternalID(), projectIDs, token.Expiry)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"provider":   sess.Provider,
		"user_id":    userID,
		"account_id": acct.ID,
	}).Info("PKCE flow completed")
	return acct, nil
}

func (m *Manager) oauthConfig(flow flowSpec) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     flow.clientID,
		ClientSecret: flow.clientSecret,
		RedirectURL:  flow.redirectURI,
		Scopes:       flow.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  flow.authURL,
			TokenURL: flow.tokenURL,
		},
	}
}

// upsertAccount dedups on (user, external id): a re-import refreshes the
// existing row instead of creating a twin.
func (m *Manager) upsertAccount(ctx context.Context, userID int64, provider string,
	cred *models.Credential, externalID, projectIDs string, expiry time.Time) (*models.Account, error) {

	plaintext, err := cred.Encode()
	if err != nil {
		return nil, err
	}
	blob, err := m.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if !expiry.IsZero() {
		e := expiry.UTC()
		expiresAt = &e
	}

	existing, err := m.store.GetByExternalID(ctx, provider, userID, externalID)
	switch {
	case err == nil:
		upd := storage.CredentialUpdate{
			Credentials:    blob,
			TokenExpiresAt: expiresAt,
			LastRefreshAt:  m.now(),
			Email:          cred.Email,
		}
		if projectIDs != "" {
			upd.ProjectIDs = &projectIDs
		}
		if err := m.store.UpdateCredentials(ctx, provider, existing.ID, upd); err != nil {
			return nil, err
		}
		return m.store.GetByIDAndUser(ctx, provider, existing.ID, userID)
	case errors.Is(err, storage.ErrNotFound):
		name := cred.Email
		if name == "" {
			name = provider + " account"
		}
		acct := &models.Account{
			UserID:         userID,
			Provider:       provider,
			ExternalID:     externalID,
			Name:           name,
			Credentials:    blob,
			Status:         models.StatusEnabled,
			TokenExpiresAt: expiresAt,
			ProjectIDs:     projectIDs,
			Email:          cred.Email,
		}
		now := m.now()
		acct.LastRefreshAt = &now
		if err := m.store.Create(ctx, acct); err != nil {
			return nil, err
		}
		return acct, nil
	default:
		return nil, err
	}
}

func joinProjects(projects []string) string {
	return strings.Join(projects, ",")
}
