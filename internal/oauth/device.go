package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
)

// pollOutcome is the provider-side verdict for one token poll.
type pollOutcome int

const (
	pollPending pollOutcome = iota
	pollSlowDown
	pollSuccess
	pollExpired
)

// deviceTokens is what a completed device flow yields.
type deviceTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int
	Region       string
}

// deviceProvider abstracts the provider-specific halves of the flow.
type deviceProvider interface {
	start(ctx context.Context, hc *http.Client) (*DeviceSession, *DeviceStartResult, error)
	poll(ctx context.Context, hc *http.Client, sess *DeviceSession) (*deviceTokens, pollOutcome, error)
}

// StartDevice begins a device-code flow and caches the session under a
// fresh state.
func (m *Manager) StartDevice(ctx context.Context, userID int64, provider string) (*DeviceStartResult, error) {
	dev, ok := m.devices[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, provider)
	}

	sess, result, err := dev.start(ctx, m.httpClient)
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	sess.UserID = userID
	sess.Provider = provider
	sess.CreatedAt = m.now()
	if sess.IntervalSec <= 0 {
		sess.IntervalSec = int(constants.DevicePollDefaultInterval / time.Second)
	}
	sess.NextPollAt = m.now().Add(time.Duration(sess.IntervalSec) * time.Second)

	if err := m.cache.SetJSON(ctx, cache.DeviceCodeKey(state), sess, constants.DeviceCodeTTL); err != nil {
		return nil, err
	}
	result.State = state
	result.IntervalSec = sess.IntervalSec

	log.WithFields(log.Fields{"provider": provider, "user_id": userID}).Info("device flow started")
	return result, nil
}

// PollDevice advances a device-code flow by at most one provider call. The
// stored next_poll_at throttles clients that poll faster than the provider
// allows; slow_down responses stretch the interval by five seconds.
func (m *Manager) PollDevice(ctx context.Context, userID int64, state string) (*DevicePollResult, error) {
	key := cache.DeviceCodeKey(state)

	var sess DeviceSession
	if err := m.cache.GetJSON(ctx, key, &sess); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return &DevicePollResult{Status: DeviceExpired}, nil
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, errors.New("oauth: device session belongs to a different user")
	}
	if sess.Done {
		return &DevicePollResult{Status: DeviceSuccess, AccountID: sess.AccountID}, nil
	}

	now := m.now()
	if now.Before(sess.NextPollAt) {
		return &DevicePollResult{
			Status:       DevicePending,
			RetryAfterMS: sess.NextPollAt.Sub(now).Milliseconds(),
		}, nil
	}

	dev, ok := m.devices[sess.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, sess.Provider)
	}

	tokens, outcome, err := dev.poll(ctx, m.httpClient, &sess)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case pollSuccess:
		acct, aerr := m.deviceAccount(ctx, &sess, tokens)
		if aerr != nil {
			return nil, aerr
		}
		sess.Scrub()
		sess.Done = true
		sess.AccountID = acct.ID
		if cerr := m.cache.SetJSON(ctx, key, sess, constants.DeviceCodeTTL); cerr != nil {
			log.WithError(cerr).Warn("device session scrub write failed")
		}
		return &DevicePollResult{
			Status:      DeviceSuccess,
			AccountID:   acct.ID,
			AccountName: acct.Name,
		}, nil

	case pollSlowDown:
		sess.IntervalSec += int(constants.DevicePollSlowDownStep / time.Second)
		sess.NextPollAt = now.Add(time.Duration(sess.IntervalSec) * time.Second)
		if err := m.cache.SetJSON(ctx, key, sess, constants.DeviceCodeTTL); err != nil {
			return nil, err
		}
		return &DevicePollResult{
			Status:       DeviceSlowDown,
			RetryAfterMS: sess.NextPollAt.Sub(now).Milliseconds(),
		}, nil

	case pollExpired:
		_ = m.cache.Delete(ctx, key)
		return &DevicePollResult{Status: DeviceExpired}, nil

	default:
		sess.NextPollAt = now.Add(time.Duration(sess.IntervalSec) * time.Second)
		if err := m.cache.SetJSON(ctx, key, sess, constants.DeviceCodeTTL); err != nil {
			return nil, err
		}
		return &DevicePollResult{
			Status:       DevicePending,
			RetryAfterMS: sess.NextPollAt.Sub(now).Milliseconds(),
		}, nil
	}
}

// deviceAccount converts completed device tokens into a stored account.
func (m *Manager) deviceAccount(ctx context.Context, sess *DeviceSession, tokens *deviceTokens) (*models.Account, error) {
	cred := &models.Credential{
		Type:         "device",
		RefreshToken: tokens.RefreshToken,
		AccessToken:  tokens.AccessToken,
		ClientID:     sess.ClientID,
		ClientSecret: sess.ClientSecret,
		Region:       tokens.Region,
	}

	claims := &IDTokenClaims{}
	if tokens.IDToken != "" {
		cred.IDToken = tokens.IDToken
		if c, err := ExtractClaims(tokens.IDToken); err == nil {
			claims = c
		}
	}
	cred.Email = claims.Email
	cred.AccountID = claims.AccountID

	expiry := time.Time{}
	if tokens.ExpiresIn > 0 {
		expiry = m.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		cred.ExpiresAt = expiry.UTC().Format(time.RFC3339)
	}

	externalID := claims.ExternalID()
	if externalID == "" {
		// No identity claim from the provider: fall back to a random but
		// stable id so the unique index still applies on re-import.
		externalID = uuid.NewString()
	}
	return m.upsertAccount(ctx, sess.UserID, sess.Provider, cred, externalID, "", expiry)
}

// --- Kiro (AWS SSO OIDC) ---

type kiroDevice struct {
	registerURL   string
	deviceAuthURL string
	tokenURL      string
}

func newKiroDevice() kiroDevice {
	return kiroDevice{
		registerURL:   constants.KiroRegisterURL,
		deviceAuthURL: constants.KiroDeviceAuthURL,
		tokenURL:      constants.KiroTokenURL,
	}
}

func (k kiroDevice) start(ctx context.Context, hc *http.Client) (*DeviceSession, *DeviceStartResult, error) {
	regBody := map[string]any{
		"clientName": "omni2api-" + uuid.NewString()[:8],
		"clientType": "public",
		"scopes":     strings.Split(constants.KiroScopes, " "),
	}
	var reg struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := postJSON(ctx, hc, k.registerURL, regBody, &reg); err != nil {
		return nil, nil, fmt.Errorf("oauth: kiro register client: %w", err)
	}

	authBody := map[string]any{
		"clientId":     reg.ClientID,
		"clientSecret": reg.ClientSecret,
		"startUrl":     constants.KiroStartURL,
	}
	var auth struct {
		DeviceCode      string `json:"deviceCode"`
		UserCode        string `json:"userCode"`
		VerificationURI string `json:"verificationUriComplete"`
		FallbackURI     string `json:"verificationUri"`
		ExpiresIn       int    `json:"expiresIn"`
		Interval        int    `json:"interval"`
	}
	if err := postJSON(ctx, hc, k.deviceAuthURL, authBody, &auth); err != nil {
		return nil, nil, fmt.Errorf("oauth: kiro device authorization: %w", err)
	}

	verifyURI := auth.VerificationURI
	if verifyURI == "" {
		verifyURI = auth.FallbackURI
	}
	sess := &DeviceSession{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		DeviceCode:   auth.DeviceCode,
		UserCode:     auth.UserCode,
		VerifyURI:    verifyURI,
		IntervalSec:  auth.Interval,
	}
	res := &DeviceStartResult{
		UserCode:  auth.UserCode,
		VerifyURI: verifyURI,
		ExpiresIn: auth.ExpiresIn,
	}
	return sess, res, nil
}

func (k kiroDevice) poll(ctx context.Context, hc *http.Client, sess *DeviceSession) (*deviceTokens, pollOutcome, error) {
	body := map[string]any{
		"clientId":     sess.ClientID,
		"clientSecret": sess.ClientSecret,
		"grantType":    "urn:ietf:params:oauth:grant-type:device_code",
		"deviceCode":   sess.DeviceCode,
	}
	raw, status, err := postJSONRaw(ctx, hc, k.tokenURL, body)
	if err != nil {
		return nil, pollPending, fmt.Errorf("oauth: kiro token poll: %w", err)
	}

	if status != http.StatusOK {
		switch classifyOIDCError(raw) {
		case "authorization_pending":
			return nil, pollPending, nil
		case "slow_down":
			return nil, pollSlowDown, nil
		case "expired_token":
			return nil, pollExpired, nil
		default:
			return nil, pollPending, fmt.Errorf("oauth: kiro token poll failed (%d): %s", status, truncateForLog(raw))
		}
	}

	var tok struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		IDToken      string `json:"idToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, pollPending, fmt.Errorf("oauth: kiro token decode: %w", err)
	}
	return &deviceTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      tok.IDToken,
		ExpiresIn:    tok.ExpiresIn,
		Region:       "us-east-1",
	}, pollSuccess, nil
}

// classifyOIDCError folds the two error spellings AWS OIDC uses (__type
// exception names and RFC 8628 error codes) into the RFC vocabulary.
func classifyOIDCError(raw []byte) string {
	var e struct {
		Error string `json:"error"`
		Type  string `json:"__type"`
	}
	_ = json.Unmarshal(raw, &e)
	s := e.Error
	if s == "" {
		s = e.Type
	}
	ls := strings.ToLower(s)
	switch {
	case strings.Contains(ls, "authorizationpending"), strings.Contains(ls, "authorization_pending"):
		return "authorization_pending"
	case strings.Contains(ls, "slowdown"), strings.Contains(ls, "slow_down"):
		return "slow_down"
	case strings.Contains(ls, "expired"):
		return "expired_token"
	default:
		return ls
	}
}

// --- Qwen ---

type qwenDevice struct {
	deviceCodeURL string
	tokenURL      string
}

func newQwenDevice() qwenDevice {
	return qwenDevice{
		deviceCodeURL: constants.QwenDeviceCodeURL,
		tokenURL:      constants.QwenDeviceTokenURL,
	}
}

func (q qwenDevice) start(ctx context.Context, hc *http.Client) (*DeviceSession, *DeviceStartResult, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return nil, nil, err
	}
	form := url.Values{
		"client_id":             {constants.QwenClientID},
		"scope":                 {constants.QwenScopes},
		"code_challenge":        {Challenge(verifier)},
		"code_challenge_method": {"S256"},
	}
	var auth struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri_complete"`
		FallbackURI     string `json:"verification_uri"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := postForm(ctx, hc, q.deviceCodeURL, form, &auth); err != nil {
		return nil, nil, fmt.Errorf("oauth: qwen device code: %w", err)
	}

	verifyURI := auth.VerificationURI
	if verifyURI == "" {
		verifyURI = auth.FallbackURI
	}
	sess := &DeviceSession{
		ClientID:     constants.QwenClientID,
		DeviceCode:   auth.DeviceCode,
		CodeVerifier: verifier,
		UserCode:     auth.UserCode,
		VerifyURI:    verifyURI,
		IntervalSec:  auth.Interval,
	}
	res := &DeviceStartResult{
		UserCode:  auth.UserCode,
		VerifyURI: verifyURI,
		ExpiresIn: auth.ExpiresIn,
	}
	return sess, res, nil
}

func (q qwenDevice) poll(ctx context.Context, hc *http.Client, sess *DeviceSession) (*deviceTokens, pollOutcome, error) {
	form := url.Values{
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":     {sess.ClientID},
		"device_code":   {sess.DeviceCode},
		"code_verifier": {sess.CodeVerifier},
	}
	raw, status, err := postFormRaw(ctx, hc, q.tokenURL, form)
	if err != nil {
		return nil, pollPending, fmt.Errorf("oauth: qwen token poll: %w", err)
	}

	if status != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		switch e.Error {
		case "authorization_pending":
			return nil, pollPending, nil
		case "slow_down":
			return nil, pollSlowDown, nil
		case "expired_token", "access_denied":
			return nil, pollExpired, nil
		default:
			return nil, pollPending, fmt.Errorf("oauth: qwen token poll failed (%d): %s", status, truncateForLog(raw))
		}
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, pollPending, fmt.Errorf("oauth: qwen token decode: %w", err)
	}
	return &deviceTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      tok.IDToken,
		ExpiresIn:    tok.ExpiresIn,
	}, pollSuccess, nil
}

// --- shared HTTP helpers ---

func postJSON(ctx context.Context, hc *http.Client, endpoint string, body, out any) error {
	raw, status, err := postJSONRaw(ctx, hc, endpoint, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("status %d: %s", status, truncateForLog(raw))
	}
	return json.Unmarshal(raw, out)
}

func postJSONRaw(ctx context.Context, hc *http.Client, endpoint string, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func postForm(ctx context.Context, hc *http.Client, endpoint string, form url.Values, out any) error {
	raw, status, err := postFormRaw(ctx, hc, endpoint, form)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("status %d: %s", status, truncateForLog(raw))
	}
	return json.Unmarshal(raw, out)
}

func postFormRaw(ctx context.Context, hc *http.Client, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func truncateForLog(raw []byte) string {
	const max = 300
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
