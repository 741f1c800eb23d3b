// Package selector picks the upstream credential for each request: a
// cache-backed round-robin over eligible candidates, an in-process cooldown
// map with exponential backoff, and persistent freeze writes for quota
// exhaustion.
package selector

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/cache"
	"omni2api-go/internal/constants"
	"omni2api-go/internal/models"
)

// AccountSource is the repository slice the selector needs.
type AccountSource interface {
	ListEnabledByUser(ctx context.Context, provider string, userID int64) ([]*models.Account, error)
	TouchLastUsed(ctx context.Context, provider string, id int64) error
	UpdateLimits(ctx context.Context, provider string, id int64,
		used5h *int, reset5h *time.Time, usedWeek *int, resetWeek *time.Time, freezeReason string) error
}

// Candidate is one (account, project) tuple eligible for dispatch.
type Candidate struct {
	Account *models.Account
	Project string
}

// Key identifies the candidate in the cooldown map.
func (c Candidate) Key(model string) cooldownKey {
	return cooldownKey{
		provider:  c.Account.Provider,
		accountID: c.Account.ID,
		project:   c.Project,
		model:     model,
	}
}

// NoAccountError reports that selection found nothing dispatchable. When
// candidates exist but are all cooling or frozen, EarliestAvailable names
// the soonest recovery time.
type NoAccountError struct {
	Provider          string
	MissingField      string
	EarliestAvailable time.Time
}

func (e *NoAccountError) Error() string {
	if e.MissingField != "" {
		return fmt.Sprintf("no usable %s account: accounts missing %s", e.Provider, e.MissingField)
	}
	if !e.EarliestAvailable.IsZero() {
		return fmt.Sprintf("no %s account available, earliest recovery at %s", e.Provider, e.EarliestAvailable.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("no enabled %s accounts", e.Provider)
}

// RetryAfter converts the earliest recovery into a client-facing delay,
// rounded up to whole seconds.
func (e *NoAccountError) RetryAfter(now time.Time) time.Duration {
	if e.EarliestAvailable.IsZero() || !e.EarliestAvailable.After(now) {
		return 0
	}
	d := e.EarliestAvailable.Sub(now)
	return d.Round(time.Second) + time.Second
}

type cooldownKey struct {
	provider  string
	accountID int64
	project   string
	model     string
}

type cooldownState struct {
	until        time.Time
	backoffLevel int
}

// Selector owns rotation and cooldown state. One instance serves all
// providers; cooldown entries are keyed per (account, project, model).
type Selector struct {
	cache *cache.Cache
	store AccountSource

	mu        sync.Mutex
	cooldowns map[cooldownKey]*cooldownState
	fallback  map[string]uint64

	now func() time.Time
}

// Option tunes a Selector.
type Option func(*Selector)

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

// New wires the selector.
func New(c *cache.Cache, store AccountSource, opts ...Option) *Selector {
	s := &Selector{
		cache:     c,
		store:     store,
		cooldowns: make(map[cooldownKey]*cooldownState),
		fallback:  make(map[string]uint64),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pick returns the next candidate for (user, model), honoring cooldowns and
// freezes. project narrows gemini-cli selection to one project id.
func (s *Selector) Pick(ctx context.Context, provider string, userID int64, model, project string) (*Candidate, error) {
	accounts, err := s.store.ListEnabledByUser(ctx, provider, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &NoAccountError{Provider: provider}
	}

	candidates, err := buildCandidates(provider, accounts, project)
	if err != nil {
		return nil, err
	}

	now := s.now()
	available := make([]Candidate, 0, len(candidates))
	var earliest time.Time
	trackEarliest := func(t time.Time) {
		if t.IsZero() || !t.After(now) {
			return
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}

	s.mu.Lock()
	for _, cand := range candidates {
		if cand.Account.IsFrozen(now) {
			trackEarliest(cand.Account.FrozenUntil(now))
			continue
		}
		if st, ok := s.cooldowns[cand.Key(model)]; ok {
			if st.until.After(now) {
				trackEarliest(st.until)
				continue
			}
		}
		available = append(available, cand)
	}
	s.mu.Unlock()

	if len(available) == 0 {
		return nil, &NoAccountError{Provider: provider, EarliestAvailable: earliest}
	}

	idx := s.nextCursor(ctx, userID, model) % uint64(len(available))
	picked := available[idx]
	return &picked, nil
}

// nextCursor advances the shared rotation counter. A cache outage degrades
// to a per-process counter so rotation keeps moving.
func (s *Selector) nextCursor(ctx context.Context, userID int64, model string) uint64 {
	key := cache.RoundRobinKey(userID, model)
	n, err := s.cache.Incr(ctx, key)
	if err == nil {
		return uint64(n)
	}
	log.WithError(err).Warn("round robin cursor unavailable, using process-local counter")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[key]++
	return s.fallback[key]
}

func buildCandidates(provider string, accounts []*models.Account, project string) ([]Candidate, error) {
	if provider != constants.ProviderGeminiCLI {
		out := make([]Candidate, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, Candidate{Account: a, Project: project})
		}
		return out, nil
	}

	// gemini-cli fans out one candidate per project id
	out := make([]Candidate, 0, len(accounts))
	for _, a := range accounts {
		for _, p := range a.Projects() {
			if project != "" && p != project {
				continue
			}
			out = append(out, Candidate{Account: a, Project: p})
		}
	}
	if len(out) == 0 {
		return nil, &NoAccountError{Provider: provider, MissingField: "project_ids"}
	}
	return out, nil
}

// ReportSuccess clears the cooldown for the dispatched key, resets its
// backoff level and touches last_used_at at most once per minute.
func (s *Selector) ReportSuccess(ctx context.Context, cand *Candidate, model string) {
	s.mu.Lock()
	delete(s.cooldowns, cand.Key(model))
	s.mu.Unlock()

	throttleKey := cache.LastUsedThrottleKey(cand.Account.Provider, cand.Account.ID)
	ok, err := s.cache.SetIfAbsent(ctx, throttleKey, "1", constants.LastUsedThrottleTTL)
	if err != nil {
		log.WithError(err).Debug("last_used throttle unavailable")
		return
	}
	if !ok {
		return
	}
	if err := s.store.TouchLastUsed(ctx, cand.Account.Provider, cand.Account.ID); err != nil {
		log.WithError(err).Warn("last_used update failed")
	}
}

// ReportFailure applies the failure table: cooldown writes for rate limits,
// persistent freeze fields for quota exhaustion, nothing for transient
// errors.
func (s *Selector) ReportFailure(ctx context.Context, cand *Candidate, model string, v models.FailureVerdict) {
	switch v.Kind {
	case models.FailureTransient, models.FailureFatal:
		return
	case models.FailureRateLimit:
		until := s.coolDown(cand.Key(model), v)
		log.WithFields(log.Fields{
			"provider":   cand.Account.Provider,
			"account_id": cand.Account.ID,
			"model":      model,
			"until":      until.UTC().Format(time.RFC3339),
		}).Info("candidate cooling down")
		if v.Window != "" && !v.ResetAt.IsZero() {
			s.freeze(ctx, cand.Account, v)
		}
	case models.FailureFreeze, models.FailureUnauthorized:
		s.freeze(ctx, cand.Account, v)
		// auth freezes disclose no window; a capped cooldown keeps the
		// account out of rotation without disabling it
		if v.ResetAt.IsZero() && v.Window == "" {
			s.coolDown(cand.Key(model), models.FailureVerdict{RetryAfter: constants.CooldownMax})
		}
	}
}

// coolDown writes the cooldown entry and returns its expiry. Precedence:
// provider Retry-After, provider reset time, exponential backoff.
func (s *Selector) coolDown(key cooldownKey, v models.FailureVerdict) time.Time {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.cooldowns[key]
	if !ok {
		st = &cooldownState{}
		s.cooldowns[key] = st
	}

	// Provider-disclosed recovery times do not escalate the backoff level;
	// only blind 429s do.
	var until time.Time
	switch {
	case v.RetryAfter > 0:
		until = now.Add(v.RetryAfter)
	case !v.ResetAt.IsZero():
		until = v.ResetAt
	default:
		delay := constants.CooldownBase << uint(st.backoffLevel)
		if delay > constants.CooldownMax || delay <= 0 {
			delay = constants.CooldownMax
		}
		until = now.Add(delay)
		if st.backoffLevel < 63 {
			st.backoffLevel++
		}
	}
	st.until = until
	return until
}

// freeze persists quota-window fields on the account row. Window verdicts
// write 100% usage plus the reset time for their bucket; auth freezes only
// record the reason.
func (s *Selector) freeze(ctx context.Context, acct *models.Account, v models.FailureVerdict) {
	full := 100
	var used5h, usedWeek *int
	var reset5h, resetWeek *time.Time

	used5h, reset5h = acct.Limit5hUsedPercent, acct.Limit5hResetAt
	usedWeek, resetWeek = acct.LimitWeekUsedPercent, acct.LimitWeekResetAt

	switch v.Window {
	case models.Window5h:
		used5h = &full
		if !v.ResetAt.IsZero() {
			t := v.ResetAt
			reset5h = &t
		}
	case models.WindowWeek:
		usedWeek = &full
		if !v.ResetAt.IsZero() {
			t := v.ResetAt
			resetWeek = &t
		}
	}

	reason := v.FreezeReason
	if reason == "" {
		switch v.Window {
		case models.WindowWeek:
			reason = models.FreezeReasonWeek
		case models.Window5h:
			reason = models.FreezeReason5h
		}
	}

	if err := s.store.UpdateLimits(ctx, acct.Provider, acct.ID, used5h, reset5h, usedWeek, resetWeek, reason); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider":   acct.Provider,
			"account_id": acct.ID,
		}).Error("freeze write failed")
		return
	}

	// keep the in-memory copy coherent for this request's remaining retries
	acct.Limit5hUsedPercent, acct.Limit5hResetAt = used5h, reset5h
	acct.LimitWeekUsedPercent, acct.LimitWeekResetAt = usedWeek, resetWeek
	acct.FreezeReason = reason

	log.WithFields(log.Fields{
		"provider":   acct.Provider,
		"account_id": acct.ID,
		"reason":     reason,
	}).Warn("account frozen")
}

// CoolingUntil reports the active cooldown expiry for a key, zero when none.
func (s *Selector) CoolingUntil(cand *Candidate, model string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cooldowns[cand.Key(model)]
	if !ok || !st.until.After(s.now()) {
		return time.Time{}
	}
	return st.until
}

// PruneExpired drops cooldown entries long past expiry. Entries keep their
// backoff level for one max-backoff horizon after expiry so repeat
// offenders keep escalating, then drop entirely.
func (s *Selector) PruneExpired() int {
	horizon := s.now().Add(-constants.CooldownMax)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for k, st := range s.cooldowns {
		if st.until.Before(horizon) {
			delete(s.cooldowns, k)
			n++
		}
	}
	return n
}
