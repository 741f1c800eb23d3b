package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/models"
	"omni2api-go/internal/monitoring"
	"omni2api-go/internal/monitoring/tracing"
	"omni2api-go/internal/oauth"
	"omni2api-go/internal/secret"
	"omni2api-go/internal/selector"
)

// maxDispatchAttempts caps candidate rotation within one client request.
// The pool usually exhausts earlier via NoAccountError.
const maxDispatchAttempts = 8

// StatusError is a non-2xx upstream exchange. Providers return it from
// Execute/OpenStream so the dispatcher can classify and rotate.
type StatusError struct {
	Provider string
	Status   int
	Header   http.Header
	Body     []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d", e.Provider, e.Status)
}

// DispatchRequest is one translated client request ready for rotation.
type DispatchRequest struct {
	UserID     int64
	ConfigType string
	Model      string
	Payload    []byte
	Stream     bool
	// Project optionally pins provider-side project selection.
	Project string
}

// Outcome is a successful dispatch. Exactly one of Response and Stream is
// set, matching the request's Stream flag.
type Outcome struct {
	Provider Provider
	Account  *models.Account
	Response *Response
	Stream   *Stream
}

// Dispatcher drives account rotation: pick a candidate, keep its token
// fresh, fire the call, classify failures and move on until the pool is
// exhausted.
type Dispatcher struct {
	registry  *Registry
	selector  *selector.Selector
	refresher *oauth.Refresher
}

func NewDispatcher(registry *Registry, sel *selector.Selector, refresher *oauth.Refresher) *Dispatcher {
	return &Dispatcher{registry: registry, selector: sel, refresher: refresher}
}

// Registry exposes the provider set for catalog handlers.
func (d *Dispatcher) Registry() *Registry { return d.registry }

func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "upstream", "Dispatch."+req.ConfigType,
		trace.WithAttributes(
			attribute.String("upstream.provider", req.ConfigType),
			attribute.String("upstream.model", req.Model),
			attribute.Bool("upstream.stream", req.Stream),
		))
	defer span.End()

	out, err := d.dispatch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req DispatchRequest) (*Outcome, error) {
	p, ok := d.registry.Get(req.ConfigType)
	if !ok {
		return nil, apierr.Newf(http.StatusBadRequest, "invalid_request_error",
			"unknown provider type %q", req.ConfigType)
	}

	var lastStatus *StatusError
	for attempt := 0; attempt < maxDispatchAttempts; attempt++ {
		cand, err := d.selector.Pick(ctx, req.ConfigType, req.UserID, req.Model, req.Project)
		if err != nil {
			var noAcct *selector.NoAccountError
			if errors.As(err, &noAcct) {
				monitoring.SelectorPicksTotal.WithLabelValues(req.ConfigType, "exhausted").Inc()
				if out, ok, ferr := d.tryFallback(ctx, p, req); ok {
					return out, ferr
				}
				return nil, exhaustedError(noAcct, lastStatus)
			}
			return nil, fmt.Errorf("upstream: pick %s account: %w", req.ConfigType, err)
		}
		monitoring.SelectorPicksTotal.WithLabelValues(req.ConfigType, "hit").Inc()

		outcome, serr, err := d.tryCandidate(ctx, p, cand, req)
		if err != nil {
			// Transport error. A dead client context ends the request;
			// anything else skips to the next candidate.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, secret.ErrCorrupted) {
				// 解不开的凭据换号也救不回来,直接 500,绝不自动删号。
				log.WithError(err).WithFields(log.Fields{
					"provider":   req.ConfigType,
					"account_id": cand.Account.ID,
				}).Error("credential blob cannot be decrypted")
				return nil, apierr.New(http.StatusInternalServerError, "credential_corrupted", "api_error",
					"credentials corrupted, please re-import the account")
			}
			reason := ClassifyNetErr(err)
			monitoring.UpstreamErrors.WithLabelValues(req.ConfigType, reason).Inc()
			trace.SpanFromContext(ctx).AddEvent("attempt", trace.WithAttributes(
				attribute.Int64("account.id", cand.Account.ID),
				attribute.String("failure.reason", reason),
			))
			log.WithError(err).WithFields(log.Fields{
				"provider":   req.ConfigType,
				"account_id": cand.Account.ID,
				"reason":     reason,
			}).Warn("upstream attempt failed")
			monitoring.UpstreamRetryAttempts.WithLabelValues(req.ConfigType, "network").Inc()
			continue
		}
		if serr != nil {
			verdict := p.ClassifyFailure(serr.Status, serr.Body, serr.Header)
			trace.SpanFromContext(ctx).AddEvent("attempt", trace.WithAttributes(
				attribute.Int64("account.id", cand.Account.ID),
				attribute.Int("http.status_code", serr.Status),
				attribute.String("failure.kind", verdict.Kind.String()),
			))
			if verdict.Kind == models.FailureFatal {
				// The request itself is broken; rotation cannot help.
				return nil, serr
			}
			d.selector.ReportFailure(ctx, cand, req.Model, verdict)
			monitoring.SelectorCooldownEvents.WithLabelValues(req.ConfigType, verdict.Kind.String()).Inc()
			monitoring.UpstreamRetryAttempts.WithLabelValues(req.ConfigType, verdict.Kind.String()).Inc()
			lastStatus = serr
			continue
		}

		trace.SpanFromContext(ctx).AddEvent("attempt", trace.WithAttributes(
			attribute.Int64("account.id", cand.Account.ID),
		))
		d.selector.ReportSuccess(ctx, cand, req.Model)
		return outcome, nil
	}

	if lastStatus != nil {
		return nil, lastStatus
	}
	return nil, apierr.New(http.StatusBadGateway, "upstream_error", "upstream_error",
		"all attempts failed with network errors, try again later")
}

// tryFallback reroutes an exhausted pool to the provider's configured relay,
// when it has one. The relay gets exactly one shot: its failures surface as
// ordinary upstream errors with no further rotation.
func (d *Dispatcher) tryFallback(ctx context.Context, p Provider, req DispatchRequest) (*Outcome, bool, error) {
	fb, ok := p.(Fallbacker)
	if !ok || !fb.FallbackEnabled() {
		return nil, false, nil
	}
	log.WithFields(log.Fields{
		"provider": p.Tag(),
		"model":    req.Model,
	}).Info("account pool exhausted, rerouting to configured fallback")
	monitoring.UpstreamRetryAttempts.WithLabelValues(req.ConfigType, "fallback").Inc()

	resp, strm, err := fb.ExecuteFallback(ctx, req.Model, req.Payload, req.Stream)
	if err != nil {
		return nil, true, err
	}
	return &Outcome{Provider: p, Response: resp, Stream: strm}, true, nil
}

// tryCandidate freshens the candidate's token and fires one attempt. A 401
// triggers one forced refresh and an immediate retry on the same account
// before the failure escalates.
func (d *Dispatcher) tryCandidate(ctx context.Context, p Provider, cand *selector.Candidate, req DispatchRequest) (*Outcome, *StatusError, error) {
	acct, cred, err := d.refresher.EnsureFresh(ctx, cand.Account)
	if err != nil {
		return nil, nil, d.reportRefreshFailure(ctx, cand, req.Model, err)
	}
	cand.Account = acct

	call := &Call{
		Account:    acct,
		Credential: cred,
		Project:    cand.Project,
		Model:      req.Model,
		Payload:    req.Payload,
		Stream:     req.Stream,
	}

	outcome, serr, err := d.fire(ctx, p, call)
	if err != nil || serr == nil {
		return outcome, serr, err
	}

	if serr.Status == http.StatusUnauthorized {
		acct, cred, rerr := d.refresher.ForceRefresh(ctx, cand.Account)
		if rerr != nil {
			return nil, nil, d.reportRefreshFailure(ctx, cand, req.Model, rerr)
		}
		cand.Account = acct
		call.Account, call.Credential = acct, cred
		log.WithFields(log.Fields{
			"provider":   p.Tag(),
			"account_id": acct.ID,
		}).Info("retrying candidate after forced token refresh")
		return d.fire(ctx, p, call)
	}
	return outcome, serr, err
}

// fire runs exactly one upstream exchange and records its metrics.
func (d *Dispatcher) fire(ctx context.Context, p Provider, call *Call) (*Outcome, *StatusError, error) {
	start := time.Now()
	var status int
	var err error
	outcome := &Outcome{Provider: p, Account: call.Account}

	if call.Stream {
		var s *Stream
		s, err = p.OpenStream(ctx, call)
		if s != nil {
			status = s.StatusCode
			outcome.Stream = s
		}
	} else {
		var r *Response
		r, err = p.Execute(ctx, call)
		if r != nil {
			status = r.StatusCode
			outcome.Response = r
		}
	}

	elapsed := time.Since(start).Seconds()
	monitoring.UpstreamRequestDuration.WithLabelValues(p.Tag()).Observe(elapsed)

	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) {
			monitoring.UpstreamRequestsTotal.WithLabelValues(p.Tag(), monitoring.StatusClass(serr.Status)).Inc()
			monitoring.UpstreamModelRequests.WithLabelValues(p.Tag(), call.Model, monitoring.StatusClass(serr.Status)).Inc()
			return nil, serr, nil
		}
		monitoring.UpstreamRequestsTotal.WithLabelValues(p.Tag(), "error").Inc()
		return nil, nil, err
	}

	monitoring.UpstreamRequestsTotal.WithLabelValues(p.Tag(), monitoring.StatusClass(status)).Inc()
	monitoring.UpstreamModelRequests.WithLabelValues(p.Tag(), call.Model, monitoring.StatusClass(status)).Inc()
	return outcome, nil, nil
}

// reportRefreshFailure maps a token refresh failure onto the candidate:
// rejected grants freeze the account, transient errors just skip it.
func (d *Dispatcher) reportRefreshFailure(ctx context.Context, cand *selector.Candidate, model string, err error) error {
	if errors.Is(err, oauth.ErrRefreshRejected) || errors.Is(err, oauth.ErrNoRefreshToken) {
		d.selector.ReportFailure(ctx, cand, model, models.FailureVerdict{
			Kind:         models.FailureUnauthorized,
			FreezeReason: models.FreezeReasonUnauthorized,
		})
		monitoring.TokenRefreshes.WithLabelValues(cand.Account.Provider, "failed").Inc()
	}
	return fmt.Errorf("refresh account %d: %w", cand.Account.ID, err)
}

// exhaustedError renders pool exhaustion for the client: 429 with a
// Retry-After hint when candidates will recover, 400 when the pool holds
// nothing usable at all.
func exhaustedError(noAcct *selector.NoAccountError, lastStatus *StatusError) error {
	status := http.StatusBadRequest
	if !noAcct.EarliestAvailable.IsZero() {
		status = http.StatusTooManyRequests
	}
	e := apierr.New(status, "no_account_available", "rate_limit_error", noAcct.Error())
	if status == http.StatusBadRequest {
		e.Type = "invalid_request_error"
	}
	details := map[string]interface{}{}
	if retry := noAcct.RetryAfter(time.Now()); retry > 0 {
		details["retry_after"] = int(retry.Seconds())
	}
	if lastStatus != nil {
		details["last_upstream_status"] = lastStatus.Status
	}
	if len(details) > 0 {
		e.Details = details
	}
	return e
}

// AsAPIError converts any dispatch error into the client-facing shape.
// Upstream 4xx pass through untouched; exhausted 5xx become a 502 that
// carries the upstream status and body.
func AsAPIError(err error) *apierr.APIError {
	var ae *apierr.APIError
	if errors.As(err, &ae) {
		return ae
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		status := serr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		e := apierr.New(status, "upstream_error", "upstream_error",
			fmt.Sprintf("upstream %s returned status %d", serr.Provider, serr.Status))
		if e.Details == nil {
			e.Details = map[string]interface{}{}
		}
		e.Details["upstream_status"] = serr.Status
		return e.WithUpstream(serr.Body)
	}
	var noAcct *selector.NoAccountError
	if errors.As(err, &noAcct) {
		status := http.StatusBadRequest
		if !noAcct.EarliestAvailable.IsZero() {
			status = http.StatusTooManyRequests
		}
		return apierr.New(status, "no_account_available", "rate_limit_error", noAcct.Error())
	}
	if errors.Is(err, context.Canceled) {
		return apierr.New(499, "client_closed_request", "client_closed_request", "client closed request")
	}
	return apierr.New(http.StatusBadGateway, "upstream_error", "upstream_error", err.Error())
}

// RetryAfterSeconds extracts the retry hint for the Retry-After header,
// zero when absent.
func RetryAfterSeconds(e *apierr.APIError) int {
	if e == nil || e.Details == nil {
		return 0
	}
	if v, ok := e.Details["retry_after"].(int); ok {
		return v
	}
	return 0
}
