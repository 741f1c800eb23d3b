package common

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/apierr"
	"omni2api-go/internal/models"
	"omni2api-go/internal/translator"
	"omni2api-go/internal/upstream"
	"omni2api-go/internal/usage"
)

// Relay carries one parsed client call through translate, dispatch,
// translate back and usage commit. The format handlers stay thin: they
// validate their own wire shape and hand over.
type Relay struct {
	dispatcher *upstream.Dispatcher
	translate  *translator.Registry
	recorder   *usage.Recorder

	// debugBody mirrors the raw request body into the usage log. Off in
	// production, the bodies contain user content.
	debugBody bool
}

func NewRelay(d *upstream.Dispatcher, tr *translator.Registry, rec *usage.Recorder, debugBody bool) *Relay {
	if tr == nil {
		tr = translator.Default()
	}
	return &Relay{dispatcher: d, translate: tr, recorder: rec, debugBody: debugBody}
}

// Call is one client request after format-specific parsing.
type Call struct {
	Principal  *models.Principal
	ConfigType string
	// Format is the client's wire format, not the provider's.
	Format  translator.Format
	Model   string
	Payload []byte
	Stream  bool
}

// Do runs the call to completion, writing the response and committing one
// usage row whatever happens past this point.
func (r *Relay) Do(c *gin.Context, call Call) {
	started := time.Now()
	entry := &models.UsageLog{
		UserID:     call.Principal.UserID,
		ConfigType: call.ConfigType,
		Endpoint:   c.FullPath(),
		Method:     c.Request.Method,
		Model:      call.Model,
		IsStream:   call.Stream,
		ClientApp:  c.GetHeader("User-Agent"),
	}
	if r.debugBody {
		entry.RequestBody = string(call.Payload)
	}

	prov, ok := r.dispatcher.Registry().Get(call.ConfigType)
	if !ok {
		e := apierr.Newf(http.StatusBadRequest, "invalid_request_error",
			"unknown provider type %q", call.ConfigType)
		r.fail(c, entry, started, e)
		return
	}
	target := prov.Format()

	payload, err := r.translate.TranslateRequest(call.Format, target, call.Model, call.Payload, call.Stream)
	if err != nil {
		r.fail(c, entry, started, requestTranslateError(err))
		return
	}

	ctx, cancel := RequestContext(c.Request.Context(), call.Stream)
	defer cancel()

	outcome, err := r.dispatcher.Dispatch(ctx, upstream.DispatchRequest{
		UserID:     call.Principal.UserID,
		ConfigType: call.ConfigType,
		Model:      call.Model,
		Payload:    payload,
		Stream:     call.Stream,
	})
	if err != nil {
		r.fail(c, entry, started, upstream.AsAPIError(err))
		return
	}
	if outcome.Account != nil {
		id := outcome.Account.ID
		entry.AccountID = &id
	}

	if call.Stream {
		r.relayStream(ctx, c, call, outcome, entry, started)
		return
	}
	r.relayResponse(ctx, c, call, outcome, entry, started)
}

// relayResponse translates a buffered upstream body into the client format
// and accounts it. Usage is read from the provider-format body so the
// numbers survive any translation loss.
func (r *Relay) relayResponse(ctx context.Context, c *gin.Context, call Call, out *upstream.Outcome, entry *models.UsageLog, started time.Time) {
	resp := out.Response
	res := usage.ObserveResponse(out.Provider.Format(), resp.Body)

	body, err := r.translate.TranslateResponse(ctx, out.Provider.Format(), call.Format, call.Model, resp.Body)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": out.Provider.Tag(),
			"format":   string(call.Format),
		}).Error("response translation failed")
		r.fail(c, entry, started, apierr.New(http.StatusBadGateway, "upstream_error", "upstream_error",
			"upstream response could not be converted"))
		return
	}

	r.finish(c, entry, started, res, resp.StatusCode)
	c.Data(resp.StatusCode, "application/json", body)
}

// relayStream pipes the upstream SSE body through the stream translator
// while a tracker watches the provider-format bytes for usage and inline
// errors. The commit runs even when the client goes away mid-stream.
func (r *Relay) relayStream(ctx context.Context, c *gin.Context, call Call, out *upstream.Outcome, entry *models.UsageLog, started time.Time) {
	strm := out.Stream
	tracker := usage.NewStreamTracker(out.Provider.Format(), strm.Body)

	reader, err := r.translate.TranslateStream(ctx, out.Provider.Format(), call.Format, call.Model, tracker)
	if err != nil {
		tracker.Close()
		r.fail(c, entry, started, apierr.New(http.StatusBadGateway, "upstream_error", "upstream_error",
			"upstream stream could not be converted"))
		return
	}

	w, flusher := PrepareSSE(c)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// 客户端走了，上游照常结算
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr != io.EOF && !errors.Is(rerr, context.Canceled) {
				log.WithError(rerr).WithField("provider", out.Provider.Tag()).Warn("stream relay interrupted")
			}
			break
		}
	}
	tracker.Close()
	r.finish(c, entry, started, tracker.Result(), strm.StatusCode)
}

// finish fills the accounting row from a tracker result and commits it.
func (r *Relay) finish(c *gin.Context, entry *models.UsageLog, started time.Time, res usage.Result, httpStatus int) {
	entry.Success = res.Success
	entry.StatusCode = httpStatus
	if !res.Success {
		entry.ErrorMessage = res.Error
		if res.StatusCode > 0 {
			entry.StatusCode = res.StatusCode
		}
	}
	entry.InputTokens = res.Usage.InputTokens
	entry.OutputTokens = res.Usage.OutputTokens
	entry.CachedTokens = res.Usage.CachedTokens
	entry.TotalTokens = res.Usage.TotalTokens
	entry.DurationMS = time.Since(started).Milliseconds()
	r.recorder.Commit(c.Request.Context(), entry)
}

// fail commits the row for a request that never produced a response body
// and renders the error in the caller's format.
func (r *Relay) fail(c *gin.Context, entry *models.UsageLog, started time.Time, e *apierr.APIError) {
	entry.Success = false
	entry.StatusCode = e.HTTPStatus
	entry.ErrorMessage = e.Message
	entry.DurationMS = time.Since(started).Milliseconds()
	r.recorder.Commit(c.Request.Context(), entry)
	AbortWithAPIError(c, e)
}

// requestTranslateError maps translation failures onto client errors. A
// field the target format cannot carry is the caller's problem, anything
// else is ours.
func requestTranslateError(err error) *apierr.APIError {
	var unsupported *translator.UnsupportedFieldError
	if errors.As(err, &unsupported) {
		return apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error",
			unsupported.Error())
	}
	var ae *apierr.APIError
	if errors.As(err, &ae) {
		return ae
	}
	return apierr.Newf(http.StatusBadRequest, "invalid_request_error", "request conversion failed: %v", err)
}
