package upstream

import (
	"fmt"
	"net/http"

	"omni2api-go/internal/constants"
)

// Exchange runs one prepared request against an upstream. Non-2xx statuses
// come back as *StatusError with the body drained so the caller can always
// classify. For stream exchanges a 2xx hands body ownership to the caller.
func Exchange(tag string, client *http.Client, req *http.Request, stream bool) (*Response, *Stream, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("upstream %s: %w", tag, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := DrainLimited(resp.Body, constants.BodySnapshotMaxBytes)
		return nil, nil, &StatusError{
			Provider: tag,
			Status:   resp.StatusCode,
			Header:   resp.Header,
			Body:     body,
		}
	}

	if stream {
		return nil, &Stream{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
		}, nil
	}

	body, err := ReadAll(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("upstream %s: read body: %w", tag, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil, nil
}
