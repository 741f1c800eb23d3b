package common

import (
	"context"

	"omni2api-go/internal/constants"
)

// RequestContext bounds one proxied exchange. Non-streaming calls get the
// total budget; streams must never be cut off by a read deadline, they end
// when the client or the upstream goes away.
func RequestContext(parent context.Context, stream bool) (context.Context, context.CancelFunc) {
	if stream {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, constants.NonStreamTimeout)
}
