package ipc

import (
	"context"

	"github.com/rexliu/bctl/pkg/core"
)

// SentinelID is echoed when a malformed line carries no usable id.
const SentinelID = "unknown"

// Handler settles one validated local request. It must always return a response.
type Handler interface {
	Handle(ctx context.Context, req core.LocalRequest) core.LocalResponse
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, core.LocalRequest) core.LocalResponse

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req core.LocalRequest) core.LocalResponse {
	return f(ctx, req)
}

// InternalFunc answers an internal request (status, events) from local state.
// ok=false means the type is not internal and the line is parsed as a LocalRequest.
type InternalFunc func(req core.StatusRequest) (reply any, ok bool)
