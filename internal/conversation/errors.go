package conversation

import (
	"context"
	"errors"
	"net"

	"github.com/kalambet/techne/internal/engine"
	"github.com/kalambet/techne/internal/provider"
)

// Fixed user-facing messages. Raw errors are logged, never shown.
const (
	MsgModelDownload = "The model could not be downloaded. Check your connection and disk space, then try again."
	MsgModelServer   = "The local model server is not reachable. Make sure it is running and try again."
	MsgCancelled     = "The request was cancelled."
	MsgGeneric       = "Something went wrong. Please try again."
)

// FriendlyError maps err to a short plain-language message.
func FriendlyError(err error) string {
	var netErr *net.OpError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, provider.ErrModelUnavailable), errors.Is(err, engine.ErrPullUnsupported):
		return MsgModelDownload
	case errors.Is(err, provider.ErrAborted), errors.Is(err, context.Canceled):
		return MsgCancelled
	case errors.As(err, &netErr):
		return MsgModelServer
	default:
		return MsgGeneric
	}
}
