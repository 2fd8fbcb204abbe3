package api

import (
	"context"

	"go.uber.org/zap"
)

// FallbackPresence asks the shared store first and falls back to this
// process's hub when the store is unreachable.
type FallbackPresence struct {
	Shared PresenceReader
	Local  PresenceReader
	Log    *zap.SugaredLogger
}

func (p FallbackPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	if p.Shared != nil {
		online, err := p.Shared.IsOnline(ctx, userID)
		if err == nil {
			return online, nil
		}
		p.Log.Warnw("shared presence unavailable, using local hub", "error", err)
	}
	return p.Local.IsOnline(ctx, userID)
}
