package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ashureev/recovery-room/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const snapshotWriteTimeout = 10 * time.Second

// Stream pushes a JSON snapshot over a websocket on every state change. The
// first message is the current snapshot. Client messages are ignored.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx := ws.CloseRead(r.Context())
	snapshots, unsubscribe := h.sessions.Session(userID, tabID).Subscribe()
	defer unsubscribe()

	h.logger.Debug("Snapshot stream opened", "user_id", userID, "tab_id", tabID)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, snapshotWriteTimeout)
			err := wsjson.Write(writeCtx, ws, snap)
			cancel()
			if err != nil {
				h.logger.Debug("Snapshot write failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

// originPatterns turns CORS origins into the host patterns websocket.Accept
// matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
