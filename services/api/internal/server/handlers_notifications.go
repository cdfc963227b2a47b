package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ghazal/internal/util"
	"ghazal/pkg/domain"
)

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	items, err := s.app.Notifications(user, queryBool(r, "unread"), queryInt(r, "limit"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request, user domain.User) {
	count, err := s.app.UnreadCount(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.MarkRead(user, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request, user domain.User) {
	n, err := s.app.MarkAllRead(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// handleNotificationStream pushes the user's notifications as Server-Sent
// Events until the client goes away. A comment line keeps idle proxies open.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.realtime == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	ctx := r.Context()
	sub, err := s.realtime.Subscribe(ctx, user.ID)
	if err != nil {
		logError(r, "notification subscribe failed", err)
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	_ = rc.Flush()

	logger := util.LoggerFromContext(ctx)
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				logger.Warn("encode notification event", "notification_id", n.ID, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", n.ID, payload); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
