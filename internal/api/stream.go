package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// StreamRun handles GET /api/v1/runs/{id}/stream. It sends the current status,
// then every published update, and closes after the terminal status.
func (h *Handler) StreamRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	// Subscribe before reading the current view so no transition is lost.
	updates, unsubscribe := h.service.Subscribe(runID)
	defer unsubscribe()

	view, err := h.service.Status(r.Context(), runID)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("stream %s: upgrade failed: %v", runID, err)
		return
	}
	defer conn.Close()

	if err := h.writeJSON(conn, newRunStatusResponse(*view)); err != nil {
		return
	}
	if view.Status.IsTerminal() {
		h.closeStream(conn, "run finished")
		return
	}

	// The reader only handles control frames and detects client disconnects.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-updates:
			if !ok {
				h.closeStream(conn, "run finished")
				return
			}
			if err := h.writeJSON(conn, newRunStatusResponse(v)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (h *Handler) closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
