package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

// HandleStream upgrades the connection and streams one case's audit
// events in order: backfill from the log first, then live deltas, with
// duplicates suppressed by sequence number. The stream closes when the
// case reaches a terminal state or the client hangs up.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request, caseID string) {
	// Subscribe before reading the backfill so no event published in
	// between is missed; overlap is removed by sequence comparison.
	sub := h.Subscribe(caseID)
	defer sub.Close()

	backfill, err := h.log.List(r.Context(), caseID, 1)
	if err != nil {
		http.Error(w, "audit log unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Reader goroutine: surfaces client disconnects, discards input.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		conn.SetReadLimit(4 * 1024)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, normalCloseCodes...) {
					h.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	var lastSeq int64
	done := false
	for _, ev := range backfill {
		if err := h.writeEvent(conn, ev); err != nil {
			return
		}
		lastSeq = ev.Sequence
		if IsTerminalEvent(ev) {
			done = true
		}
	}
	if done {
		h.closeStream(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				h.closeStream(conn)
				return
			}
			if ev.Sequence <= lastSeq {
				continue
			}
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
			lastSeq = ev.Sequence
			if IsTerminalEvent(ev) {
				h.closeStream(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}

func (h *Hub) writeEvent(conn *websocket.Conn, ev any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		h.logger.Debug("websocket write error", "error", err)
		return err
	}
	return nil
}

func (h *Hub) closeStream(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "case closed"))
}
