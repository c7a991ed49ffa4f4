package handlers

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"doc-sync/pkg/errdefs"
	"doc-sync/pkg/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// HandleOwnerWebSocket serves /ws/document/{documentId}/?token=<jwt>
func (h *Handlers) HandleOwnerWebSocket(w http.ResponseWriter, r *http.Request) {
	h.serveWebSocket(w, r, session.Credentials{
		Token:      r.URL.Query().Get("token"),
		DocumentID: mux.Vars(r)["documentId"],
	})
}

// HandleSharedWebSocket serves /ws/document/shared/{sharedId}/[?token=<jwt>]
func (h *Handlers) HandleSharedWebSocket(w http.ResponseWriter, r *http.Request) {
	h.serveWebSocket(w, r, session.Credentials{
		Token:    r.URL.Query().Get("token"),
		SharedID: mux.Vars(r)["sharedId"],
	})
}

func (h *Handlers) serveWebSocket(w http.ResponseWriter, r *http.Request, creds session.Credentials) {
	// Refused before the upgrade: the client only sees a status code.
	principal, err := h.gateway.Authenticate(r.Context(), creds)
	if err != nil {
		w.WriteHeader(errdefs.HTTPStatus(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "document_id", principal.DocumentID, "error", err)
		return
	}

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := h.gateway.Open(ctx, principal)
	if err != nil {
		cancel()
		h.logger.Errorw("Failed to open session", "document_id", principal.DocumentID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go h.writePump(conn, sess)
	go h.readPump(ctx, cancel, conn, sess)
}

// readPump feeds inbound frames to the session until the connection fails.
func (h *Handlers) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorw("Panic in read pump", "session_id", sess.ID, "panic", r, "stack", string(debug.Stack()))
		}
		cancel()
		sess.Disconnect()
		conn.Close()
	}()

	conn.SetReadLimit(h.maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warnw("WebSocket closed unexpectedly", "session_id", sess.ID, "error", err)
			}
			return
		}
		// Per-message failures are already reported to the client by the session.
		_ = sess.Handle(ctx, message)
	}
}

// writePump drains the session queue to the connection and keeps it alive.
func (h *Handlers) writePump(conn *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.Disconnect()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debugw("WebSocket write failed", "session_id", sess.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debugw("WebSocket ping failed", "session_id", sess.ID, "error", err)
				return
			}
		}
	}
}
