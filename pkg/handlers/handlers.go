package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"doc-sync/pkg/access"
	"doc-sync/pkg/db"
	"doc-sync/pkg/errdefs"
	"doc-sync/pkg/oplog"
	"doc-sync/pkg/room"
	"doc-sync/pkg/session"
)

// Options tunes the transport.
type Options struct {
	// MaxMessageBytes bounds a single inbound websocket frame.
	MaxMessageBytes int64
	// CheckOrigin decides whether a browser origin may upgrade. Nil allows all.
	CheckOrigin func(origin string) bool
}

// Handlers contains all HTTP and WebSocket handlers
type Handlers struct {
	gateway      *session.Gateway
	resolver     *access.Resolver
	store        db.IDocumentStore
	materializer *oplog.Materializer
	rooms        *room.RoomManager
	upgrader     websocket.Upgrader
	maxMessage   int64
	logger       *zap.SugaredLogger
}

// NewHandlers creates a new handlers instance
func NewHandlers(gateway *session.Gateway, resolver *access.Resolver, store db.IDocumentStore, materializer *oplog.Materializer, rooms *room.RoomManager, opts Options, logger *zap.SugaredLogger) *Handlers {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	checkOrigin := opts.CheckOrigin
	return &Handlers{
		gateway:      gateway,
		resolver:     resolver,
		store:        store,
		materializer: materializer,
		rooms:        rooms,
		maxMessage:   opts.MaxMessageBytes,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if checkOrigin == nil {
					return true
				}
				return checkOrigin(r.Header.Get("Origin"))
			},
		},
	}
}

// identity authenticates a REST request carrying "Authorization: Bearer <jwt>".
func (h *Handlers) identity(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("%w: missing bearer token", errdefs.ErrAuth)
	}
	return h.resolver.Verify(token)
}

// ownedDocument loads id and checks that identity owns it.
func (h *Handlers) ownedDocument(ctx context.Context, identity, id string) (*db.Document, error) {
	doc, err := h.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Owner != identity {
		return nil, fmt.Errorf("%w: document %s belongs to another user", errdefs.ErrPermission, id)
	}
	return doc, nil
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warnw("Failed to write response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debugw("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "reason", errdefs.Kind(err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
