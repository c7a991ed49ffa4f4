// Package session implements the per-connection protocol: authentication,
// room membership and the edit, undo and redo messages.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"doc-sync/pkg/access"
	"doc-sync/pkg/db"
	"doc-sync/pkg/errdefs"
	"doc-sync/pkg/history"
	"doc-sync/pkg/metrics"
	"doc-sync/pkg/oplog"
	"doc-sync/pkg/room"
)

// Credentials identify an incoming connection. DocumentID is set for owner
// connections, SharedID for shared-link connections.
type Credentials struct {
	Token      string
	DocumentID string
	SharedID   string
}

// Config tunes the gateway.
type Config struct {
	// SendBuffer is the outbound queue size of each session.
	SendBuffer int
}

type latestReader interface {
	LatestLogEntry(ctx context.Context, documentID string) (*db.LogEntry, error)
}

// Gateway creates sessions and routes their messages.
type Gateway struct {
	resolver *access.Resolver
	log      *oplog.Log
	history  *history.Controller
	rooms    *room.RoomManager
	store    latestReader
	cfg      Config
	logger   *zap.SugaredLogger
}

// NewGateway wires a gateway and installs the log commit hook that broadcasts
// every committed version to its room.
func NewGateway(resolver *access.Resolver, log *oplog.Log, hist *history.Controller, rooms *room.RoomManager, store latestReader, cfg Config, logger *zap.SugaredLogger) *Gateway {
	g := &Gateway{
		resolver: resolver,
		log:      log,
		history:  hist,
		rooms:    rooms,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
	log.OnCommit(g.broadcast)
	return g
}

func (g *Gateway) broadcast(entry *db.LogEntry) {
	msg, err := encode(documentMessage(TypeUpdate, entry.DocumentID, entry.Content, entry.Version))
	if err != nil {
		g.logger.Errorw("Failed to encode update", "document_id", entry.DocumentID, "version", entry.Version, "error", err)
		return
	}
	g.rooms.Broadcast(context.Background(), entry.DocumentID, entry.Version, msg)
}

// Authenticate resolves creds to a principal without joining a room.
func (g *Gateway) Authenticate(ctx context.Context, creds Credentials) (access.Principal, error) {
	var (
		principal access.Principal
		err       error
	)
	if creds.SharedID != "" {
		principal, err = g.resolver.ResolveShared(ctx, creds.SharedID, creds.Token)
	} else {
		principal, err = g.resolver.ResolveOwner(ctx, creds.Token, creds.DocumentID)
	}
	if err != nil {
		g.refused(creds, err)
		return access.Principal{}, err
	}
	return principal, nil
}

func (g *Gateway) refused(creds Credentials, err error) {
	switch {
	case errors.Is(err, errdefs.ErrPermission):
		metrics.PermissionDenials.Inc()
		g.logger.Warnw("Connection refused", "event", "permission_denied", "document_id", creds.DocumentID, "error", err)
	default:
		metrics.AuthFailures.Inc()
		g.logger.Warnw("Connection refused", "event", "auth_failed", "document_id", creds.DocumentID, "shared", creds.SharedID != "", "reason", errdefs.Kind(err))
	}
}

// Connect authenticates creds, joins the document room and queues INITIALIZE.
func (g *Gateway) Connect(ctx context.Context, creds Credentials) (*Session, error) {
	principal, err := g.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	return g.Open(ctx, principal)
}

// Open starts a session for an already authenticated principal.
func (g *Gateway) Open(ctx context.Context, principal access.Principal) (*Session, error) {
	id := uuid.NewString()
	if principal.Identity == "" {
		principal.Identity = "guest:" + id
	}

	s := &Session{
		ID:        id,
		Principal: principal,
		client:    room.NewClient(id, principal.Identity, string(principal.Role), g.cfg.SendBuffer),
		gateway:   g,
	}

	g.rooms.Join(principal.DocumentID, s.client)

	content, version, err := g.current(ctx, principal.DocumentID)
	if err != nil {
		g.rooms.Leave(principal.DocumentID, s.client)
		return nil, err
	}
	msg, err := encode(documentMessage(TypeInitialize, principal.DocumentID, content, version))
	if err != nil {
		g.rooms.Leave(principal.DocumentID, s.client)
		return nil, err
	}
	s.client.Deliver(version, msg)

	metrics.ActiveSessions.Inc()
	g.logger.Infow("Session opened", "session_id", id, "document_id", principal.DocumentID, "identity", principal.Identity, "role", principal.Role, "version", version)
	return s, nil
}

// current prefers the latest log entry and falls back to the materialized view.
func (g *Gateway) current(ctx context.Context, documentID string) (db.Content, int, error) {
	entry, err := g.store.LatestLogEntry(ctx, documentID)
	if err == nil {
		return entry.Content, entry.Version, nil
	}
	if !errors.Is(err, db.ErrLogEntryNotFound) {
		return db.Content{}, 0, fmt.Errorf("failed to read latest version of %s: %w", documentID, err)
	}

	state, err := g.log.Materializer().Current(ctx, documentID)
	if err != nil {
		return db.Content{}, 0, err
	}
	return state.Content, state.Version, nil
}

// Session is one connected client.
type Session struct {
	ID        string
	Principal access.Principal

	client  *room.Client
	gateway *Gateway
	once    sync.Once
}

// Outbound yields encoded messages for the connection writer. It is closed
// once the session leaves its room.
func (s *Session) Outbound() <-chan []byte {
	return s.client.Outbound()
}

// DocumentID returns the document the session is attached to.
func (s *Session) DocumentID() string {
	return s.Principal.DocumentID
}

func (s *Session) CanWrite() bool {
	return s.Principal.Role.CanWrite()
}

func (s *Session) CanRead() bool {
	return s.Principal.Role.CanRead()
}

// Handle processes one inbound frame. Returned errors are informational:
// the session stays usable whatever happens to a single message.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		err = fmt.Errorf("%w: %v", errdefs.ErrMalformedInput, err)
		s.gateway.logger.Debugw("Ignoring malformed message", "session_id", s.ID, "error", err)
		return err
	}

	switch msg.Type {
	case TypeUpdate:
		return s.edit(ctx, msg, oplog.SubmitOptions{})
	case TypeImageInsert:
		return s.edit(ctx, msg, oplog.SubmitOptions{Kind: db.OpImageInsert, Position: msg.Position})
	case TypeUndo:
		view, err := s.gateway.history.Undo(ctx, s.DocumentID(), msg.Version)
		return s.replyView(TypeUndo, view, err)
	case TypeRedo:
		view, err := s.gateway.history.Redo(ctx, s.DocumentID(), msg.Version)
		return s.replyView(TypeRedo, view, err)
	default:
		err := fmt.Errorf("%w: unknown message type %q", errdefs.ErrMalformedInput, msg.Type)
		s.gateway.logger.Debugw("Ignoring message", "session_id", s.ID, "error", err)
		return err
	}
}

func (s *Session) edit(ctx context.Context, msg Inbound, opts oplog.SubmitOptions) error {
	logger := s.gateway.logger

	if !s.CanWrite() {
		err := fmt.Errorf("%w: read-only session cannot send %s", errdefs.ErrPermission, msg.Type)
		metrics.PermissionDenials.Inc()
		logger.Warnw("Write rejected", "event", "permission_denied", "session_id", s.ID, "document_id", s.DocumentID(), "identity", s.Principal.Identity)
		s.reply(errorMessage(err.Error()))
		return err
	}
	if msg.Content == nil {
		err := fmt.Errorf("%w: %s without content", errdefs.ErrMalformedInput, msg.Type)
		logger.Debugw("Ignoring message", "session_id", s.ID, "error", err)
		return err
	}

	entry, changed, err := s.gateway.log.Submit(ctx, s.DocumentID(), *msg.Content, opts)
	if err != nil {
		s.reply(errorMessage(err.Error()))
		return err
	}
	if changed {
		logger.Debugw("Edit committed", "session_id", s.ID, "document_id", s.DocumentID(), "version", entry.Version, "kind", entry.Kind)
	}
	return nil
}

var nothingTo = map[MessageType]string{
	TypeUndo: "nothing to undo",
	TypeRedo: "nothing to redo",
}

func (s *Session) replyView(t MessageType, view history.View, err error) error {
	if err != nil {
		if !errors.Is(err, errdefs.ErrNotFound) {
			s.reply(errorMessage(err.Error()))
			return err
		}
		success := false
		s.reply(Outbound{Type: t, Success: &success, Message: nothingTo[t]})
		return err
	}

	success := true
	msg := documentMessage(t, view.DocumentID, view.Content, view.Version)
	msg.Success = &success
	s.reply(msg)
	return nil
}

// reply queues msg for this session only. Replies bypass the version guard.
// A session whose queue is full is dropped like any other slow member.
func (s *Session) reply(msg Outbound) {
	raw, err := encode(msg)
	if err != nil {
		s.gateway.logger.Errorw("Failed to encode reply", "session_id", s.ID, "error", err)
		return
	}
	if s.client.Enqueue(raw) {
		return
	}
	if s.gateway.rooms.Leave(s.DocumentID(), s.client) {
		metrics.BroadcastDrops.Inc()
		s.gateway.logger.Warnw("Dropping slow session", "session_id", s.ID, "document_id", s.DocumentID(), "type", msg.Type)
	}
}

// Disconnect leaves the room. Safe to call more than once.
func (s *Session) Disconnect() {
	s.once.Do(func() {
		s.gateway.rooms.Leave(s.DocumentID(), s.client)
		metrics.ActiveSessions.Dec()
		s.gateway.logger.Infow("Session closed", "session_id", s.ID, "document_id", s.DocumentID())
	})
}
