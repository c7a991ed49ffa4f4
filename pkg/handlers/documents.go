package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"doc-sync/pkg/db"
	"doc-sync/pkg/errdefs"
)

// CreateDocument creates a new document owned by the caller
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req struct {
		Title   string     `json:"title"`
		Content db.Content `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errdefs.ErrMalformedInput, err))
		return
	}

	doc, err := h.store.CreateDocument(r.Context(), owner, req.Title, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Infow("Document created", "document_id", doc.ID, "owner", owner)
	h.writeJSON(w, http.StatusCreated, doc)
}

// ListDocuments returns the caller's documents
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	docs, err := h.store.ListDocuments(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*db.Document{}
	}
	h.writeJSON(w, http.StatusOK, docs)
}

// GetDocument returns a document with its current content and version.
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := h.ownedDocument(r.Context(), owner, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	state, err := h.materializer.Current(r.Context(), doc.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc.Content = state.Content
	doc.Version = state.Version

	h.writeJSON(w, http.StatusOK, doc)
}

// UpdateDocument renames a document the caller owns
func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req struct {
		Title *string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errdefs.ErrMalformedInput, err))
		return
	}

	doc, err := h.ownedDocument(r.Context(), owner, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.store.UpdateDocument(r.Context(), doc.ID, &db.DocumentUpdate{Title: req.Title})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Infow("Document updated", "document_id", doc.ID, "owner", owner)
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteDocument deletes a document and its history
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := h.ownedDocument(r.Context(), owner, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.DeleteDocument(r.Context(), doc.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.materializer.Evict(doc.ID)
	disconnected := h.rooms.CloseRoom(doc.ID)

	h.logger.Infow("Document deleted", "document_id", doc.ID, "owner", owner, "disconnected", disconnected)
	w.WriteHeader(http.StatusNoContent)
}

// ShareDocument issues a shared link, replacing the previous one
func (h *Handlers) ShareDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req struct {
		Permissions []db.Permission `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errdefs.ErrMalformedInput, err))
		return
	}

	grant, err := h.resolver.CreateGrant(r.Context(), owner, mux.Vars(r)["id"], req.Permissions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"document_id": grant.DocumentID,
		"token":       grant.Token,
		"permissions": grant.Permissions(),
	})
}

// GetRoomUsers returns the sessions connected to a document the caller owns
func (h *Handlers) GetRoomUsers(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	roomID := mux.Vars(r)["roomId"]
	if _, err := h.ownedDocument(r.Context(), owner, roomID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"users":   h.rooms.Members(roomID),
	})
}
