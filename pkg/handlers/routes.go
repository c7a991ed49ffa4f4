package handlers

import "github.com/gorilla/mux"

// Register mounts the websocket and REST routes on r.
func (h *Handlers) Register(r *mux.Router) {
	// WebSocket endpoints for real-time collaboration
	r.HandleFunc("/ws/document/shared/{sharedId}/", h.HandleSharedWebSocket)
	r.HandleFunc("/ws/document/shared/{sharedId}", h.HandleSharedWebSocket)
	r.HandleFunc("/ws/document/{documentId}/", h.HandleOwnerWebSocket)
	r.HandleFunc("/ws/document/{documentId}", h.HandleOwnerWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", h.UpdateDocument).Methods("PATCH")
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")
	api.HandleFunc("/documents/{id}/share", h.ShareDocument).Methods("POST")
	api.HandleFunc("/rooms/{roomId}/users", h.GetRoomUsers).Methods("GET")
}
