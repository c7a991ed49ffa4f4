package session

import (
	"encoding/json"

	"doc-sync/pkg/db"
)

// MessageType tags every frame exchanged with a client.
type MessageType string

const (
	TypeInitialize  MessageType = "INITIALIZE"
	TypeUpdate      MessageType = "UPDATE"
	TypeImageInsert MessageType = "IMAGE_INSERT"
	TypeUndo        MessageType = "UNDO"
	TypeRedo        MessageType = "REDO"
	TypeError       MessageType = "ERROR"
)

// Inbound is a client request.
type Inbound struct {
	Type     MessageType `json:"type"`
	Content  *db.Content `json:"content,omitempty"`
	Position *int        `json:"position,omitempty"`
	Version  int         `json:"version,omitempty"`
}

// DocumentPayload is the document state carried by server messages.
type DocumentPayload struct {
	ID      string     `json:"id"`
	Content db.Content `json:"content"`
	Version int        `json:"version"`
}

// Outbound is a server message.
type Outbound struct {
	Type     MessageType      `json:"type"`
	Document *DocumentPayload `json:"document,omitempty"`
	Success  *bool            `json:"success,omitempty"`
	Message  string           `json:"message,omitempty"`
}

func documentMessage(t MessageType, documentID string, content db.Content, version int) Outbound {
	return Outbound{
		Type:     t,
		Document: &DocumentPayload{ID: documentID, Content: content, Version: version},
	}
}

func errorMessage(message string) Outbound {
	success := false
	return Outbound{Type: TypeError, Success: &success, Message: message}
}

func encode(msg Outbound) ([]byte, error) {
	return json.Marshal(msg)
}
