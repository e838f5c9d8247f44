// Package protocol defines the websocket messages exchanged between the
// document server and its clients.
package protocol

import "github.com/BioHazard786/findit/internal/store"

// Message represents all websocket messages between clients and the
// document server. Requests carry an ID that is echoed in the result;
// snapshots pushed for a watch carry the SubID returned by the watch request.
type Message struct {
	Type   string       `json:"type"`
	ID     uint64       `json:"id,omitempty"`
	SubID  uint64       `json:"sub_id,omitempty"`
	Path   string       `json:"path,omitempty"`
	DocID  string       `json:"doc_id,omitempty"`
	Fields store.Fields `json:"fields,omitempty"`
	Merge  bool         `json:"merge,omitempty"`
	Exists bool         `json:"exists,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Client to server.
const (
	TypeNewID           = "new_id"
	TypeSet             = "set"
	TypeGet             = "get"
	TypeAdd             = "add"
	TypeWatchDocument   = "watch_doc"
	TypeWatchCollection = "watch_collection"
	TypeUnwatch         = "unwatch"
)

// Server to client.
const (
	TypeResult   = "result"
	TypeSnapshot = "snapshot"
	TypeError    = "error"
)

// Snapshot converts a snapshot push into a store snapshot.
func (m *Message) Snapshot() store.Snapshot {
	return store.Snapshot{ID: m.DocID, Path: m.Path, Fields: m.Fields, Exists: m.Exists}
}

// SnapshotMessage builds the push for a watch.
func SnapshotMessage(subID uint64, s store.Snapshot) *Message {
	return &Message{
		Type:   TypeSnapshot,
		SubID:  subID,
		Path:   s.Path,
		DocID:  s.ID,
		Fields: s.Fields,
		Exists: s.Exists,
	}
}
