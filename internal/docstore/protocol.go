package docstore

import "github.com/satchelhq/satchel/internal/schema"

// Wire protocol between the remote adapter and the document store.
//
// The client sends Requests tagged with a caller-chosen id; the server
// answers each with exactly one Response of kind "result" carrying the
// same id. Independently of requests, the server pushes kind
// "snapshot" and kind "meta" messages to subscribed connections; those
// carry no request id.

// Op names accepted by the server.
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpGet       = "get"
	OpList      = "list"
	OpBatch     = "batch"
	OpSubscribe = "subscribe"
	OpPutMeta   = "put_meta"
	OpGetMeta   = "get_meta"
)

// Response kinds.
const (
	KindResult   = "result"
	KindSnapshot = "snapshot"
	KindMeta     = "meta"
)

// Error codes carried on result responses.
const (
	CodeNotFound   = "not_found"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Request is a client-to-server message.
type Request struct {
	ID      int64         `json:"id"`
	Op      string        `json:"op"`
	OwnerID string        `json:"owner_id,omitempty"`
	ItemID  string        `json:"item_id,omitempty"`
	Item    *schema.Item  `json:"item,omitempty"`
	Items   []schema.Item `json:"items,omitempty"`
	Patch   schema.Patch  `json:"patch,omitempty"`
	Meta    *schema.Meta  `json:"meta,omitempty"`
}

// Response is a server-to-client message: either the result of a
// request or a pushed snapshot.
type Response struct {
	ID      int64         `json:"id,omitempty"`
	Kind    string        `json:"kind"`
	Code    string        `json:"code,omitempty"`
	Error   string        `json:"error,omitempty"`
	OwnerID string        `json:"owner_id,omitempty"`
	Item    *schema.Item  `json:"item,omitempty"`
	Items   []schema.Item `json:"items,omitempty"`
	Meta    *schema.Meta  `json:"meta,omitempty"`
}
