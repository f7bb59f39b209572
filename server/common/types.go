package common

import "github.com/asadovsky/woot/server/woot"

// For detecting incoming message type. Each struct below has Type set to the
// struct type name.
type MsgType struct {
	Type string
}

// Sent from client to server.
type Init struct {
	Type   string
	DocId  string
	SiteId string // optional; set when a client reconnects under its old id
}

// Sent from server to client.
type Snapshot struct {
	Type    string
	SiteId  string       // site id for this client
	Entries []woot.Entry // current document, tombstones included
}

// Sent from client to server.
type Update struct {
	Type   string
	SiteId string   // site that created these ops
	OpStrs []string // encoded ops
}

// Sent from server to client.
type Change struct {
	Type   string
	SiteId string   // site that created these ops
	OpStrs []string // encoded ops
}
