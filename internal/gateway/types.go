// Package gateway is the inbound/outbound messaging surface used for cron
// and heartbeat delivery and for session routing. Ported from
// clawdex/src/gateway.rs; the HTTP surface it used to expose itself
// (/v1/send, /v1/incoming) is instead exposed by internal/controlplane,
// which calls these functions directly.
package gateway

const (
	dirName          = "gateway"
	outboxFile       = "outbox.jsonl"
	inboxFile        = "inbox.jsonl"
	routesFile       = "routes.json"
	idempotencyFile  = "idempotency.json"
	inboxOffsetFile  = "inbox_offset.json"
)

// RouteEntry is the last known channel/to pair for a session key.
type RouteEntry struct {
	Channel     string  `json:"channel"`
	To          string  `json:"to"`
	AccountID   *string `json:"account_id,omitempty"`
	UpdatedAtMs int64   `json:"updated_at_ms"`
}

// OutboxEntry is one queued outbound message.
type OutboxEntry struct {
	ID             string  `json:"id"`
	SessionKey     string  `json:"sessionKey"`
	Channel        string  `json:"channel"`
	To             string  `json:"to"`
	AccountID      *string `json:"accountId,omitempty"`
	Text           string  `json:"text"`
	IdempotencyKey string  `json:"idempotencyKey"`
	CreatedAtMs    int64   `json:"createdAtMs"`
}

// InboxEntry is one recorded inbound message.
type InboxEntry struct {
	ID           string  `json:"id"`
	SessionKey   string  `json:"sessionKey"`
	Channel      string  `json:"channel"`
	From         string  `json:"from"`
	AccountID    *string `json:"accountId,omitempty"`
	Text         string  `json:"text"`
	ReceivedAtMs int64   `json:"receivedAtMs"`
}
