package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

// ErrNoRoute is returned by SendMessage when no channel/to was given and no
// fresh route exists for the resolved session key, and bestEffort is false.
var ErrNoRoute = errors.New("message.send missing channel/to and no last route")

// Dir returns the gateway directory under stateDir.
func Dir(stateDir string) string {
	return filepath.Join(stateDir, dirName)
}

func outboxPath(dir string) string      { return filepath.Join(dir, outboxFile) }
func inboxPath(dir string) string       { return filepath.Join(dir, inboxFile) }
func inboxOffsetPath(dir string) string { return filepath.Join(dir, inboxOffsetFile) }

func routeCutoffMs(routeTTLMs *int64) *int64 {
	if routeTTLMs == nil {
		return nil
	}
	cutoff := clock.NowMillis() - *routeTTLMs
	return &cutoff
}

func routeIsFresh(route RouteEntry, cutoff *int64) bool {
	if cutoff == nil {
		return true
	}
	return route.UpdatedAtMs >= *cutoff
}

// SendArgs is the normalized shape of a message.send call. Text, Channel,
// To, SessionKey, AccountID and IdempotencyKey mirror the camelCase/
// snake_case-tolerant fields the original accepted from MCP tool arguments.
type SendArgs struct {
	Text           string
	BestEffort     bool
	DryRun         bool
	Channel        *string
	To             *string
	SessionKey     *string
	AccountID      *string
	IdempotencyKey *string
}

// SendResult is what SendMessage reports back to the caller.
type SendResult struct {
	OK         bool         `json:"ok"`
	DryRun     bool         `json:"dryRun,omitempty"`
	BestEffort bool         `json:"bestEffort,omitempty"`
	Deduped    bool         `json:"deduped,omitempty"`
	Queued     bool         `json:"queued,omitempty"`
	Error      string       `json:"error,omitempty"`
	Message    *OutboxEntry `json:"message,omitempty"`
}

// SendMessage resolves a route for args, dedups on its idempotency key, and
// appends a queued entry to the outbox. Grounded on gateway.rs's
// send_message.
func SendMessage(gatewayDir string, routeTTLMs *int64, args SendArgs) (SendResult, error) {
	text := strings.TrimSpace(args.Text)
	if text == "" {
		return SendResult{}, errors.New("message.send requires text or message")
	}

	sessionKey := "agent:main:main"
	switch {
	case args.SessionKey != nil && *args.SessionKey != "":
		sessionKey = *args.SessionKey
	case args.Channel != nil && args.To != nil:
		sessionKey = *args.Channel + ":" + *args.To
	}

	idempotencyKey := clock.NewID()
	if args.IdempotencyKey != nil && *args.IdempotencyKey != "" {
		idempotencyKey = *args.IdempotencyKey
	} else {
		idempotencyKey = "auto-" + idempotencyKey
	}

	if args.DryRun {
		return SendResult{OK: true, DryRun: true}, nil
	}

	routes, err := loadRouteStore(gatewayDir)
	if err != nil {
		return SendResult{}, err
	}
	cutoff := routeCutoffMs(routeTTLMs)

	var route RouteEntry
	switch {
	case args.Channel != nil && args.To != nil:
		route = RouteEntry{Channel: *args.Channel, To: *args.To, AccountID: args.AccountID, UpdatedAtMs: clock.NowMillis()}
	default:
		existing, ok := routes.get(sessionKey)
		if !ok || !routeIsFresh(existing, cutoff) {
			if args.BestEffort {
				return SendResult{OK: false, BestEffort: true, Error: "no route available"}, nil
			}
			return SendResult{}, ErrNoRoute
		}
		route = existing
	}

	idempotency, err := loadIdempotencyStore(gatewayDir)
	if err != nil {
		return SendResult{}, err
	}
	if idempotency.seen(idempotencyKey) {
		return SendResult{OK: true, Deduped: true}, nil
	}

	entry := OutboxEntry{
		ID:             clock.NewID(),
		SessionKey:     sessionKey,
		Channel:        route.Channel,
		To:             route.To,
		AccountID:      route.AccountID,
		Text:           text,
		IdempotencyKey: idempotencyKey,
		CreatedAtMs:    clock.NowMillis(),
	}
	if err := jsonfile.AppendLine(outboxPath(gatewayDir), entry); err != nil {
		return SendResult{}, fmt.Errorf("append outbox entry: %w", err)
	}

	route.UpdatedAtMs = clock.NowMillis()
	if err := routes.update(sessionKey, route); err != nil {
		return SendResult{}, err
	}
	if err := idempotency.insert(idempotencyKey, clock.NowMillis()); err != nil {
		return SendResult{}, err
	}

	return SendResult{OK: true, Queued: true, Message: &entry}, nil
}

// ChannelSnapshot is one fresh route, as reported by ListChannels.
type ChannelSnapshot struct {
	Channel     string  `json:"channel"`
	To          string  `json:"to"`
	AccountID   *string `json:"accountId,omitempty"`
	SessionKey  string  `json:"sessionKey"`
	UpdatedAtMs int64   `json:"updatedAtMs"`
}

// ListChannelsResult is ListChannels's full response.
type ListChannelsResult struct {
	Channels   []ChannelSnapshot `json:"channels"`
	Count      int               `json:"count"`
	RouteTTLMs *int64            `json:"routeTtlMs,omitempty"`
	Disabled   bool              `json:"disabled"`
}

// ListChannels returns every route that is still fresh under routeTTLMs,
// most recently updated first.
func ListChannels(gatewayDir string, routeTTLMs *int64) (ListChannelsResult, error) {
	routes, err := loadRouteStore(gatewayDir)
	if err != nil {
		return ListChannelsResult{}, err
	}
	cutoff := routeCutoffMs(routeTTLMs)

	var out []ChannelSnapshot
	for sessionKey, route := range routes.entries() {
		if !routeIsFresh(route, cutoff) {
			continue
		}
		out = append(out, ChannelSnapshot{
			Channel:     route.Channel,
			To:          route.To,
			AccountID:   route.AccountID,
			SessionKey:  sessionKey,
			UpdatedAtMs: route.UpdatedAtMs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAtMs > out[j].UpdatedAtMs })

	return ListChannelsResult{Channels: out, Count: len(out), RouteTTLMs: routeTTLMs, Disabled: false}, nil
}

// ResolveTargetArgs filters the route table by any combination of channel,
// to, and account id.
type ResolveTargetArgs struct {
	Channel   *string
	To        *string
	AccountID *string
}

// ResolveTargetResult is ResolveTarget's response, mirroring the original's
// ok/reason envelope.
type ResolveTargetResult struct {
	OK          bool    `json:"ok"`
	Channel     string  `json:"channel,omitempty"`
	To          string  `json:"to,omitempty"`
	AccountID   *string `json:"accountId,omitempty"`
	SessionKey  string  `json:"sessionKey,omitempty"`
	UpdatedAtMs *int64  `json:"updatedAtMs,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// ResolveTarget returns an explicit channel/to pair directly, or else the
// freshest matching route in the table.
func ResolveTarget(gatewayDir string, routeTTLMs *int64, args ResolveTargetArgs) (ResolveTargetResult, error) {
	if args.Channel != nil && args.To != nil {
		return ResolveTargetResult{
			OK:         true,
			Channel:    *args.Channel,
			To:         *args.To,
			AccountID:  args.AccountID,
			SessionKey: *args.Channel + ":" + *args.To,
		}, nil
	}

	routes, err := loadRouteStore(gatewayDir)
	if err != nil {
		return ResolveTargetResult{}, err
	}
	cutoff := routeCutoffMs(routeTTLMs)

	type candidate struct {
		sessionKey string
		route      RouteEntry
	}
	var candidates []candidate
	for sessionKey, route := range routes.entries() {
		if !routeIsFresh(route, cutoff) {
			continue
		}
		if args.Channel != nil && route.Channel != *args.Channel {
			continue
		}
		if args.To != nil && route.To != *args.To {
			continue
		}
		if args.AccountID != nil && (route.AccountID == nil || *route.AccountID != *args.AccountID) {
			continue
		}
		candidates = append(candidates, candidate{sessionKey: sessionKey, route: route})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].route.UpdatedAtMs > candidates[j].route.UpdatedAtMs })

	if len(candidates) > 0 {
		best := candidates[0]
		updatedAt := best.route.UpdatedAtMs
		return ResolveTargetResult{
			OK:          true,
			Channel:     best.route.Channel,
			To:          best.route.To,
			AccountID:   best.route.AccountID,
			SessionKey:  best.sessionKey,
			UpdatedAtMs: &updatedAt,
		}, nil
	}

	result := ResolveTargetResult{OK: false, Reason: "no matching route"}
	if args.Channel != nil {
		result.Channel = *args.Channel
	}
	if args.To != nil {
		result.To = *args.To
	}
	result.AccountID = args.AccountID
	return result, nil
}

// RecordIncomingArgs is what a bridge reports for one inbound message.
type RecordIncomingArgs struct {
	Channel   string
	From      string
	Text      string
	AccountID *string
}

// RecordIncomingResult wraps the recorded inbox entry.
type RecordIncomingResult struct {
	OK      bool       `json:"ok"`
	Message InboxEntry `json:"message"`
}

// RecordIncoming appends an inbox entry and refreshes the route table so
// that a later reply can resolve "last inbound route" without an explicit
// channel/to. Grounded on gateway.rs's record_incoming.
func RecordIncoming(gatewayDir string, args RecordIncomingArgs) (RecordIncomingResult, error) {
	if args.Channel == "" {
		return RecordIncomingResult{}, errors.New("incoming requires channel")
	}
	if args.From == "" {
		return RecordIncomingResult{}, errors.New("incoming requires from")
	}

	sessionKey := args.Channel + ":" + args.From
	entry := InboxEntry{
		ID:           clock.NewID(),
		SessionKey:   sessionKey,
		Channel:      args.Channel,
		From:         args.From,
		AccountID:    args.AccountID,
		Text:         args.Text,
		ReceivedAtMs: clock.NowMillis(),
	}
	if err := jsonfile.AppendLine(inboxPath(gatewayDir), entry); err != nil {
		return RecordIncomingResult{}, fmt.Errorf("append inbox entry: %w", err)
	}

	routes, err := loadRouteStore(gatewayDir)
	if err != nil {
		return RecordIncomingResult{}, err
	}
	route := RouteEntry{Channel: args.Channel, To: args.From, AccountID: args.AccountID, UpdatedAtMs: clock.NowMillis()}
	if err := routes.update(sessionKey, route); err != nil {
		return RecordIncomingResult{}, err
	}

	return RecordIncomingResult{OK: true, Message: entry}, nil
}

type inboxOffsetDocument struct {
	Offset int `json:"offset"`
}

// DrainInbox returns the inbox entries recorded since the last drain and
// advances the persisted offset past them.
func DrainInbox(gatewayDir string) ([]InboxEntry, error) {
	raw, err := jsonfile.ReadLines(inboxPath(gatewayDir), 0)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	var offsetDoc inboxOffsetDocument
	if _, err := jsonfile.ReadValue(inboxOffsetPath(gatewayDir), &offsetDoc); err != nil {
		return nil, fmt.Errorf("read inbox offset: %w", err)
	}

	var out []InboxEntry
	if offsetDoc.Offset < len(raw) {
		for _, line := range raw[offsetDoc.Offset:] {
			var entry InboxEntry
			if err := decodeInboxEntry(line, &entry); err != nil {
				return nil, err
			}
			out = append(out, entry)
		}
	}

	if err := jsonfile.WriteValue(inboxOffsetPath(gatewayDir), inboxOffsetDocument{Offset: len(raw)}); err != nil {
		return nil, fmt.Errorf("save inbox offset: %w", err)
	}
	return out, nil
}

func decodeInboxEntry(line json.RawMessage, out *InboxEntry) error {
	if err := json.Unmarshal(line, out); err != nil {
		return fmt.Errorf("decode inbox entry: %w", err)
	}
	return nil
}
