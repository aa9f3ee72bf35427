package gateway

import (
	"testing"
)

func strp(s string) *string { return &s }

func TestSendMessageRequiresExplicitOrStoredRoute(t *testing.T) {
	dir := t.TempDir()
	_, err := SendMessage(dir, nil, SendArgs{Text: "hi"})
	if err == nil {
		t.Fatalf("expected error when no route is available")
	}
}

func TestSendMessageBestEffortMissingRoute(t *testing.T) {
	dir := t.TempDir()
	result, err := SendMessage(dir, nil, SendArgs{Text: "hi", BestEffort: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK || !result.BestEffort {
		t.Fatalf("expected best-effort failure, got %+v", result)
	}
}

func TestSendMessageDryRunShortCircuits(t *testing.T) {
	dir := t.TempDir()
	result, err := SendMessage(dir, nil, SendArgs{Text: "hi", DryRun: true})
	if err != nil || !result.OK || !result.DryRun {
		t.Fatalf("expected dry-run ok, got %+v err=%v", result, err)
	}
}

func TestSendMessageWithExplicitChannelQueuesAndRecordsRoute(t *testing.T) {
	dir := t.TempDir()
	result, err := SendMessage(dir, nil, SendArgs{
		Text:    "hello",
		Channel: strp("slack"),
		To:      strp("C123"),
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !result.OK || !result.Queued || result.Message == nil {
		t.Fatalf("expected queued message, got %+v", result)
	}
	if result.Message.Channel != "slack" || result.Message.To != "C123" {
		t.Fatalf("expected channel/to to round trip, got %+v", result.Message)
	}

	// A second send with the same idempotency key must dedup.
	result2, err := SendMessage(dir, nil, SendArgs{
		Text:           "hello",
		Channel:        strp("slack"),
		To:             strp("C123"),
		IdempotencyKey: &result.Message.IdempotencyKey,
	})
	if err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	if !result2.Deduped {
		t.Fatalf("expected dedup on repeat idempotency key, got %+v", result2)
	}
}

func TestSendMessageDedupesOnIdempotencyKey(t *testing.T) {
	dir := t.TempDir()
	key := "fixed-key"
	first, err := SendMessage(dir, nil, SendArgs{Text: "a", Channel: strp("slack"), To: strp("c"), IdempotencyKey: &key})
	if err != nil || !first.Queued {
		t.Fatalf("expected first send to queue, got %+v err=%v", first, err)
	}
	second, err := SendMessage(dir, nil, SendArgs{Text: "a", Channel: strp("slack"), To: strp("c"), IdempotencyKey: &key})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !second.Deduped {
		t.Fatalf("expected dedup on repeat idempotency key, got %+v", second)
	}
}

func TestSendMessageFallsBackToStoredRoute(t *testing.T) {
	dir := t.TempDir()
	if _, err := SendMessage(dir, nil, SendArgs{Text: "first", Channel: strp("slack"), To: strp("c1"), SessionKey: strp("sess")}); err != nil {
		t.Fatalf("seed route: %v", err)
	}
	result, err := SendMessage(dir, nil, SendArgs{Text: "second", SessionKey: strp("sess")})
	if err != nil {
		t.Fatalf("SendMessage via stored route: %v", err)
	}
	if result.Message == nil || result.Message.Channel != "slack" || result.Message.To != "c1" {
		t.Fatalf("expected stored route to be reused, got %+v", result.Message)
	}
}

func TestListChannelsFiltersStaleRoutes(t *testing.T) {
	dir := t.TempDir()
	if _, err := SendMessage(dir, nil, SendArgs{Text: "hi", Channel: strp("slack"), To: strp("c1")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ttl := int64(1000 * 60 * 60)
	result, err := ListChannels(dir, &ttl)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("expected 1 fresh channel, got %+v", result)
	}

	zero := int64(0)
	stale, err := ListChannels(dir, &zero)
	if err != nil {
		t.Fatalf("ListChannels stale: %v", err)
	}
	if stale.Count != 0 {
		t.Fatalf("expected 0 channels with a zero ttl, got %+v", stale)
	}
}

func TestResolveTargetExplicitPair(t *testing.T) {
	dir := t.TempDir()
	result, err := ResolveTarget(dir, nil, ResolveTargetArgs{Channel: strp("slack"), To: strp("c1")})
	if err != nil || !result.OK || result.SessionKey != "slack:c1" {
		t.Fatalf("expected explicit pair to resolve directly, got %+v err=%v", result, err)
	}
}

func TestResolveTargetNoMatch(t *testing.T) {
	dir := t.TempDir()
	result, err := ResolveTarget(dir, nil, ResolveTargetArgs{Channel: strp("slack")})
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if result.OK {
		t.Fatalf("expected no match, got %+v", result)
	}
	if result.Reason != "no matching route" {
		t.Fatalf("expected reason to explain no match, got %q", result.Reason)
	}
}

func TestRecordIncomingRequiresChannelAndFrom(t *testing.T) {
	dir := t.TempDir()
	if _, err := RecordIncoming(dir, RecordIncomingArgs{From: "u1"}); err == nil {
		t.Fatalf("expected error without channel")
	}
	if _, err := RecordIncoming(dir, RecordIncomingArgs{Channel: "slack"}); err == nil {
		t.Fatalf("expected error without from")
	}
}

func TestRecordIncomingThenDrainInbox(t *testing.T) {
	dir := t.TempDir()
	if _, err := RecordIncoming(dir, RecordIncomingArgs{Channel: "slack", From: "u1", Text: "hello"}); err != nil {
		t.Fatalf("RecordIncoming: %v", err)
	}
	if _, err := RecordIncoming(dir, RecordIncomingArgs{Channel: "slack", From: "u2", Text: "hi"}); err != nil {
		t.Fatalf("RecordIncoming: %v", err)
	}

	entries, err := DrainInbox(dir)
	if err != nil {
		t.Fatalf("DrainInbox: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// A second drain with nothing new must return empty, not the same entries again.
	more, err := DrainInbox(dir)
	if err != nil {
		t.Fatalf("DrainInbox again: %v", err)
	}
	if len(more) != 0 {
		t.Fatalf("expected no new entries on second drain, got %d", len(more))
	}

	if _, err := RecordIncoming(dir, RecordIncomingArgs{Channel: "slack", From: "u3", Text: "third"}); err != nil {
		t.Fatalf("RecordIncoming: %v", err)
	}
	latest, err := DrainInbox(dir)
	if err != nil || len(latest) != 1 || latest[0].From != "u3" {
		t.Fatalf("expected only the newest entry, got %+v err=%v", latest, err)
	}
}

func TestRecordIncomingRefreshesRouteForResolveTarget(t *testing.T) {
	dir := t.TempDir()
	if _, err := RecordIncoming(dir, RecordIncomingArgs{Channel: "slack", From: "u1", Text: "hi"}); err != nil {
		t.Fatalf("RecordIncoming: %v", err)
	}
	result, err := ResolveTarget(dir, nil, ResolveTargetArgs{Channel: strp("slack")})
	if err != nil || !result.OK || result.To != "u1" {
		t.Fatalf("expected inbound message to populate the route table, got %+v err=%v", result, err)
	}
}
