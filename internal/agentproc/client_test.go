package agentproc

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeServer simulates the agent process's half of the duplex over an
// in-memory pipe pair, so tests never spawn a real subprocess.
type fakeServer struct {
	toClient   io.WriteCloser
	fromClient *bufio.Reader
}

func newClientWithFakeServer(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	clientReadEnd, serverWriteEnd := io.Pipe()
	serverReadEnd, clientWriteEnd := io.Pipe()

	client := newClient(clientWriteEnd, clientReadEnd)
	server := &fakeServer{toClient: serverWriteEnd, fromClient: bufio.NewReader(serverReadEnd)}
	return client, server
}

func (s *fakeServer) readLine(t *testing.T) map[string]any {
	t.Helper()
	line, err := s.fromClient.ReadString('\n')
	if err != nil {
		t.Fatalf("fake server read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &m); err != nil {
		t.Fatalf("fake server decode: %v", err)
	}
	return m
}

func (s *fakeServer) send(t *testing.T, v map[string]any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("fake server encode: %v", err)
	}
	if _, err := s.toClient.Write(append(payload, '\n')); err != nil {
		t.Fatalf("fake server write: %v", err)
	}
}

func TestInitializeRoundTrip(t *testing.T) {
	client, server := newClientWithFakeServer(t)
	done := make(chan error, 1)
	go func() { done <- client.Initialize("test-client", "0.0.0") }()

	req := server.readLine(t)
	if req["method"] != "initialize" {
		t.Fatalf("expected initialize request, got %+v", req)
	}
	server.send(t, map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": map[string]any{}})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Initialize")
	}
}

func TestThreadStartReturnsThreadID(t *testing.T) {
	client, server := newClientWithFakeServer(t)
	done := make(chan struct {
		id  string
		err error
	}, 1)
	go func() {
		id, err := client.ThreadStart()
		done <- struct {
			id  string
			err error
		}{id, err}
	}()

	req := server.readLine(t)
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "id": req["id"],
		"result": map[string]any{"thread": map[string]any{"id": "thread-1"}},
	})

	result := <-done
	if result.err != nil {
		t.Fatalf("ThreadStart: %v", result.err)
	}
	if result.id != "thread-1" {
		t.Fatalf("expected thread-1, got %q", result.id)
	}
}

func TestRunTurnAccumulatesDeltasAndCompletes(t *testing.T) {
	client, server := newClientWithFakeServer(t)
	type turnResult struct {
		outcome TurnOutcome
		err     error
	}
	done := make(chan turnResult, 1)
	go func() {
		outcome, err := client.RunTurn("thread-1", "hello", TurnStartOptions{})
		done <- turnResult{outcome, err}
	}()

	startReq := server.readLine(t)
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "id": startReq["id"],
		"result": map[string]any{"turn": map[string]any{"id": "turn-1"}},
	})

	server.send(t, map[string]any{
		"jsonrpc": "2.0", "method": NotifyAgentMessageDelta,
		"params": map[string]any{"threadId": "thread-1", "turnId": "turn-1", "delta": "Hel"},
	})
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "method": NotifyAgentMessageDelta,
		"params": map[string]any{"threadId": "thread-1", "turnId": "turn-1", "delta": "lo!"},
	})
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "method": NotifyTurnCompleted,
		"params": map[string]any{
			"threadId": "thread-1",
			"turn":     map[string]any{"id": "turn-1", "status": TurnStatusCompleted},
		},
	})

	select {
	case result := <-done:
		if result.err != nil {
			t.Fatalf("RunTurn: %v", result.err)
		}
		if result.outcome.Message != "Hello!" {
			t.Fatalf("expected accumulated deltas, got %q", result.outcome.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RunTurn")
	}
}

func TestRunTurnFailurePropagatesErrorMessage(t *testing.T) {
	client, server := newClientWithFakeServer(t)
	done := make(chan error, 1)
	go func() {
		_, err := client.RunTurn("thread-1", "hello", TurnStartOptions{})
		done <- err
	}()

	startReq := server.readLine(t)
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "id": startReq["id"],
		"result": map[string]any{"turn": map[string]any{"id": "turn-1"}},
	})
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "method": NotifyTurnCompleted,
		"params": map[string]any{
			"threadId": "thread-1",
			"turn": map[string]any{
				"id": "turn-1", "status": TurnStatusFailed,
				"error": map[string]any{"message": "boom"},
			},
		},
	})

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("expected failure to mention boom, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failed RunTurn")
	}
}

type scriptedApprovalHandler struct {
	commandDecision string
	fileDecision    string
	seenCommand     *CommandApprovalParams
}

func (h *scriptedApprovalHandler) CommandDecision(params CommandApprovalParams) string {
	h.seenCommand = &params
	return h.commandDecision
}

func (h *scriptedApprovalHandler) FileDecision(FileChangeApprovalParams) string {
	return h.fileDecision
}

func TestNestedCommandApprovalRequestIsAnsweredDuringTurn(t *testing.T) {
	client, server := newClientWithFakeServer(t)
	handler := &scriptedApprovalHandler{commandDecision: DecisionAccept}
	client.SetApprovalHandler(handler)

	done := make(chan error, 1)
	go func() {
		_, err := client.RunTurn("thread-1", "hello", TurnStartOptions{})
		done <- err
	}()

	startReq := server.readLine(t)
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "id": startReq["id"],
		"result": map[string]any{"turn": map[string]any{"id": "turn-1"}},
	})

	// The agent process asks for command approval mid-turn, nested inside
	// the notification stream the client is reading.
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "id": "nested-1", "method": RequestCommandApproval,
		"params": map[string]any{"command": "ls -la"},
	})
	approvalResp := server.readLine(t)
	if approvalResp["result"].(map[string]any)["decision"] != DecisionAccept {
		t.Fatalf("expected accept decision, got %+v", approvalResp)
	}
	if handler.seenCommand == nil || handler.seenCommand.Command != "ls -la" {
		t.Fatalf("expected handler to see the command, got %+v", handler.seenCommand)
	}

	server.send(t, map[string]any{
		"jsonrpc": "2.0", "method": NotifyTurnCompleted,
		"params": map[string]any{
			"threadId": "thread-1",
			"turn":     map[string]any{"id": "turn-1", "status": TurnStatusCompleted},
		},
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunTurn: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RunTurn after nested approval")
	}
}

func TestEventSinkReceivesEveryNotification(t *testing.T) {
	client, server := newClientWithFakeServer(t)
	var seen []string
	client.SetEventSink(recordingSink{seen: &seen})

	done := make(chan error, 1)
	go func() {
		_, err := client.RunTurn("thread-1", "hello", TurnStartOptions{})
		done <- err
	}()

	startReq := server.readLine(t)
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "id": startReq["id"],
		"result": map[string]any{"turn": map[string]any{"id": "turn-1"}},
	})
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "method": NotifyAgentMessageDelta,
		"params": map[string]any{"threadId": "thread-1", "turnId": "turn-1", "delta": "hi"},
	})
	server.send(t, map[string]any{
		"jsonrpc": "2.0", "method": NotifyTurnCompleted,
		"params": map[string]any{
			"threadId": "thread-1",
			"turn":     map[string]any{"id": "turn-1", "status": TurnStatusCompleted},
		},
	})
	<-done

	if len(seen) != 2 || seen[0] != NotifyAgentMessageDelta || seen[1] != NotifyTurnCompleted {
		t.Fatalf("expected both notifications recorded in order, got %+v", seen)
	}
}

type recordingSink struct {
	seen *[]string
}

func (r recordingSink) RecordEvent(kind string, _ []byte) {
	*r.seen = append(*r.seen, kind)
}
