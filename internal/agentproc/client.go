package agentproc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/advatar/clawdex-sub000/internal/circuitbreaker"
	"github.com/advatar/clawdex-sub000/internal/clock"
)

// spawnBreaker fast-fails repeated Spawn attempts once the agent binary (or
// its app-server subcommand) has failed to start 3 times in a row, instead
// of launching a fresh subprocess on every single call site that retries.
var spawnBreaker = circuitbreaker.New(circuitbreaker.AgentSpawnBreakerConfig())

// Client is one running agent-process connection: a spawned subprocess
// (or any io.ReadWriteCloser standing in for one, for tests) speaking
// line-delimited JSON-RPC 2.0. Grounded on app_server.rs's CodexClient.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	pending []Notification

	approvalHandler  ApprovalHandler
	userInputHandler UserInputHandler
	eventSink        EventSink
	warnings         []string
}

// newClient wires a Client directly over stdin/stdout, without spawning a
// process; used by Spawn and directly by tests against an in-memory pipe.
func newClient(stdin io.WriteCloser, stdout io.Reader) *Client {
	return &Client{
		stdin:            stdin,
		stdout:           bufio.NewReader(stdout),
		approvalHandler:  AutoApprovalHandler{Mode: ApprovalModeAutoDeny},
		userInputHandler: AutoUserInputHandler{},
	}
}

// Spawn starts codexPath as a subprocess with --config overrides and extra
// environment variables, piping its stdin/stdout for the JSON-RPC duplex.
// Routed through spawnBreaker so a broken binary fails fast instead of
// relaunching a doomed subprocess on every call.
func Spawn(codexPath string, configOverrides []string, extraEnv []string) (*Client, error) {
	result, err := spawnBreaker.Execute(func() (interface{}, error) {
		return spawnProcess(codexPath, configOverrides, extraEnv)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Client), nil
}

func spawnProcess(codexPath string, configOverrides []string, extraEnv []string) (*Client, error) {
	args := make([]string, 0, len(configOverrides)*2+1)
	for _, kv := range configOverrides {
		args = append(args, "--config", kv)
	}
	args = append(args, "app-server")

	cmd := exec.Command(codexPath, args...)
	cmd.Env = append(os.Environ(), extraEnv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open agent process stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open agent process stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q app-server: %w", codexPath, err)
	}

	client := newClient(stdin, stdout)
	client.cmd = cmd
	return client, nil
}

// SetEventSink wires (or clears, with nil) the sink that receives every
// streamed server notification.
func (c *Client) SetEventSink(sink EventSink) { c.eventSink = sink }

// SetApprovalHandler wires (or clears, with nil) the command/file-change
// approval handler.
func (c *Client) SetApprovalHandler(h ApprovalHandler) { c.approvalHandler = h }

// SetUserInputHandler wires (or clears, with nil) the user-input handler.
func (c *Client) SetUserInputHandler(h UserInputHandler) { c.userInputHandler = h }

// Initialize performs the JSON-RPC handshake.
func (c *Client) Initialize(clientName, clientVersion string) error {
	params := map[string]any{
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
		"capabilities": map[string]any{"experimentalApi": true},
	}
	var discard json.RawMessage
	return c.sendRequest("initialize", params, &discard)
}

// ThreadStart starts a fresh thread and returns its id.
func (c *Client) ThreadStart() (string, error) {
	var resp struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := c.sendRequest("thread/start", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Thread.ID, nil
}

// ThreadResumeParams/ThreadForkParams mirror ThreadStart's shape for the
// other two launch kinds the task engine supports.
type ThreadResumeParams struct {
	ThreadID string `json:"threadId"`
}

// ThreadResume resumes an existing thread by id, returning it unchanged
// (the subprocess is the source of truth for thread state).
func (c *Client) ThreadResume(threadID string) (string, error) {
	var discard json.RawMessage
	if err := c.sendRequest("thread/resume", ThreadResumeParams{ThreadID: threadID}, &discard); err != nil {
		return "", err
	}
	return threadID, nil
}

// ThreadFork forks an existing thread and returns the new thread's id.
func (c *Client) ThreadFork(threadID string) (string, error) {
	var resp struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := c.sendRequest("thread/fork", ThreadResumeParams{ThreadID: threadID}, &resp); err != nil {
		return "", err
	}
	return resp.Thread.ID, nil
}

// TurnStartOptions carries the per-turn overrides the task engine may
// supply (approval policy name, sandbox policy label, working directory).
type TurnStartOptions struct {
	ApprovalPolicy *string
	SandboxPolicy  *string
	Cwd            *string
}

// RunTurn runs a single plain-text turn to completion.
func (c *Client) RunTurn(threadID, message string, opts TurnStartOptions) (TurnOutcome, error) {
	return c.RunTurnWithInputs(threadID, []UserInputItem{TextInput(message)}, opts)
}

// RunTurnWithInputs runs a turn built from one or more input items.
func (c *Client) RunTurnWithInputs(threadID string, input []UserInputItem, opts TurnStartOptions) (TurnOutcome, error) {
	params := map[string]any{
		"threadId": threadID,
		"input":    input,
	}
	if opts.ApprovalPolicy != nil {
		params["approvalPolicy"] = *opts.ApprovalPolicy
	}
	if opts.SandboxPolicy != nil {
		params["sandboxPolicy"] = *opts.SandboxPolicy
	}
	if opts.Cwd != nil {
		params["cwd"] = *opts.Cwd
	}

	var resp struct {
		Turn struct {
			ID string `json:"id"`
		} `json:"turn"`
	}
	if err := c.sendRequest("turn/start", params, &resp); err != nil {
		return TurnOutcome{}, err
	}
	return c.streamTurn(threadID, resp.Turn.ID)
}

func (c *Client) streamTurn(threadID, turnID string) (TurnOutcome, error) {
	var delta strings.Builder
	var lastAgentMessage string
	haveLastAgentMessage := false

	for {
		notification, err := c.nextNotification()
		if err != nil {
			return TurnOutcome{}, err
		}
		if c.eventSink != nil {
			c.eventSink.RecordEvent(notification.Method, notification.Params)
		}

		switch notification.Method {
		case NotifyAgentMessageDelta:
			var payload AgentMessageDeltaParams
			if err := json.Unmarshal(notification.Params, &payload); err == nil &&
				payload.ThreadID == threadID && payload.TurnID == turnID {
				delta.WriteString(payload.Delta)
			}
		case NotifyItemCompleted:
			var payload ItemCompletedParams
			if err := json.Unmarshal(notification.Params, &payload); err == nil &&
				payload.ThreadID == threadID && payload.TurnID == turnID && payload.Item.Type == "agent_message" {
				lastAgentMessage = payload.Item.Text
				haveLastAgentMessage = true
			}
		case NotifyTurnCompleted:
			var payload TurnCompletedParams
			if err := json.Unmarshal(notification.Params, &payload); err == nil &&
				payload.ThreadID == threadID && payload.Turn.ID == turnID {
				if payload.Turn.Status == TurnStatusFailed {
					if payload.Turn.Error != nil {
						return TurnOutcome{}, fmt.Errorf("turn failed: %s", payload.Turn.Error.Message)
					}
					return TurnOutcome{}, fmt.Errorf("turn failed")
				}
				message := delta.String()
				if message == "" && haveLastAgentMessage {
					message = lastAgentMessage
				}
				warnings := c.warnings
				c.warnings = nil
				return TurnOutcome{Message: message, Warnings: warnings}, nil
			}
		case NotifyError:
			var payload ErrorNotificationParams
			if err := json.Unmarshal(notification.Params, &payload); err == nil &&
				payload.ThreadID == threadID && payload.TurnID == turnID {
				c.warnings = append(c.warnings, payload.Error.Message)
			}
		}
	}
}

func (c *Client) sendRequest(method string, params any, out any) error {
	id := clock.NewID()
	if err := c.writeRequest(id, method, params); err != nil {
		return err
	}
	return c.waitForResponse(id, method, out)
}

func (c *Client) writeRequest(id, method string, params any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	rawID, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode request id: %w", err)
	}
	return c.writeEnvelope(envelope{JSONRPC: "2.0", ID: rawID, Method: method, Params: rawParams})
}

func (c *Client) writeEnvelope(e envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode jsonrpc message: %w", err)
	}
	if c.stdin == nil {
		return fmt.Errorf("agent process stdin closed")
	}
	if _, err := c.stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write to agent process: %w", err)
	}
	return nil
}

func (c *Client) waitForResponse(id, method string, out any) error {
	for {
		e, err := c.readEnvelope()
		if err != nil {
			return err
		}
		switch e.kind() {
		case kindResponse:
			if sameID(e.ID, id) {
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(e.Result, out); err != nil {
					return fmt.Errorf("%s response missing payload: %w", method, err)
				}
				return nil
			}
		case kindErrorResponse:
			if sameID(e.ID, id) {
				return fmt.Errorf("%s failed: %s", method, e.Error.Error())
			}
		case kindNotification:
			c.pending = append(c.pending, Notification{Method: e.Method, Params: e.Params})
		case kindRequest:
			if err := c.handleServerRequest(e); err != nil {
				return err
			}
		}
	}
}

func (c *Client) nextNotification() (Notification, error) {
	if len(c.pending) > 0 {
		n := c.pending[0]
		c.pending = c.pending[1:]
		return n, nil
	}
	for {
		e, err := c.readEnvelope()
		if err != nil {
			return Notification{}, err
		}
		switch e.kind() {
		case kindNotification:
			return Notification{Method: e.Method, Params: e.Params}, nil
		case kindRequest:
			if err := c.handleServerRequest(e); err != nil {
				return Notification{}, err
			}
		default:
			continue
		}
	}
}

func (c *Client) readEnvelope() (envelope, error) {
	for {
		line, err := c.stdout.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if err != nil {
				return envelope{}, fmt.Errorf("agent process closed stdout")
			}
			continue
		}
		var e envelope
		if jsonErr := json.Unmarshal([]byte(trimmed), &e); jsonErr != nil {
			return envelope{}, fmt.Errorf("invalid jsonrpc from agent process: %w", jsonErr)
		}
		return e, nil
	}
}

func sameID(raw json.RawMessage, id string) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == id
}

func (c *Client) handleServerRequest(req envelope) error {
	switch req.Method {
	case RequestCommandApproval:
		var params CommandApprovalParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("decode command approval request: %w", err)
		}
		decision := DecisionDecline
		if c.approvalHandler != nil {
			decision = c.approvalHandler.CommandDecision(params)
		}
		return c.respondToServerRequest(req.ID, map[string]string{"decision": decision})
	case RequestFileChangeApproval:
		var params FileChangeApprovalParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("decode file change approval request: %w", err)
		}
		decision := DecisionDecline
		if c.approvalHandler != nil {
			decision = c.approvalHandler.FileDecision(params)
		}
		return c.respondToServerRequest(req.ID, map[string]string{"decision": decision})
	case RequestUserInput:
		var params UserInputParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("decode user input request: %w", err)
		}
		var answers map[string]string
		if c.userInputHandler != nil {
			answers = c.userInputHandler.RequestUserInput(params)
		} else {
			c.warnings = append(c.warnings, "tool requested user input; not supported")
			answers = map[string]string{}
		}
		return c.respondToServerRequest(req.ID, map[string]any{"answers": answers})
	default:
		c.warnings = append(c.warnings, "unsupported server request from agent process: "+req.Method)
		return c.respondToServerRequest(req.ID, map[string]any{})
	}
}

func (c *Client) respondToServerRequest(id json.RawMessage, result any) error {
	rawResult, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode server request response: %w", err)
	}
	return c.writeEnvelope(envelope{JSONRPC: "2.0", ID: id, Result: rawResult})
}

// Close asks the subprocess to exit gracefully by closing its stdin, then
// escalates to a kill if it hasn't exited shortly after. Grounded on
// app_server.rs's Drop impl (close stdin, brief grace period, then kill).
func (c *Client) Close() error {
	if c.stdin != nil {
		_ = c.stdin.Close()
		c.stdin = nil
	}
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(100 * time.Millisecond):
	}

	_ = c.cmd.Process.Kill()
	<-done
	return nil
}
