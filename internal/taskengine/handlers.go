package taskengine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/agentproc"
	"github.com/advatar/clawdex-sub000/internal/audit"
	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/store"
)

// storeEventSink mirrors every server notification to the store and the
// hash-chained audit log.
type storeEventSink struct {
	st       store.Store
	auditDir string
	runID    string
}

func (s storeEventSink) RecordEvent(kind string, payload []byte) {
	ctx := context.Background()
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		decoded = string(payload)
	}
	_, _ = s.st.RecordEvent(ctx, s.runID, kind, decoded)
	if s.auditDir != "" {
		_ = audit.AppendEvent(s.auditDir, s.runID, clock.NewID(), kind, payload)
	}
}

var _ agentproc.EventSink = storeEventSink{}

// interactiveApprovalHandler prompts an operator at a terminal for each
// approval decision; used by the synchronous CLI path when no broker is
// wired in.
type interactiveApprovalHandler struct {
	st       store.Store
	auditDir string
	runID    string
	in       *bufio.Reader
	out      io.Writer
}

func (h interactiveApprovalHandler) CommandDecision(params agentproc.CommandApprovalParams) string {
	fmt.Fprintln(h.out, "\n[approval] Command execution requested")
	fmt.Fprintf(h.out, "  command: %s\n", params.Command)
	if params.Cwd != "" {
		fmt.Fprintf(h.out, "  cwd: %s\n", params.Cwd)
	}
	decision := agentproc.DecisionDecline
	if promptYesNo(h.in, h.out, "Approve this command? [y/N] ") {
		decision = agentproc.DecisionAccept
	}
	h.recordDecision("command", params, decision)
	return decision
}

func (h interactiveApprovalHandler) FileDecision(params agentproc.FileChangeApprovalParams) string {
	fmt.Fprintln(h.out, "\n[approval] File change requested")
	if len(params.Paths) > 0 {
		fmt.Fprintf(h.out, "  paths: %s\n", strings.Join(params.Paths, ", "))
	}
	decision := agentproc.DecisionDecline
	if promptYesNo(h.in, h.out, "Approve file changes? [y/N] ") {
		decision = agentproc.DecisionAccept
	}
	h.recordDecision("file_change", params, decision)
	return decision
}

func (h interactiveApprovalHandler) recordDecision(kind string, params any, decision string) {
	request, err := json.Marshal(params)
	if err != nil {
		return
	}
	ctx := context.Background()
	_, _ = h.st.RecordApproval(ctx, h.runID, kind, request, &decision)
	if h.auditDir != "" {
		_ = audit.AppendApproval(h.auditDir, h.runID, kind, request, &decision)
	}
}

var _ agentproc.ApprovalHandler = interactiveApprovalHandler{}

// interactiveUserInputHandler prompts an operator at a terminal for each
// field the agent process asks for.
type interactiveUserInputHandler struct {
	st       store.Store
	auditDir string
	runID    string
	in       *bufio.Reader
	out      io.Writer
}

func (h interactiveUserInputHandler) RequestUserInput(params agentproc.UserInputParams) map[string]string {
	fmt.Fprintln(h.out, "\n[input] agent process requested user input")
	if params.Prompt != "" {
		fmt.Fprintln(h.out, params.Prompt)
	}
	answers := make(map[string]string, len(params.Fields))
	for _, field := range params.Fields {
		answers[field] = promptText(h.in, h.out, fmt.Sprintf("%s: ", field))
	}

	payload, err := json.Marshal(struct {
		Prompt  string            `json:"prompt"`
		Answers map[string]string `json:"answers"`
	}{Prompt: params.Prompt, Answers: answers})
	if err == nil {
		ctx := context.Background()
		_, _ = h.st.RecordEvent(ctx, h.runID, "tool_user_input", payload)
		if h.auditDir != "" {
			_ = audit.AppendEvent(h.auditDir, h.runID, clock.NewID(), "tool_user_input", payload)
		}
	}
	return answers
}

var _ agentproc.UserInputHandler = interactiveUserInputHandler{}

func promptYesNo(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func promptText(in *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprint(out, prompt)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}
