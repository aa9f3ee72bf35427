package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/gateway"
	"github.com/advatar/clawdex-sub000/internal/sessions"
	"github.com/advatar/clawdex-sub000/internal/taskengine"
)

// sessionTaskTitle names the task backing an inbound session's thread,
// namespaced separately from cron's "cron:*" titles so the two schedulers
// never collide on the same thread.
func sessionTaskTitle(sessionKey string) string {
	return "session:" + sessionKey
}

// handleIncomingMessage runs one inbound gateway message as a turn on its
// session's thread (created on first contact, resumed afterward), appends
// both sides of the exchange to the session transcript, and queues the
// reply for outbound delivery. Ported from daemon.rs's
// handle_incoming_message.
func (d *Daemon) handleIncomingMessage(ctx context.Context, entry gateway.InboxEntry) error {
	text := strings.TrimSpace(entry.Text)
	if text == "" {
		return nil
	}
	sessionKey := entry.SessionKey
	if sessionKey == "" {
		sessionKey = "agent:main:main"
	}

	_ = sessions.AppendMessage(d.Paths.SessionsDir(), sessionKey, "user", text)

	title := sessionTaskTitle(sessionKey)
	opts := taskengine.TaskRunOptions{
		Title:          title,
		Prompt:         text,
		ApprovalPolicy: d.ApprovalPolicy,
	}
	if resumeID, ok, err := d.latestRunID(ctx, title); err == nil && ok {
		opts.ResumeFromRunID = resumeID
	}

	prepared, err := d.TaskEngine.PrepareRun(ctx, opts)
	if err != nil {
		return fmt.Errorf("prepare session run: %w", err)
	}
	message, err := d.TaskEngine.ExecuteRun(ctx, prepared, taskengine.ExecuteOptions{Broker: d.Broker})
	if err != nil {
		return fmt.Errorf("execute session run: %w", err)
	}

	response := strings.TrimSpace(message)
	if response == "" {
		return nil
	}
	_ = sessions.AppendMessage(d.Paths.SessionsDir(), sessionKey, "assistant", response)

	idempotencyKey := fmt.Sprintf("inbox:%d:%s", clock.NowMillis(), sessionKey)
	_, err = gateway.SendMessage(d.Paths.GatewayDir(), d.RouteTTLMs, gateway.SendArgs{
		Text:           response,
		SessionKey:     &sessionKey,
		IdempotencyKey: &idempotencyKey,
		BestEffort:     true,
	})
	return err
}

func (d *Daemon) latestRunID(ctx context.Context, taskTitle string) (string, bool, error) {
	return latestRunIDForTitle(ctx, d.Store, taskTitle)
}
