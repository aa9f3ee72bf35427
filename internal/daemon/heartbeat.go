package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/daemonconfig"
	"github.com/advatar/clawdex-sub000/internal/gateway"
	"github.com/advatar/clawdex-sub000/internal/heartbeat"
	"github.com/advatar/clawdex-sub000/internal/taskengine"
)

const heartbeatSessionTitle = "session:agent:main:main"

// runHeartbeatCycle evaluates HEARTBEAT.md, and if it found pending
// instructions, runs one turn with the heartbeat prompt on the main
// session's thread and conditionally announces the trimmed response.
// Ported from daemon.rs's execute_heartbeat.
func (d *Daemon) runHeartbeatCycle(ctx context.Context) error {
	entry, err := heartbeat.Wake(d.Paths.StateDir, d.Paths.WorkspaceDir, "interval")
	if err != nil {
		return fmt.Errorf("heartbeat wake: %w", err)
	}
	if entry.Payload.Status != heartbeat.StatusQueued {
		d.Metrics.HeartbeatCycles.WithLabelValues("skipped").Inc()
		return nil
	}

	prompt := daemonconfig.ResolveHeartbeatPrompt(d.Cfg)
	opts := taskengine.TaskRunOptions{
		Title:          heartbeatSessionTitle,
		Prompt:         prompt,
		ApprovalPolicy: d.ApprovalPolicy,
	}
	if resumeID, ok, err := latestRunIDForTitle(ctx, d.Store, heartbeatSessionTitle); err == nil && ok {
		opts.ResumeFromRunID = resumeID
	}

	prepared, err := d.TaskEngine.PrepareRun(ctx, opts)
	if err != nil {
		return fmt.Errorf("prepare heartbeat run: %w", err)
	}
	message, err := d.TaskEngine.ExecuteRun(ctx, prepared, taskengine.ExecuteOptions{Broker: d.Broker})
	if err != nil {
		return fmt.Errorf("execute heartbeat run: %w", err)
	}

	delivered, err := d.deliverHeartbeatResponse(message)
	if err != nil {
		return err
	}
	if delivered {
		d.Metrics.HeartbeatCycles.WithLabelValues("delivered").Inc()
	} else {
		d.Metrics.HeartbeatCycles.WithLabelValues("queued").Inc()
	}
	return nil
}

// deliverHeartbeatResponse announces a heartbeat turn's reply unless it's
// blank or the literal sentinel HEARTBEAT_OK, truncating to the configured
// character budget and falling back to the freshest inbound route when no
// delivery channel is configured. Ported from daemon.rs's
// deliver_heartbeat_response.
func (d *Daemon) deliverHeartbeatResponse(response string) (bool, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" || trimmed == "HEARTBEAT_OK" {
		return false, nil
	}

	maxChars := daemonconfig.ResolveHeartbeatAckMaxChars(d.Cfg)
	if maxChars == 0 {
		return false, nil
	}
	runes := []rune(trimmed)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	text := strings.TrimSpace(string(runes))
	if text == "" {
		return false, nil
	}

	channel, to, accountID := daemonconfig.ResolveHeartbeatDelivery(d.Cfg)
	if channel == nil || to == nil {
		resolved, err := gateway.ResolveTarget(d.Paths.GatewayDir(), d.RouteTTLMs, gateway.ResolveTargetArgs{})
		if err == nil && resolved.OK {
			if channel == nil {
				channel = &resolved.Channel
			}
			if to == nil {
				to = &resolved.To
			}
			if accountID == nil {
				accountID = resolved.AccountID
			}
		}
	}
	if channel == nil || to == nil {
		return false, nil
	}

	sessionKey := "agent:main:main"
	idempotencyKey := fmt.Sprintf("heartbeat:%d", clock.NowMillis())
	_, err := gateway.SendMessage(d.Paths.GatewayDir(), d.RouteTTLMs, gateway.SendArgs{
		Text:           text,
		SessionKey:     &sessionKey,
		Channel:        channel,
		To:             to,
		AccountID:      accountID,
		IdempotencyKey: &idempotencyKey,
		BestEffort:     true,
	})
	if err != nil {
		return false, fmt.Errorf("deliver heartbeat response: %w", err)
	}
	return true, nil
}
