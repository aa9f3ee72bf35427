package cronengine

import (
	"strings"

	"github.com/advatar/clawdex-sub000/internal/gateway"
)

// resolveDeliveryPlan decides whether a job's result should be announced
// and where, preferring the structured Delivery block over the legacy
// channel/to/bestEffort/deliver fields on the raw job object. Ported from
// daemon.rs's resolve_delivery_plan.
func resolveDeliveryPlan(raw map[string]any) DeliveryPlan {
	var payload map[string]any
	if p, ok := raw["payload"].(map[string]any); ok {
		payload = p
	}

	payloadChannel, hasPayloadChannel := stringField(payload, "channel")
	if hasPayloadChannel {
		payloadChannel = strings.ToLower(strings.TrimSpace(payloadChannel))
		hasPayloadChannel = payloadChannel != ""
	}
	payloadTo, hasPayloadTo := stringField(payload, "to")
	if hasPayloadTo {
		payloadTo = strings.TrimSpace(payloadTo)
		hasPayloadTo = payloadTo != ""
	}
	payloadDeliver, hasPayloadDeliver := boolField(payload, "deliver")
	payloadBestEffort, hasPayloadBestEffort := boolField(payload, "bestEffortDeliver")

	if deliveryRaw, ok := raw["delivery"].(map[string]any); ok {
		mode, _ := stringField(deliveryRaw, "mode")
		normalized := strings.ToLower(mode)
		switch normalized {
		case "deliver":
			normalized = "announce"
		case "":
			normalized = "none"
		}

		channel, hasChannel := stringField(deliveryRaw, "channel")
		if !hasChannel && hasPayloadChannel {
			channel, hasChannel = payloadChannel, true
		}
		to, hasTo := stringField(deliveryRaw, "to")
		if !hasTo && hasPayloadTo {
			to, hasTo = payloadTo, true
		}
		bestEffort, hasBestEffort := boolField(deliveryRaw, "bestEffort")
		if !hasBestEffort && hasPayloadBestEffort {
			bestEffort, hasBestEffort = payloadBestEffort, true
		}

		plan := DeliveryPlan{Requested: normalized == "announce", BestEffort: bestEffort}
		if hasChannel {
			plan.Channel = &channel
		} else {
			last := "last"
			plan.Channel = &last
		}
		if hasTo {
			plan.To = &to
		}
		return plan
	}

	var requested bool
	switch {
	case hasPayloadDeliver && payloadDeliver:
		requested = true
	case hasPayloadDeliver && !payloadDeliver:
		requested = false
	default:
		_, hasJobTo := stringField(raw, "to")
		requested = hasPayloadTo || hasJobTo
	}

	channel := payloadChannel
	hasChannel := hasPayloadChannel
	if !hasChannel {
		channel, hasChannel = stringField(raw, "channel")
	}
	if !hasChannel {
		channel, hasChannel = "last", true
	}

	to := payloadTo
	hasTo := hasPayloadTo
	if !hasTo {
		to, hasTo = stringField(raw, "to")
	}

	bestEffort := payloadBestEffort
	if !hasPayloadBestEffort {
		bestEffort, _ = boolField(raw, "bestEffort")
	}

	plan := DeliveryPlan{Requested: requested, BestEffort: bestEffort}
	if hasChannel {
		plan.Channel = &channel
	}
	if hasTo {
		plan.To = &to
	}
	return plan
}

// deliverResult announces a job's summary per plan, resolving "last" to the
// gateway's freshest inbound route when needed. It returns the terminal
// run-history status/reason and an error string for the journal, never a
// Go error: delivery failures are recorded, not propagated.
func deliverResult(gatewayDir, jobID string, startedAtMs int64, plan DeliveryPlan, summary string) (status, reason, deliveryErr string) {
	if !plan.Requested {
		return RunResultCompleted, "executed", ""
	}

	channel, to := plan.Channel, plan.To
	if (channel != nil && *channel == "last") || to == nil {
		var chanArg *string
		if channel != nil && *channel != "last" {
			chanArg = channel
		}
		resolved, err := gateway.ResolveTarget(gatewayDir, nil, gateway.ResolveTargetArgs{Channel: chanArg, To: to})
		if err == nil && resolved.OK {
			channel = &resolved.Channel
			to = &resolved.To
		}
	}

	if channel == nil || to == nil {
		if plan.BestEffort {
			return RunResultSkipped, "no delivery target (best effort)", ""
		}
		return RunResultDeliveryFailed, "no delivery target", "no delivery target"
	}

	idempotencyKey := "cron:" + jobID + ":" + msToString(startedAtMs)
	_, err := gateway.SendMessage(gatewayDir, nil, gateway.SendArgs{
		Text:           summary,
		BestEffort:     plan.BestEffort,
		Channel:        channel,
		To:             to,
		IdempotencyKey: &idempotencyKey,
	})
	if err != nil {
		if plan.BestEffort {
			return RunResultSkipped, "message.send failed (best effort)", err.Error()
		}
		return RunResultDeliveryFailed, "message.send failed", err.Error()
	}
	return RunResultCompleted, "executed", ""
}
