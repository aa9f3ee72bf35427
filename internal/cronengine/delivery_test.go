package cronengine

import "testing"

func TestResolveDeliveryPlanStructuredDeliveryAnnounce(t *testing.T) {
	raw := map[string]any{
		"delivery": map[string]any{
			"mode":    "announce",
			"channel": "slack",
			"to":      "#ops",
		},
	}
	plan := resolveDeliveryPlan(raw)
	if !plan.Requested {
		t.Fatal("expected announce mode to request delivery")
	}
	if plan.Channel == nil || *plan.Channel != "slack" {
		t.Fatalf("expected slack channel, got %v", plan.Channel)
	}
	if plan.To == nil || *plan.To != "#ops" {
		t.Fatalf("expected #ops target, got %v", plan.To)
	}
}

func TestResolveDeliveryPlanStructuredDeliveryNoneSkips(t *testing.T) {
	raw := map[string]any{
		"delivery": map[string]any{"mode": "none"},
	}
	plan := resolveDeliveryPlan(raw)
	if plan.Requested {
		t.Fatal("expected none mode to not request delivery")
	}
}

func TestResolveDeliveryPlanLegacyPayloadDeliverFlag(t *testing.T) {
	raw := map[string]any{
		"payload": map[string]any{
			"deliver": true,
			"channel": "Slack",
			"to":      "#eng",
		},
	}
	plan := resolveDeliveryPlan(raw)
	if !plan.Requested {
		t.Fatal("expected legacy deliver=true to request delivery")
	}
	if plan.Channel == nil || *plan.Channel != "slack" {
		t.Fatalf("expected lowercased channel, got %v", plan.Channel)
	}
}

func TestResolveDeliveryPlanLegacyImpliedByTo(t *testing.T) {
	raw := map[string]any{
		"to": "#eng",
	}
	plan := resolveDeliveryPlan(raw)
	if !plan.Requested {
		t.Fatal("expected a bare 'to' field to imply delivery was requested")
	}
}

func TestResolveDeliveryPlanNoDeliveryFieldsMeansNotRequested(t *testing.T) {
	raw := map[string]any{"prompt": "just run this"}
	plan := resolveDeliveryPlan(raw)
	if plan.Requested {
		t.Fatal("expected no delivery fields to mean not requested")
	}
}
