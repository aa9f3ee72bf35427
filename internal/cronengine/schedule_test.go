package cronengine

import "testing"

func TestScheduleAtIsDueOnlyOnceAfterFireTime(t *testing.T) {
	at := int64(1_000)
	s := &Schedule{Kind: ScheduleAt, AtMs: &at}

	if s.IsDue(nil, nil, 500) {
		t.Fatal("should not be due before atMs")
	}
	if !s.IsDue(nil, nil, 1_500) {
		t.Fatal("should be due once now has passed atMs")
	}
	last := int64(1_200)
	if s.IsDue(&last, nil, 1_500) {
		t.Fatal("should not fire again once already run after atMs")
	}
}

func TestScheduleEveryIsDueAfterInterval(t *testing.T) {
	every := int64(60_000)
	s := &Schedule{Kind: ScheduleEvery, EveryMs: &every}
	created := int64(0)

	if s.IsDue(nil, &created, 30_000) {
		t.Fatal("should not be due before the interval elapses")
	}
	if !s.IsDue(nil, &created, 60_000) {
		t.Fatal("should be due once the interval elapses")
	}
	last := int64(60_000)
	if s.IsDue(&last, &created, 90_000) {
		t.Fatal("should not be due again before another full interval")
	}
	if !s.IsDue(&last, &created, 120_000) {
		t.Fatal("should be due again after another full interval")
	}
}

func TestScheduleCronIsDueAfterExpressionFires(t *testing.T) {
	s := &Schedule{Kind: ScheduleCron, Cron: "* * * * *"}
	base := int64(1_700_000_000_000)
	last := base

	if s.IsDue(&last, nil, base+1_000) {
		t.Fatal("should not be due before the next minute boundary")
	}
	if !s.IsDue(&last, nil, base+61_000) {
		t.Fatal("should be due once a minute has elapsed")
	}
}

func TestScheduleNextRunAfterEvery(t *testing.T) {
	every := int64(1_000)
	s := &Schedule{Kind: ScheduleEvery, EveryMs: &every}
	created := int64(0)

	next := s.NextRunAfter(nil, &created, 1_500)
	if next == nil || *next != 2_000 {
		t.Fatalf("expected next run at 2000, got %v", next)
	}
}

func TestScheduleNextRunAfterAtPastReturnsNil(t *testing.T) {
	at := int64(100)
	s := &Schedule{Kind: ScheduleAt, AtMs: &at}
	if next := s.NextRunAfter(nil, nil, 200); next != nil {
		t.Fatalf("expected nil for a past at-schedule, got %v", *next)
	}
}

func TestScheduleFromMapAcceptsSnakeAndCamelCase(t *testing.T) {
	raw := map[string]any{"kind": "every", "every_ms": float64(5_000)}
	s := scheduleFromMap(raw)
	if s == nil || s.EveryMs == nil || *s.EveryMs != 5_000 {
		t.Fatalf("expected every_ms decoded, got %+v", s)
	}

	raw2 := map[string]any{"kind": "at", "atMs": float64(9_000)}
	s2 := scheduleFromMap(raw2)
	if s2 == nil || s2.AtMs == nil || *s2.AtMs != 9_000 {
		t.Fatalf("expected atMs decoded, got %+v", s2)
	}
}
