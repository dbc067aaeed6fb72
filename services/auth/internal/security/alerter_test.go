package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T, rules ...Rule) *AuditAlerter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAuditAlerter(client, "test:alerts", rules...)
}

func TestAuditAlerterTriggersPerIdentifier(t *testing.T) {
	alerter := newTestAlerter(t)
	ctx := context.Background()
	var last []AlertResult
	for i := range 5 {
		// Different IPs: only the identifier rule reaches its threshold.
		results, err := alerter.Observe(ctx, "fail", "10.0.0."+string(rune('1'+i)), "S0003")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		last = results
	}
	var byIdentifier, byIP bool
	for _, r := range last {
		switch r.Dimension {
		case DimensionIdentifier:
			byIdentifier = r.Triggered
		case DimensionIP:
			byIP = r.Triggered
		}
	}
	if !byIdentifier || byIP {
		t.Fatalf("expected identifier alert only, got %+v", last)
	}
}

func TestAuditAlerterTriggersPerIP(t *testing.T) {
	alerter := newTestAlerter(t, Rule{Dimension: DimensionIP, Outcome: "fail", Threshold: 3, Window: time.Minute})
	ctx := context.Background()
	var triggered bool
	for _, id := range []string{"a", "b", "c"} {
		results, err := alerter.Observe(ctx, "fail", "127.0.0.1", id)
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		triggered = len(results) == 1 && results[0].Triggered
	}
	if !triggered {
		t.Fatalf("expected ip alert to trigger")
	}
}

func TestAuditAlerterIgnoresUnmatchedOutcome(t *testing.T) {
	alerter := newTestAlerter(t)
	results, err := alerter.Observe(context.Background(), "success", "127.0.0.1", "S0003")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestNilAuditAlerterIsNoop(t *testing.T) {
	var alerter *AuditAlerter
	if results, err := alerter.Observe(context.Background(), "fail", "ip", "id"); err != nil || results != nil {
		t.Fatalf("expected noop, got %v %v", results, err)
	}
	if NewAuditAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without redis")
	}
}
