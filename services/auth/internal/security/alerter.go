package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultAlertPrefix = "schoollib:auth:alerts"

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Dimension is the attribute a failure counter is keyed by.
type Dimension string

const (
	DimensionIP         Dimension = "ip"
	DimensionIdentifier Dimension = "identifier"
)

// Rule triggers once Threshold failures with a matching outcome are seen for
// one dimension value inside a fixed Window.
type Rule struct {
	Dimension Dimension
	Outcome   string
	Threshold int64
	Window    time.Duration
}

// DefaultRules are applied when NewAuditAlerter receives none.
var DefaultRules = []Rule{
	{Dimension: DimensionIP, Outcome: "fail", Threshold: 10, Window: 5 * time.Minute},
	{Dimension: DimensionIdentifier, Outcome: "fail", Threshold: 5, Window: 15 * time.Minute},
	{Dimension: DimensionIP, Outcome: "rate_limited", Threshold: 20, Window: time.Minute},
}

// AlertResult contains alert evaluation output for one rule.
type AlertResult struct {
	Dimension Dimension
	Value     string
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates failed sign-ins in Redis and reports threshold hits.
type AuditAlerter struct {
	client redis.UniversalClient
	prefix string
	rules  []Rule
	now    func() time.Time
}

// NewAuditAlerter creates an alerter backed by Redis counters. A nil client
// yields a nil alerter, which observes nothing.
func NewAuditAlerter(client redis.UniversalClient, prefix string, rules ...Rule) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultAlertPrefix
	}
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &AuditAlerter{client: client, prefix: prefix, rules: rules, now: time.Now}
}

// Observe counts one attempt with the given outcome against every matching
// rule and returns the results of those rules.
func (a *AuditAlerter) Observe(ctx context.Context, outcome, ip, identifier string) ([]AlertResult, error) {
	if a == nil || a.client == nil {
		return nil, nil
	}
	values := map[Dimension]string{
		DimensionIP:         ip,
		DimensionIdentifier: strings.ToLower(identifier),
	}
	var results []AlertResult
	for _, rule := range a.rules {
		if rule.Outcome != outcome {
			continue
		}
		windowMs := rule.Window.Milliseconds()
		if windowMs <= 0 || rule.Threshold <= 0 {
			continue
		}
		value := sanitizeSegment(values[rule.Dimension])
		slot := a.now().UTC().UnixMilli() / windowMs
		key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, rule.Dimension, sanitizeSegment(outcome), value, slot)
		count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
		if err != nil {
			return results, err
		}
		results = append(results, AlertResult{
			Dimension: rule.Dimension,
			Value:     value,
			Count:     count,
			Threshold: rule.Threshold,
			Window:    rule.Window,
			Triggered: count >= rule.Threshold,
		})
	}
	return results, nil
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
