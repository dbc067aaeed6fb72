package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schoollib/internal/util"
	"schoollib/pkg/domain"
	"schoollib/pkg/store"
	"schoollib/services/auth/internal/security"
)

const defaultAuditTimeout = 5 * time.Second

// RequestMeta is the client context captured with an attempt.
type RequestMeta struct {
	NetworkAddress string
	ClientString   string
	Location       string
}

type requestMetaKey struct{}

// WithRequestMeta attaches meta to ctx for the audit entry of a sign-in.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns the meta stored by WithRequestMeta.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// Attempt is one sign-in attempt to record.
type Attempt struct {
	Identifier string
	Role       domain.Role
	UserID     string
	Success    bool
	Kind       Kind
	Meta       RequestMeta
}

// AlertObserver counts attempts for abuse alerts.
type AlertObserver interface {
	Observe(ctx context.Context, outcome, ip, identifier string) ([]security.AlertResult, error)
}

// Auditor appends login audit rows. Write failures are logged and dropped.
type Auditor struct {
	store   store.Store
	alerts  AlertObserver
	timeout time.Duration
}

// NewAuditor returns an auditor. alerts may be nil.
func NewAuditor(s store.Store, alerts AlertObserver, timeout time.Duration) *Auditor {
	if timeout <= 0 {
		timeout = defaultAuditTimeout
	}
	return &Auditor{store: s, alerts: alerts, timeout: timeout}
}

// Record writes one entry for attempt and waits for the write. It keeps
// running after ctx is cancelled, bounded by the auditor timeout.
func (a *Auditor) Record(ctx context.Context, attempt Attempt) {
	logger := util.LoggerFromContext(ctx)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	entry := domain.LoginAuditEntry{
		IdentifierUsed: attempt.Identifier,
		Success:        attempt.Success,
		Metadata: domain.AuditMetadata{
			NetworkAddress: attempt.Meta.NetworkAddress,
			ClientString:   attempt.Meta.ClientString,
			Location:       attempt.Meta.Location,
			ClaimedRole:    attempt.Role,
			FailureKind:    string(attempt.Kind),
		},
	}
	if id := strings.TrimSpace(attempt.UserID); id != "" {
		entry.UserID = &id
	}
	if _, err := a.store.AppendLoginAudit(writeCtx, entry); err != nil {
		logger.Error("login_audit_write_failed",
			"err", fmt.Errorf("%w: %v", ErrAuditWriteFailed, err),
			"identifier", attempt.Identifier,
			"success", attempt.Success,
		)
	}
	a.observe(writeCtx, attempt)
}

func (a *Auditor) observe(ctx context.Context, attempt Attempt) {
	if a.alerts == nil {
		return
	}
	outcome := "success"
	switch {
	case attempt.Kind == KindRateLimited:
		outcome = "rate_limited"
	case !attempt.Success:
		outcome = "fail"
	}
	logger := util.LoggerFromContext(ctx)
	results, err := a.alerts.Observe(ctx, outcome, attempt.Meta.NetworkAddress, attempt.Identifier)
	if err != nil {
		logger.Warn("login_alert_observe_failed", "err", err)
		return
	}
	for _, res := range results {
		if !res.Triggered {
			continue
		}
		logger.Warn("login_alert_triggered",
			"dimension", res.Dimension,
			"value", res.Value,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}
