package auditpipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/velro/authz-core/internal/domain/audit"
	"github.com/velro/authz-core/internal/domain/authz"
)

// Correlator runs the background rule-set of spec §4.6 against a
// CorrelationFeed, producing alerts when thresholds are matched.
type Correlator struct {
	feed   audit.CorrelationFeed
	logger *slog.Logger
	onAlert func(*audit.Alert)

	stop chan struct{}
	done chan struct{}
}

// NewCorrelator constructs a Correlator. onAlert is invoked for every
// alert the rule-set produces; it may be nil.
func NewCorrelator(feed audit.CorrelationFeed, onAlert func(*audit.Alert), logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{feed: feed, onAlert: onAlert, logger: logger}
}

// EvaluatePrincipal checks the escalation, injection, and
// geographic-cluster rules for one principal over their respective
// windows, returning any alerts raised.
func (c *Correlator) EvaluatePrincipal(ctx context.Context, principalID string, now time.Time) ([]*audit.Alert, error) {
	var alerts []*audit.Alert

	events, err := c.feed.RecentByPrincipal(ctx, principalID, int64((30 * time.Minute).Seconds()))
	if err != nil {
		return nil, err
	}

	escalations := 0
	injections := 0
	geoAnomalies := 0
	escWindow := now.Add(-10 * time.Minute).Unix()
	geoWindow := now.Add(-30 * time.Minute).Unix()

	for _, e := range events {
		inEscWindow := e.Timestamp.Unix() >= escWindow
		for _, lr := range e.Layers {
			for _, a := range lr.Anomalies {
				switch a {
				case authz.AnomalyEscalation:
					if inEscWindow {
						escalations++
					}
				case authz.AnomalyInjection:
					if inEscWindow {
						injections++
					}
				case authz.AnomalyGeographic:
					if e.Timestamp.Unix() >= geoWindow {
						geoAnomalies++
					}
				}
			}
		}
	}

	if escalations >= 3 {
		alerts = append(alerts, c.emit(audit.AlertEscalationPattern, audit.SeverityError, []string{principalID}, nil, now))
	}
	if injections >= 1 {
		alerts = append(alerts, c.emit(audit.AlertInjectionPattern, audit.SeverityCritical, []string{principalID}, nil, now))
	}
	if geoAnomalies >= 5 {
		alerts = append(alerts, c.emit(audit.AlertGeographicCluster, audit.SeverityError, []string{principalID}, nil, now))
	}

	return alerts, nil
}

// EvaluateIP checks the brute-force rule for one IP over its 5-minute
// window: ≥ 10 failures triggers an alert.
func (c *Correlator) EvaluateIP(ctx context.Context, ip string, now time.Time) (*audit.Alert, error) {
	events, err := c.feed.RecentByIP(ctx, ip, int64((5 * time.Minute).Seconds()))
	if err != nil {
		return nil, err
	}

	failures := 0
	for _, e := range events {
		if e.Outcome == "denied" {
			failures++
		}
	}
	if failures >= 10 {
		return c.emit(audit.AlertBruteForce, audit.SeverityError, nil, nil, now), nil
	}
	return nil, nil
}

func (c *Correlator) emit(kind audit.AlertKind, sev audit.Severity, principals, resources []string, now time.Time) *audit.Alert {
	alert := &audit.Alert{
		Kind:               kind,
		Severity:           sev,
		AffectedPrincipals: principals,
		AffectedResources:  resources,
		DetectedAt:         now,
		RecommendedActions: recommendedActions(kind),
	}
	if c.onAlert != nil {
		c.onAlert(alert)
	}
	return alert
}

func recommendedActions(kind audit.AlertKind) []string {
	switch kind {
	case audit.AlertBruteForce:
		return []string{"temporarily_block_ip", "notify_security_team"}
	case audit.AlertEscalationPattern:
		return []string{"review_principal_permissions", "notify_security_team"}
	case audit.AlertInjectionPattern:
		return []string{"block_request_source", "escalate_immediately"}
	case audit.AlertGeographicCluster:
		return []string{"require_reauthentication", "notify_principal"}
	default:
		return nil
	}
}

// Start runs a periodic sweep over trackedPrincipals/trackedIPs every
// interval until the context is cancelled or Stop is called.
func (c *Correlator) Start(ctx context.Context, interval time.Duration, trackedPrincipals, trackedIPs func() []string) {
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case now := <-ticker.C:
				for _, p := range trackedPrincipals() {
					if _, err := c.EvaluatePrincipal(ctx, p, now); err != nil {
						c.logger.Warn("correlation evaluate principal failed", "principal", p, "error", err)
					}
				}
				for _, ip := range trackedIPs() {
					if _, err := c.EvaluateIP(ctx, ip, now); err != nil {
						c.logger.Warn("correlation evaluate ip failed", "ip", ip, "error", err)
					}
				}
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to exit.
func (c *Correlator) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
}
