package cel

import (
	"context"
	"testing"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
)

func TestRiskScorer_NoFactorsTriggeredScoresZero(t *testing.T) {
	scorer, err := NewRiskScorer(DefaultFactors, nil)
	if err != nil {
		t.Fatalf("NewRiskScorer() error: %v", err)
	}

	sc := authz.NewSecurityContext("203.0.113.1", "Mozilla/5.0")
	sc.RequestTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	score, flags, err := scorer.Score(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected zero score with no triggered factors, got %v (flags %v)", score, flags)
	}
}

func TestRiskScorer_VPNFactorRaisesScoreAndFlag(t *testing.T) {
	scorer, err := NewRiskScorer(DefaultFactors, nil)
	if err != nil {
		t.Fatalf("NewRiskScorer() error: %v", err)
	}

	sc := authz.NewSecurityContext("203.0.113.1", "Mozilla/5.0")
	sc.RequestTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sc.Geolocation = &authz.GeolocationInfo{IsVPN: true}

	score, flags, err := scorer.Score(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 0.3 {
		t.Fatalf("expected vpn factor weight reflected in score, got %v", score)
	}
	found := false
	for _, f := range flags {
		if f == authz.FlagVPNOrTor {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected FlagVPNOrTor to be raised, got %v", flags)
	}
}

func TestRiskScorer_ScoreNeverExceedsOne(t *testing.T) {
	factors := []Factor{
		{Name: "a", Expression: "true", Weight: 0.7, Flag: authz.FlagVPNOrTor},
		{Name: "b", Expression: "true", Weight: 0.7, Flag: authz.FlagBotUserAgent},
	}
	scorer, err := NewRiskScorer(factors, nil)
	if err != nil {
		t.Fatalf("NewRiskScorer() error: %v", err)
	}

	sc := authz.NewSecurityContext("203.0.113.1", "Mozilla/5.0")
	score, _, err := scorer.Score(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score > 1 {
		t.Fatalf("expected score capped at 1.0, got %v", score)
	}
}

func TestRiskScorer_InvalidFactorRejectedAtConstruction(t *testing.T) {
	factors := []Factor{
		{Name: "broken", Expression: "is_vpn &&", Weight: 0.5},
	}
	if _, err := NewRiskScorer(factors, nil); err == nil {
		t.Fatal("expected construction to fail for a malformed factor expression")
	}
}

func TestRiskScorer_RapidIPChurnFactor(t *testing.T) {
	scorer, err := NewRiskScorer(DefaultFactors, nil)
	if err != nil {
		t.Fatalf("NewRiskScorer() error: %v", err)
	}

	sc := authz.NewSecurityContext("203.0.113.1", "Mozilla/5.0")
	sc.RequestTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
		sc.PushHistory(authz.RequestSummary{IPAddress: ip, Granted: true}, 100)
	}

	_, flags, err := scorer.Score(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, f := range flags {
		if f == authz.FlagRapidIPChurn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected FlagRapidIPChurn to be raised, got %v", flags)
	}
}
