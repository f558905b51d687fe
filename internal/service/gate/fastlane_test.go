package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/identity"
)

type fakeAllowList struct {
	allowed map[string]bool
	err     error
}

func (f *fakeAllowList) Allowed(_ context.Context, principalID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[principalID], nil
}

func TestFastLane_GrantsWithNilAllowList(t *testing.T) {
	fl := NewFastLane(nil)
	req := &authz.Request{Principal: &identity.Principal{ID: "u1"}}

	resp, err := fl.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Granted {
		t.Fatalf("expected grant, reason=%s", resp.DenialReason)
	}
	if resp.Method != authz.MethodFastLane {
		t.Fatalf("expected FAST_LANE method, got %s", resp.Method)
	}
}

func TestFastLane_DeniesWhenNotAllowListed(t *testing.T) {
	fl := NewFastLane(&fakeAllowList{allowed: map[string]bool{}})
	req := &authz.Request{Principal: &identity.Principal{ID: "u1"}}

	resp, err := fl.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Granted {
		t.Fatalf("expected denial for principal not on the allow list")
	}
}

func TestFastLane_AllowListFailureDeniesAndSurfacesError(t *testing.T) {
	fl := NewFastLane(&fakeAllowList{err: errors.New("store unavailable")})
	req := &authz.Request{Principal: &identity.Principal{ID: "u1"}}

	resp, err := fl.Check(context.Background(), req)
	if err == nil {
		t.Fatalf("expected an error from the unavailable allow list")
	}
	if resp.Granted {
		t.Fatalf("expected denial on allow-list failure")
	}
}

func TestFastLane_NilPrincipalBypassesAllowListButIsRateLimited(t *testing.T) {
	fl := NewFastLane(&fakeAllowList{allowed: map[string]bool{}})
	req := &authz.Request{}

	resp, err := fl.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Granted {
		t.Fatalf("expected an unauthenticated request to be granted fast-lane access, reason=%s", resp.DenialReason)
	}
}

func TestFastLane_RateLimitsPerPrincipal(t *testing.T) {
	fl := NewFastLane(nil)
	fl.r = 1
	fl.burst = 1
	req := &authz.Request{Principal: &identity.Principal{ID: "u1"}}

	first, err := fl.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Granted {
		t.Fatalf("expected first request to consume the single burst token")
	}

	second, err := fl.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Granted {
		t.Fatalf("expected second immediate request to be rate limited")
	}
	if second.DenialReason != "fast_lane_rate_limited" {
		t.Fatalf("expected fast_lane_rate_limited, got %s", second.DenialReason)
	}
}
