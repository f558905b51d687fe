package layers

import (
	"context"
	"sync"
	"testing"

	"github.com/velro/authz-core/internal/domain/audit"
	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/identity"
	"github.com/velro/authz-core/internal/domain/resource"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (f *fakeEmitter) Emit(event *audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestAuditEmission_BuildsEventFromTrace(t *testing.T) {
	emitter := &fakeEmitter{}
	layer := NewAuditEmission(emitter)

	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Resource:  resource.Ref{ID: "r1", Type: resource.TypeGeneration},
		Access:    resource.AccessRead,
		Security:  authz.NewSecurityContext("1.2.3.4", "curl/8"),
		Trace: []authz.LayerResult{
			{Layer: authz.LayerAccessControl, Success: true, Threat: authz.ThreatGreen},
		},
	}

	result := layer.Run(context.Background(), req)
	if !result.Success {
		t.Fatalf("audit emission must never report failure")
	}
	if emitter.count() != 1 {
		t.Fatalf("expected one event emitted, got %d", emitter.count())
	}
}

func TestAuditEmission_DeniedOutcomeFromUnauthorizedTrace(t *testing.T) {
	emitter := &fakeEmitter{}
	layer := NewAuditEmission(emitter)

	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Resource:  resource.Ref{ID: "r1", Type: resource.TypeGeneration},
		Access:    resource.AccessWrite,
		Security:  authz.NewSecurityContext("1.2.3.4", "curl/8"),
		Trace: []authz.LayerResult{
			{
				Layer:   authz.LayerAccessControl,
				Success: false,
				Threat:  authz.ThreatYellow,
				Err:     authz.NewCoreError(authz.KindUnauthorized, "denied").WithSubcategory(authz.SubNotOwner),
			},
		},
	}

	layer.Run(context.Background(), req)
	if emitter.events[0].Outcome != "denied" {
		t.Fatalf("expected denied outcome, got %s", emitter.events[0].Outcome)
	}
}

func TestAuditEmission_NilEmitterDegradesWithoutFailing(t *testing.T) {
	layer := NewAuditEmission(nil)
	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Resource:  resource.Ref{ID: "r1", Type: resource.TypeGeneration},
		Access:    resource.AccessRead,
	}
	result := layer.Run(context.Background(), req)
	if !result.Success {
		t.Fatalf("expected success even with nil emitter")
	}
	if result.Metadata["degraded"] != true {
		t.Fatalf("expected degraded=true in metadata")
	}
}
