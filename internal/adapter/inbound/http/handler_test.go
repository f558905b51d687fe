package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/identity"
	"github.com/velro/authz-core/internal/service/gate"
)

type fakeOrchestrator struct {
	resp *authz.Response
	err  error
	got  *authz.Request
}

func (f *fakeOrchestrator) Authorize(_ context.Context, req *authz.Request) (*authz.Response, error) {
	f.got = req
	return f.resp, f.err
}

func newTestGate(orch *fakeOrchestrator) *gate.Gate {
	return gate.New(nil, orch, discardLogger())
}

func postAuthorize(t *testing.T, handler http.Handler, body any, withPrincipal bool) *httptest.ResponseRecorder {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", buf)
	if withPrincipal {
		ctx := context.WithValue(req.Context(), principalContextKey, &identity.Principal{ID: "user-1"})
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthorizeHandler_GrantedReturns200(t *testing.T) {
	orch := &fakeOrchestrator{resp: &authz.Response{
		Granted:       true,
		Method:        authz.MethodDirectOwnership,
		ExecutionTime: 2 * time.Millisecond,
	}}
	handler := authorizeHandler(newTestGate(orch))

	rec := postAuthorize(t, handler, authorizeRequestBody{
		ResourceID:   "gen-1",
		ResourceType: "generation",
		Access:       "read",
	}, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp authorizeResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Granted {
		t.Error("expected granted=true")
	}
	if resp.Method != string(authz.MethodDirectOwnership) {
		t.Errorf("method = %q, want %q", resp.Method, authz.MethodDirectOwnership)
	}

	if orch.got == nil {
		t.Fatal("orchestrator was not called")
	}
	if orch.got.Resource.ID != "gen-1" {
		t.Errorf("resource id = %q, want gen-1", orch.got.Resource.ID)
	}
	if orch.got.Principal.ID != "user-1" {
		t.Errorf("principal id = %q, want user-1", orch.got.Principal.ID)
	}
	if orch.got.ContextHash == "" {
		t.Error("expected a non-empty context hash")
	}
}

func TestAuthorizeHandler_DeniedReturns403(t *testing.T) {
	orch := &fakeOrchestrator{resp: &authz.Response{
		Granted:      false,
		DenialReason: "insufficient_role",
	}}
	handler := authorizeHandler(newTestGate(orch))

	rec := postAuthorize(t, handler, authorizeRequestBody{
		ResourceID:   "gen-1",
		ResourceType: "generation",
		Access:       "delete",
	}, true)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	var resp authorizeResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Granted {
		t.Error("expected granted=false")
	}
	if resp.DenialReason != "insufficient_role" {
		t.Errorf("denial_reason = %q, want insufficient_role", resp.DenialReason)
	}
}

func TestAuthorizeHandler_MissingFieldsReturns400(t *testing.T) {
	orch := &fakeOrchestrator{resp: &authz.Response{Granted: true}}
	handler := authorizeHandler(newTestGate(orch))

	rec := postAuthorize(t, handler, authorizeRequestBody{ResourceType: "generation"}, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if orch.got != nil {
		t.Error("orchestrator should not have been called")
	}
}

func TestAuthorizeHandler_MalformedJSONReturns400(t *testing.T) {
	orch := &fakeOrchestrator{resp: &authz.Response{Granted: true}}
	handler := authorizeHandler(newTestGate(orch))

	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAuthorizeHandler_WrongMethodReturns405(t *testing.T) {
	orch := &fakeOrchestrator{resp: &authz.Response{Granted: true}}
	handler := authorizeHandler(newTestGate(orch))

	req := httptest.NewRequest(http.MethodGet, "/v1/authorize", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAuthorizeHandler_NoPrincipalStillCallsOrchestrator(t *testing.T) {
	orch := &fakeOrchestrator{resp: &authz.Response{Granted: false, DenialReason: "unauthenticated"}}
	handler := authorizeHandler(newTestGate(orch))

	rec := postAuthorize(t, handler, authorizeRequestBody{
		ResourceID:   "gen-1",
		ResourceType: "generation",
		Access:       "read",
	}, false)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if orch.got == nil || orch.got.Principal != nil {
		t.Error("expected orchestrator to receive a nil principal")
	}
}

func TestContextHash_StableForSameInputs(t *testing.T) {
	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Security:  authz.NewSecurityContext("1.2.3.4", "curl/8"),
	}
	req.Resource.ID = "gen-1"

	h1 := contextHash(req)
	h2 := contextHash(req)
	if h1 != h2 {
		t.Errorf("contextHash not stable: %q != %q", h1, h2)
	}
	if h1 == "" {
		t.Error("expected non-empty hash")
	}
}
