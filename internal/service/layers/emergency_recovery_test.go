package layers

import (
	"context"
	"testing"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/identity"
	"github.com/velro/authz-core/internal/domain/resource"
)

func TestEmergencyRecovery_GrantsOwnerRead(t *testing.T) {
	resources := &fakeResources{byID: map[string]*resource.Resource{
		"r1": {ID: "r1", Type: resource.TypeGeneration, OwnerID: "u1"},
	}}
	layer := NewEmergencyRecovery(resources, &fakeProjects{})
	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Resource:  resource.Ref{ID: "r1"},
		Access:    resource.AccessRead,
	}
	result := layer.Run(context.Background(), req)
	if !result.Success {
		t.Fatalf("expected owner read to be granted, got %v", result.Err)
	}
}

func TestEmergencyRecovery_GrantsPublicReadProject(t *testing.T) {
	resources := &fakeResources{byID: map[string]*resource.Resource{
		"r1": {ID: "r1", Type: resource.TypeGeneration, OwnerID: "other", ProjectID: "p1"},
	}}
	projects := &fakeProjects{byID: map[string]*resource.Project{
		"p1": {ID: "p1", OwnerID: "other", Visibility: resource.VisibilityPublicRead},
	}}
	layer := NewEmergencyRecovery(resources, projects)
	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Resource:  resource.Ref{ID: "r1"},
		Access:    resource.AccessRead,
	}
	result := layer.Run(context.Background(), req)
	if !result.Success {
		t.Fatalf("expected public_read grant, got %v", result.Err)
	}
}

func TestEmergencyRecovery_DeniesWrite(t *testing.T) {
	resources := &fakeResources{byID: map[string]*resource.Resource{
		"r1": {ID: "r1", Type: resource.TypeGeneration, OwnerID: "u1"},
	}}
	layer := NewEmergencyRecovery(resources, &fakeProjects{})
	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Resource:  resource.Ref{ID: "r1"},
		Access:    resource.AccessWrite,
	}
	result := layer.Run(context.Background(), req)
	if result.Success {
		t.Fatalf("expected write to be denied unconditionally")
	}
}

func TestEmergencyRecovery_DeniesNonOwnerPrivateProject(t *testing.T) {
	resources := &fakeResources{byID: map[string]*resource.Resource{
		"r1": {ID: "r1", Type: resource.TypeGeneration, OwnerID: "other", ProjectID: "p1"},
	}}
	projects := &fakeProjects{byID: map[string]*resource.Project{
		"p1": {ID: "p1", OwnerID: "other", Visibility: resource.VisibilityPrivate},
	}}
	layer := NewEmergencyRecovery(resources, projects)
	req := &authz.Request{
		Principal: &identity.Principal{ID: "u1"},
		Resource:  resource.Ref{ID: "r1"},
		Access:    resource.AccessRead,
	}
	result := layer.Run(context.Background(), req)
	if result.Success {
		t.Fatalf("expected private project denial")
	}
}
