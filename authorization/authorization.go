package authorization

import (
	"context"
	"fmt"
)

const (
	// GroupAuthenticated is granted to every registered identity.
	GroupAuthenticated = "system:authenticated"

	// GroupAdministrator carries the moderation capability. Membership
	// comes from configuration, never from comparing email strings.
	GroupAdministrator = "role:administrator"
)

// Provider answers access questions and manages policy. Backed by casbin in
// production; tests use file or string adapters.
type Provider interface {
	CheckAccess(ctx context.Context, req CheckAccessRequest) (res *CheckAccessResponse, err error)
	AddPolicy(ctx context.Context, reqs ...AddPolicyRequest) (err error)
	AddToGroup(ctx context.Context, sub string, groups ...string) (err error)
	RemovePolicy(ctx context.Context, reqs ...RemovePolicyRequest) (err error)
	RemoveFromGroup(ctx context.Context, sub string, groups ...string) (err error)
}

type Service struct {
	provider Provider
}

func NewService(provider Provider) (*Service, error) {
	return &Service{provider: provider}, nil
}

type CheckAccessRequest struct {
	Subject string
	Domain  string
	Object  string
	Action  string
}

type CheckAccessResponse struct {
	// Allowed is true if the action would be allowed.
	Allowed bool
	// Reason optionally indicates why a request was allowed or denied.
	Reason string
}

type AccessDeniedError struct {
	Subject string
	Domain  string
	Object  string
	Action  string
}

func (err AccessDeniedError) Error() string {
	return fmt.Sprintf(
		"access denied for subject %q and domain %q and object %q and action %q",
		err.Subject,
		err.Domain,
		err.Object,
		err.Action,
	)
}

func (svc *Service) CheckAccess(ctx context.Context, req CheckAccessRequest) (*CheckAccessResponse, error) {
	res, err := svc.provider.CheckAccess(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to check permission: %w", err)
	}

	return res, nil
}

type AddPolicyRequest struct {
	Subject string
	Domain  string
	Object  string
	Action  string
}

func (svc *Service) AddPolicy(ctx context.Context, reqs ...AddPolicyRequest) error {
	err := svc.provider.AddPolicy(ctx, reqs...)
	if err != nil {
		return fmt.Errorf("failed to add policies: %w", err)
	}

	return nil
}

func (svc *Service) AddToGroup(ctx context.Context, sub string, groups ...string) error {
	err := svc.provider.AddToGroup(ctx, sub, groups...)
	if err != nil {
		return fmt.Errorf("failed to add grouping policies: %w", err)
	}

	return nil
}

type RemovePolicyRequest struct {
	Subject string
	Domain  string
	Object  string
	Action  string
}

func (svc *Service) RemovePolicy(ctx context.Context, reqs ...RemovePolicyRequest) error {
	err := svc.provider.RemovePolicy(ctx, reqs...)
	if err != nil {
		return fmt.Errorf("failed to remove policies: %w", err)
	}

	return nil
}

func (svc *Service) RemoveFromGroup(ctx context.Context, sub string, groups ...string) error {
	err := svc.provider.RemoveFromGroup(ctx, sub, groups...)
	if err != nil {
		return fmt.Errorf("failed to remove grouping policies: %w", err)
	}

	return nil
}
