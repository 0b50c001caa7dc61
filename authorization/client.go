package authorization

import (
	"context"
	"fmt"
)

// Client is the convenience wrapper services use. Every client is scoped to
// one policy domain; subjects are always passed explicitly by the caller.
type Client struct {
	authzSvc *Service
	domain   string
}

func NewClient(authzSvc *Service, domain string) *Client {
	return &Client{
		authzSvc: authzSvc,
		domain:   domain,
	}
}

// CheckAccess returns an AccessDeniedError when subject may not perform
// action on object within the client's domain.
func (c *Client) CheckAccess(ctx context.Context, subject, object, action string) error {
	res, err := c.authzSvc.CheckAccess(ctx, CheckAccessRequest{
		Subject: subject,
		Domain:  c.domain,
		Object:  object,
		Action:  action,
	})
	if err != nil {
		return fmt.Errorf("error on check permission: %w", err)
	}

	if !res.Allowed {
		return &AccessDeniedError{
			Subject: subject,
			Domain:  c.domain,
			Object:  object,
			Action:  action,
		}
	}

	return nil
}

func (c *Client) Can(ctx context.Context, subject, object, action string) bool {
	res, err := c.authzSvc.CheckAccess(ctx, CheckAccessRequest{
		Subject: subject,
		Domain:  c.domain,
		Object:  object,
		Action:  action,
	})

	return err == nil && res.Allowed
}

func (c *Client) AddPolicyForSubject(ctx context.Context, subject, object string, actions ...string) error {
	reqs := make([]AddPolicyRequest, 0, len(actions))

	for i := range actions {
		reqs = append(reqs, AddPolicyRequest{
			Subject: subject,
			Domain:  c.domain,
			Object:  object,
			Action:  actions[i],
		})
	}

	err := c.authzSvc.AddPolicy(ctx, reqs...)
	if err != nil {
		return fmt.Errorf("error on add policy: %w", err)
	}

	return nil
}

func (c *Client) AddToGroup(ctx context.Context, sub string, groups ...string) error {
	err := c.authzSvc.AddToGroup(ctx, sub, groups...)
	if err != nil {
		return fmt.Errorf("error on add to group: %w", err)
	}

	return nil
}

func (c *Client) RemoveFromGroup(ctx context.Context, sub string, groups ...string) error {
	err := c.authzSvc.RemoveFromGroup(ctx, sub, groups...)
	if err != nil {
		return fmt.Errorf("error on remove from group: %w", err)
	}

	return nil
}
