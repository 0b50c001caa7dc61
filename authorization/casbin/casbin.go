package casbin

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strings"

	sqladapter "github.com/Blank-Xu/sql-adapter"
	casbinv3 "github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
	"github.com/casbin/casbin/v3/persist"

	"maru/authorization"
)

// ObjectNone stands in for requests that have no object.
const ObjectNone = "-"

// rbacModel is the casbin RBAC model: subject (or group), domain, object,
// action, with "-" and "*" acting as object wildcards in policies.
const rbacModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.dom == p.dom && (r.obj == p.obj || p.obj == "-" || p.obj == "*") && r.act == p.act
`

// AuthorizationProvider implements authorization.Provider using casbin.
type AuthorizationProvider struct {
	enforcer *casbinv3.Enforcer
}

var _ authorization.Provider = (*AuthorizationProvider)(nil)

func NewAuthorizationProvider(adapter persist.Adapter) (*AuthorizationProvider, error) {
	casbinModel, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	enforcer, err := casbinv3.NewEnforcer(casbinModel, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)

	err = enforcer.LoadPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	return &AuthorizationProvider{enforcer: enforcer}, nil
}

// NewSQLAdapter creates a casbin sql-adapter storing policy in the given
// database table.
func NewSQLAdapter(db *sql.DB, driverName, tableName string) (*sqladapter.Adapter, error) {
	adapter, err := sqladapter.NewAdapter(db, driverName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sql adapter: %w", err)
	}

	return adapter, nil
}

func (ap *AuthorizationProvider) CheckAccess(
	_ context.Context,
	req authorization.CheckAccessRequest,
) (*authorization.CheckAccessResponse, error) {
	if req.Object == "" {
		req.Object = ObjectNone
	}

	allowed, err := ap.enforcer.Enforce(req.Subject, req.Domain, req.Object, req.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to check permission: %w", err)
	}

	return &authorization.CheckAccessResponse{
		Allowed: allowed,
		Reason:  "",
	}, nil
}

func (ap *AuthorizationProvider) AddPolicy(_ context.Context, reqs ...authorization.AddPolicyRequest) error {
	rules := make([][]string, 0, len(reqs))

	for _, req := range reqs {
		if req.Object == "" {
			req.Object = ObjectNone
		}

		rules = append(rules, []string{req.Subject, req.Domain, req.Object, req.Action})
	}

	_, err := ap.enforcer.AddPolicies(rules)
	if err != nil {
		return fmt.Errorf("failed to add policies: %w", err)
	}

	return nil
}

func (ap *AuthorizationProvider) AddToGroup(_ context.Context, sub string, groups ...string) error {
	for _, group := range groups {
		_, err := ap.enforcer.AddGroupingPolicy(sub, group)
		if err != nil {
			return fmt.Errorf("failed to add grouping policy: %w", err)
		}
	}

	return nil
}

func (ap *AuthorizationProvider) RemovePolicy(_ context.Context, reqs ...authorization.RemovePolicyRequest) error {
	rules := make([][]string, 0, len(reqs))

	for _, req := range reqs {
		if req.Object == "" {
			req.Object = ObjectNone
		}

		rules = append(rules, []string{req.Subject, req.Domain, req.Object, req.Action})
	}

	_, err := ap.enforcer.RemovePolicies(rules)
	if err != nil {
		return fmt.Errorf("failed to remove policies: %w", err)
	}

	return nil
}

func (ap *AuthorizationProvider) RemoveFromGroup(_ context.Context, sub string, groups ...string) error {
	for _, group := range groups {
		_, err := ap.enforcer.RemoveGroupingPolicy(sub, group)
		if err != nil {
			return fmt.Errorf("failed to remove grouping policy: %w", err)
		}
	}

	return nil
}

// AddPolicyFromCSV parses casbin policy lines ("p, ..." and "g, ...") and
// adds them to the enforcer. Blank lines and "#" comments are skipped.
func (ap *AuthorizationProvider) AddPolicyFromCSV(_ context.Context, content string) error {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse policy csv: %w", err)
	}

	for _, rule := range records {
		if len(rule) < 2 {
			continue
		}

		switch rule[0] {
		case "p":
			_, err := ap.enforcer.AddNamedPolicy("p", toInterface(rule[1:])...)
			if err != nil {
				return fmt.Errorf("failed to add policy rule %v: %w", rule, err)
			}
		case "g":
			_, err := ap.enforcer.AddNamedGroupingPolicy("g", toInterface(rule[1:])...)
			if err != nil {
				return fmt.Errorf("failed to add grouping policy rule %v: %w", rule, err)
			}
		}
	}

	return nil
}

func toInterface(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}

	return out
}
