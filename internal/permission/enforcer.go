// Package permission decides which roles may use the admin API.
package permission

import (
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const (
	ResourceUsers     = "users"
	ResourceAdmins    = "admins"
	ResourceAnalytics = "analytics"
	ResourcePayments  = "payments"

	ActionRead  = "read"
	ActionWrite = "write"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var defaultPolicies = [][]string{
	{"admin", ResourceUsers, ActionRead},
	{"admin", ResourceUsers, ActionWrite},
	{"admin", ResourceAnalytics, ActionRead},
	{"admin", ResourcePayments, ActionRead},
	{"super_admin", ResourceAdmins, ActionWrite},
}

var defaultGroupings = [][]string{
	{"super_admin", "admin"},
}

// Enforcer checks role permissions against an in-memory RBAC policy.
type Enforcer struct {
	enforcer *casbin.Enforcer
	logger   *slog.Logger
}

func NewEnforcer(logger *slog.Logger) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("failed to add policies: %w", err)
	}
	if _, err := e.AddGroupingPolicies(defaultGroupings); err != nil {
		return nil, fmt.Errorf("failed to add role inheritance: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{enforcer: e, logger: logger.With("component", "permission")}, nil
}

// Allowed reports whether role may perform action on resource.
func (e *Enforcer) Allowed(role, resource, action string) bool {
	ok, err := e.enforcer.Enforce(role, resource, action)
	if err != nil {
		e.logger.Error("permission check failed", "error", err, "role", role, "resource", resource, "action", action)
		return false
	}
	return ok
}
