package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthMode selects how access decisions are made for protected routes.
type AuthMode string

const (
	// ModeRoles checks the token's roles claim (app registration tokens).
	ModeRoles AuthMode = "roles"
	// ModePolicy delegates to an external policy decision point (managed identity tokens).
	ModePolicy AuthMode = "policy"
)

// Requirement is the static access requirement of one protected operation.
// Roles apply in ModeRoles (any-of); Resource/Action apply in ModePolicy.
type Requirement struct {
	Roles    []string `yaml:"roles,omitempty"`
	Resource string   `yaml:"resource,omitempty"`
	Action   string   `yaml:"action,omitempty"`
}

// AnyRole is shorthand for a role requirement.
func AnyRole(roles ...string) Requirement { return Requirement{Roles: roles} }

// Permission is shorthand for a policy requirement.
func Permission(resource, action string) Requirement {
	return Requirement{Resource: resource, Action: action}
}

// Or merges the non-empty fields of other into r.
func (r Requirement) Or(other Requirement) Requirement {
	if len(other.Roles) > 0 {
		r.Roles = other.Roles
	}
	if other.Resource != "" {
		r.Resource = other.Resource
	}
	if other.Action != "" {
		r.Action = other.Action
	}
	return r
}

// Decision is the outcome of an access check. It is computed per request and never cached.
type Decision struct {
	Permit bool
	Reason string
	// Err classifies a deny (ErrInsufficientRole, ErrPolicyDenied, ...). Nil on permit.
	Err error
}

func Permit() Decision { return Decision{Permit: true} }

func Deny(err error, reason string) Decision {
	if reason == "" && err != nil {
		reason = err.Error()
	}
	return Decision{Reason: reason, Err: err}
}

// Route names used as keys in Routes.
const (
	RoutePlansList        = "plans.list"
	RoutePlansCreate      = "plans.create"
	RouteAccountsList     = "accounts.list"
	RouteAccountsSettings = "accounts.settings"
	RouteUserPermissions  = "user.permissions"
)

// Routes maps route names to their access requirements.
type Routes map[string]Requirement

// DefaultRoutes returns the built-in requirements for every protected route.
func DefaultRoutes() Routes {
	return Routes{
		RoutePlansList:        AnyRole("planadmin", "accountviewer").Or(Permission("plans", "read")),
		RoutePlansCreate:      AnyRole("planadmin").Or(Permission("plans", "create")),
		RouteAccountsList:     AnyRole("accountviewer", "accountadmin").Or(Permission("accounts", "read")),
		RouteAccountsSettings: AnyRole("accountadmin").Or(Permission("accounts", "update")),
		RouteUserPermissions:  Permission("user", "read_permissions"),
	}
}

// Get returns the requirement for name, or the zero requirement.
func (r Routes) Get(name string) Requirement { return r[name] }

type routesFile struct {
	Routes map[string]Requirement `yaml:"routes"`
}

// LoadRoutes reads route overrides from a YAML file and merges them over DefaultRoutes.
//
//	routes:
//	  plans.create:
//	    roles: [planadmin, planwriter]
//	    resource: plans
//	    action: create
func LoadRoutes(path string) (Routes, error) {
	routes := DefaultRoutes()
	path = strings.TrimSpace(path)
	if path == "" {
		return routes, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var f routesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	for name, req := range f.Routes {
		if _, ok := routes[name]; !ok {
			return nil, fmt.Errorf("routes file %s: unknown route %q", path, name)
		}
		routes[name] = routes[name].Or(req)
	}
	return routes, nil
}
