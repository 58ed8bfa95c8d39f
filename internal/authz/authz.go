// Package authz checks viewer capabilities such as "form:forms:viewown"
// against role policies held in a casbin enforcer.
package authz

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
)

//go:embed model.conf
var modelConf string

// AdminRole passes every capability check.
const AdminRole = "admin"

// Form capabilities.
const (
	FormsViewOwn     = "form:forms:viewown"
	FormsViewOther   = "form:forms:viewother"
	FormsCreate      = "form:forms:create"
	FormsEditOwn     = "form:forms:editown"
	FormsEditOther   = "form:forms:editother"
	FormsDeleteOwn   = "form:forms:deleteown"
	FormsDeleteOther = "form:forms:deleteother"
)

// Role grants a set of permissions and inherits those of other roles.
// A permission is "bundle:level:action"; "*" may stand for the action or
// for the whole permission.
type Role struct {
	Name        string
	Permissions []string
	Inherits    []string
}

// Viewer is the identity a request acts as.
type Viewer struct {
	ID    int64
	Name  string
	Roles []string
}

// IsAdmin reports whether v holds the admin role.
func (v Viewer) IsAdmin() bool {
	for _, r := range v.Roles {
		if r == AdminRole {
			return true
		}
	}
	return false
}

// Enforcer evaluates capabilities for viewers.
type Enforcer struct {
	enforcer *casbin.Enforcer
	logger   *slog.Logger
}

func splitPermission(perm string) (obj, act string) {
	if perm == "*" {
		return "*", "*"
	}
	idx := strings.LastIndex(perm, ":")
	if idx < 0 {
		return perm, "*"
	}
	return perm[:idx], perm[idx+1:]
}

func roleSubject(name string) string { return "role:" + name }

// NewEnforcer builds an enforcer from role definitions.
func NewEnforcer(roles []Role, logger *slog.Logger) (*Enforcer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	if _, err := e.AddPolicy(roleSubject(AdminRole), "*", "*"); err != nil {
		return nil, fmt.Errorf("add admin policy: %w", err)
	}
	for _, r := range roles {
		for _, perm := range r.Permissions {
			obj, act := splitPermission(perm)
			if _, err := e.AddPolicy(roleSubject(r.Name), obj, act); err != nil {
				return nil, fmt.Errorf("add policy %s %s: %w", r.Name, perm, err)
			}
		}
		for _, parent := range r.Inherits {
			if _, err := e.AddGroupingPolicy(roleSubject(r.Name), roleSubject(parent)); err != nil {
				return nil, fmt.Errorf("add role inheritance %s -> %s: %w", r.Name, parent, err)
			}
		}
	}
	return &Enforcer{enforcer: e, logger: logger}, nil
}

// IsGranted reports whether any of the viewer's roles grants perm.
func (e *Enforcer) IsGranted(v Viewer, perm string) (bool, error) {
	obj, act := splitPermission(perm)
	for _, role := range v.Roles {
		ok, err := e.enforcer.Enforce(roleSubject(role), obj, act)
		if err != nil {
			return false, fmt.Errorf("enforce %s for %s: %w", perm, role, err)
		}
		if ok {
			return true, nil
		}
	}
	e.logger.Debug("permission denied", "viewer_id", v.ID, "permission", perm)
	return false, nil
}

// HasEntityAccess checks access to a resource owned by ownerID: the viewer's
// own resources need ownPerm, anyone else's need otherPerm. A resource with
// no owner (0) needs otherPerm. Admins always pass.
func (e *Enforcer) HasEntityAccess(v Viewer, ownPerm, otherPerm string, ownerID int64) (bool, error) {
	if v.IsAdmin() {
		return true, nil
	}
	if ownerID != 0 && ownerID == v.ID {
		return e.IsGranted(v, ownPerm)
	}
	return e.IsGranted(v, otherPerm)
}
