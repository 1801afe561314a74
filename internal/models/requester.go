package models

import (
	"strings"
)

// Role drives editor permissions.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleEditor     Role = "editor"
	RoleReviewer   Role = "reviewer"
	RoleViewer     Role = "viewer"
)

// ParseRole normalises a role claim; unknown roles become viewers.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSuperAdmin, RoleAdmin, RoleEditor, RoleReviewer, RoleViewer:
		return r
	}
	return RoleViewer
}

// Requester is an authenticated caller. Tenant (azienda) is explicit on
// every call; a superadmin has global scope.
type Requester struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Tenant string `json:"azienda,omitempty"`
	Role   Role   `json:"role"`
}

// Global reports whether the requester may reach documents of any tenant.
func (r Requester) Global() bool { return r.Role == RoleSuperAdmin }

// CanAccess reports whether the requester may open a document owned by
// tenant ("" for global documents).
func (r Requester) CanAccess(tenant string) bool {
	if tenant == "" || r.Global() {
		return true
	}
	return r.Tenant != "" && r.Tenant == tenant
}

// DisplayName falls back to email, then id.
func (r Requester) DisplayName() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Email != "":
		return r.Email
	}
	return r.ID
}

// RequesterFromClaims maps verified identity-provider claims to a Requester.
// The tenant is read from "azienda" (or "tenant"), the role from "role" or
// the first entry of "roles". ok is false when "sub" is missing.
func RequesterFromClaims(claims map[string]interface{}) (Requester, bool) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Requester{}, false
	}
	r := Requester{ID: sub}
	r.Name, _ = claims["name"].(string)
	if r.Name == "" {
		r.Name, _ = claims["preferred_username"].(string)
	}
	r.Email, _ = claims["email"].(string)
	r.Tenant, _ = claims["azienda"].(string)
	if r.Tenant == "" {
		r.Tenant, _ = claims["tenant"].(string)
	}
	role, _ := claims["role"].(string)
	if role == "" {
		if roles, ok := claims["roles"].([]interface{}); ok && len(roles) > 0 {
			role, _ = roles[0].(string)
		}
	}
	r.Role = ParseRole(role)
	return r, true
}
