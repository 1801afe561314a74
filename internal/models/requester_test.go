package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequesterFromClaims(t *testing.T) {
	r, ok := RequesterFromClaims(map[string]interface{}{
		"sub": "u1", "name": "Anna", "azienda": "acme", "roles": []interface{}{"Editor"},
	})
	require.True(t, ok)
	require.Equal(t, "u1", r.ID)
	require.Equal(t, "acme", r.Tenant)
	require.Equal(t, RoleEditor, r.Role)

	r, ok = RequesterFromClaims(map[string]interface{}{"sub": "u2", "email": "x@y", "tenant": "globex", "role": "root"})
	require.True(t, ok)
	require.Equal(t, RoleViewer, r.Role, "unknown roles are viewers")
	require.Equal(t, "globex", r.Tenant)
	require.Equal(t, "x@y", r.DisplayName())

	_, ok = RequesterFromClaims(map[string]interface{}{"name": "nobody"})
	require.False(t, ok)
}

func TestRequesterCanAccess(t *testing.T) {
	member := Requester{ID: "u", Tenant: "acme", Role: RoleEditor}
	require.True(t, member.CanAccess("acme"))
	require.True(t, member.CanAccess(""), "global documents are visible to everyone")
	require.False(t, member.CanAccess("globex"))

	unscoped := Requester{ID: "u", Role: RoleAdmin}
	require.False(t, unscoped.CanAccess("acme"), "no tenant does not mean global scope")

	super := Requester{ID: "s", Role: RoleSuperAdmin}
	require.True(t, super.CanAccess("globex"))
}
