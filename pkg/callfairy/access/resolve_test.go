package access

import (
	"testing"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentPermissionScopedToManagedOrganisation(t *testing.T) {
	f := newFixture(t)
	f.seed()
	u1 := f.user("u1@example.com")
	u2 := f.user("u2@example.com")
	o1 := f.org("O1")
	other := f.org("Other")

	f.assign(u1, o1)
	agent := f.assign(u2, o1)
	_, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey("view_reports"), f.admin.ID)
	require.NoError(t, err)

	ok, err := f.svc.CheckPermission(f.ctx, f.reload(u2), "view_reports", &o1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.CheckPermission(f.ctx, f.reload(u2), "view_reports", &other)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.RevokeAgent(f.ctx, agent.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, f.reload(u2).Role)

	ok, err = f.svc.CheckPermission(f.ctx, f.reload(u2), "view_reports", &o1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAgentOfOtherOrganisationFailsClosedDespiteDirectGrant(t *testing.T) {
	f := newFixture(t)
	f.seed()
	u := f.user("u@example.com")
	mine := f.org("Mine")
	theirs := f.org("Theirs")
	f.assign(u, mine)
	_, err := f.svc.GrantUserPermission(f.ctx, u.ID, ByKey("view_contacts"), f.admin.ID)
	require.NoError(t, err)

	ok, err := f.svc.CheckPermission(f.ctx, f.reload(u), "view_contacts", &theirs)
	require.NoError(t, err)
	assert.False(t, ok)

	// Inside the managed organisation the direct grant is part of the union.
	ok, err = f.svc.CheckPermission(f.ctx, f.reload(u), "view_contacts", &mine)
	require.NoError(t, err)
	assert.True(t, ok)

	// Without organisation context only direct grants count.
	ok, err = f.svc.CheckPermission(f.ctx, f.reload(u), "view_contacts", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSuperAdminBypass(t *testing.T) {
	f := newFixture(t)
	s := f.userWithRole("s@example.com", models.RoleSuperAdmin)
	for _, o := range []models.Organisation{f.org("O1"), f.org("O2")} {
		ok, err := f.svc.CheckPermission(f.ctx, &s, "anything_not_in_catalog_even", &o)
		require.NoError(t, err)
		assert.True(t, ok)

		can, err := f.svc.CanManageOrganisation(f.ctx, &s, &o)
		require.NoError(t, err)
		assert.True(t, can)
	}
	ok, err := f.svc.CheckPermission(f.ctx, &s, "anything", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSuperAdminIsNeverAnAgent(t *testing.T) {
	f := newFixture(t)
	s := f.userWithRole("s@example.com", models.RoleSuperAdmin)
	o := f.org("O")
	f.assign(s, o)

	managed, err := f.svc.ManagedOrganisation(f.ctx, &s)
	require.NoError(t, err)
	assert.Nil(t, managed)

	f.org("Another")
	orgs, err := f.svc.AccessibleOrganisations(f.ctx, &s)
	require.NoError(t, err)
	assert.Len(t, orgs, 2)

	sum, err := f.svc.Summary(f.ctx, &s)
	require.NoError(t, err)
	assert.False(t, sum.IsAgent)
	assert.True(t, sum.IsSuperAdmin)
}

func TestDirectGrantIgnoresOrganisationContext(t *testing.T) {
	f := newFixture(t)
	f.seed()
	u3 := f.user("u3@example.com")
	o1 := f.org("O1")
	_, err := f.svc.GrantUserPermission(f.ctx, u3.ID, ByKey("view_contacts"), f.admin.ID)
	require.NoError(t, err)

	ok, err := f.svc.CheckPermission(f.ctx, &u3, "view_contacts", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.CheckPermission(f.ctx, &u3, "view_contacts", &o1)
	require.NoError(t, err)
	assert.True(t, ok)

	can, err := f.svc.CanAccessOrganisation(f.ctx, &u3, &o1)
	require.NoError(t, err)
	assert.False(t, can)
}

func TestAccessibleOrganisationsForMembers(t *testing.T) {
	f := newFixture(t)
	u := f.user("member@example.com")
	a := f.org("A")
	b := f.org("B")
	dormant := f.org("Dormant")
	f.org("Unrelated")
	f.member(u, a)
	f.member(u, b)
	f.member(u, dormant)
	_, err := f.svc.SetOrganisationActive(f.ctx, dormant.ID, false)
	require.NoError(t, err)

	orgs, err := f.svc.AccessibleOrganisations(f.ctx, &u)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{a.ID, b.ID}, orgIDs(orgs))

	can, err := f.svc.CanManageOrganisation(f.ctx, &u, &a)
	require.NoError(t, err)
	assert.False(t, can, "membership must not imply manage rights")
}

func TestAgentSeesOnlyManagedOrganisation(t *testing.T) {
	f := newFixture(t)
	u := f.user("agent@example.com")
	a := f.org("A")
	b := f.org("B")
	f.member(u, b)
	f.assign(u, a)

	orgs, err := f.svc.AccessibleOrganisations(f.ctx, f.reload(u))
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID}, orgIDs(orgs))

	can, err := f.svc.CanAccessOrganisation(f.ctx, f.reload(u), &b)
	require.NoError(t, err)
	assert.False(t, can)

	can, err = f.svc.CanManageOrganisation(f.ctx, f.reload(u), &a)
	require.NoError(t, err)
	assert.True(t, can)

	agentUser, err := f.svc.OrganisationAgent(f.ctx, &a)
	require.NoError(t, err)
	require.NotNil(t, agentUser)
	assert.Equal(t, u.ID, agentUser.ID)
}

func TestPermissionsForOrganisation(t *testing.T) {
	f := newFixture(t)
	f.seed()
	agentUser := f.user("agent@example.com")
	plain := f.user("plain@example.com")
	s := f.userWithRole("s@example.com", models.RoleSuperAdmin)
	a := f.org("A")
	b := f.org("B")

	agent := f.assign(agentUser, a)
	_, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey("view_calls"), f.admin.ID)
	require.NoError(t, err)
	_, err = f.svc.GrantUserPermission(f.ctx, plain.ID, ByKey("view_users"), f.admin.ID)
	require.NoError(t, err)

	perms, err := f.svc.PermissionsForOrganisation(f.ctx, f.reload(agentUser), &a)
	require.NoError(t, err)
	assert.Equal(t, []string{"view_calls"}, PermissionKeys(perms))

	perms, err = f.svc.PermissionsForOrganisation(f.ctx, f.reload(agentUser), &b)
	require.NoError(t, err)
	assert.Empty(t, perms)

	perms, err = f.svc.PermissionsForOrganisation(f.ctx, &plain, &b)
	require.NoError(t, err)
	assert.Equal(t, []string{"view_users"}, PermissionKeys(perms))

	perms, err = f.svc.PermissionsForOrganisation(f.ctx, &s, &a)
	require.NoError(t, err)
	assert.Len(t, perms, len(DefaultCatalog))
}

func TestAllPermissionsDeduplicatesByKey(t *testing.T) {
	f := newFixture(t)
	f.seed()
	u := f.user("u@example.com")
	agent := f.assign(u, f.org("O"))
	for _, key := range []string{"view_reports", "view_calls"} {
		_, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey(key), f.admin.ID)
		require.NoError(t, err)
	}
	for _, key := range []string{"view_reports", "view_users"} {
		_, err := f.svc.GrantUserPermission(f.ctx, u.ID, ByKey(key), f.admin.ID)
		require.NoError(t, err)
	}

	perms, err := f.svc.AllPermissions(f.ctx, f.reload(u))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"view_reports", "view_calls", "view_users"}, PermissionKeys(perms))
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	f.seed()
	u := f.user("u@example.com")
	o := f.org("O")
	agent := f.assign(u, o)
	_, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey("make_calls"), f.admin.ID)
	require.NoError(t, err)
	_, err = f.svc.GrantUserPermission(f.ctx, u.ID, ByKey("view_users"), f.admin.ID)
	require.NoError(t, err)

	sum, err := f.svc.Summary(f.ctx, f.reload(u))
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperUser, sum.Role)
	assert.Equal(t, "Agent", sum.RoleDisplay)
	assert.True(t, sum.IsAgent)
	require.NotNil(t, sum.ManagedOrganisation)
	assert.Equal(t, o.ID, sum.ManagedOrganisation.ID)
	assert.Equal(t, []string{"view_users"}, sum.DirectPermissions)
	assert.Equal(t, []string{"make_calls"}, sum.AgentPermissions)
	assert.ElementsMatch(t, []string{"view_users", "make_calls"}, sum.AllPermissions)
	require.Len(t, sum.AccessibleOrganisations, 1)
	assert.Equal(t, "O", sum.AccessibleOrganisations[0].Name)
}
