package access

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAssignAgentElevatesUser(t *testing.T) {
	f := newFixture(t)
	u1 := f.user("u1@example.com")
	o1 := f.org("O1")

	agent := f.assign(u1, o1)

	assert.True(t, agent.IsActive)
	assert.Equal(t, u1.ID, agent.UserID)
	require.NotNil(t, agent.AssignedByID)
	assert.Equal(t, f.admin.ID, *agent.AssignedByID)
	assert.Equal(t, models.RoleSuperUser, f.reload(u1).Role)
	assert.Equal(t, int64(1), f.activeAgents("organisation_id", o1.ID))

	orgs, err := f.svc.AccessibleOrganisations(f.ctx, f.reload(u1))
	require.NoError(t, err)
	assert.Equal(t, []uint{o1.ID}, orgIDs(orgs))
	f.checkInvariants()
}

func TestAssignAgentReplacesExistingAgent(t *testing.T) {
	f := newFixture(t)
	u1 := f.user("u1@example.com")
	u2 := f.user("u2@example.com")
	o1 := f.org("O1")

	first := f.assign(u1, o1)
	second := f.assign(u2, o1)

	old, err := f.svc.GetAgent(f.ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	require.NotNil(t, old.RevokedByID)
	assert.Equal(t, f.admin.ID, *old.RevokedByID)
	assert.NotNil(t, old.RevokedAt)

	assert.Equal(t, models.RoleUser, f.reload(u1).Role)
	assert.Equal(t, models.RoleSuperUser, f.reload(u2).Role)
	assert.True(t, second.IsActive)

	orgs, err := f.svc.AccessibleOrganisations(f.ctx, f.reload(u2))
	require.NoError(t, err)
	assert.Equal(t, []uint{o1.ID}, orgIDs(orgs))

	orgs, err = f.svc.AccessibleOrganisations(f.ctx, f.reload(u1))
	require.NoError(t, err)
	assert.Empty(t, orgs)
	f.checkInvariants()
}

func TestAssignAgentMovesUserBetweenOrganisations(t *testing.T) {
	f := newFixture(t)
	u := f.user("mover@example.com")
	a := f.org("A")
	b := f.org("B")

	first := f.assign(u, a)
	f.assign(u, b)

	old, err := f.svc.GetAgent(f.ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, int64(0), f.activeAgents("organisation_id", a.ID))
	assert.Equal(t, int64(1), f.activeAgents("user_id", u.ID))
	assert.Equal(t, models.RoleSuperUser, f.reload(u).Role)

	managed, err := f.svc.ManagedOrganisation(f.ctx, f.reload(u))
	require.NoError(t, err)
	require.NotNil(t, managed)
	assert.Equal(t, b.ID, managed.ID)
	f.checkInvariants()
}

func TestAssignAgentSameUserSameOrganisation(t *testing.T) {
	f := newFixture(t)
	u := f.user("u@example.com")
	o := f.org("O")

	f.assign(u, o)
	again := f.assign(u, o)

	assert.Equal(t, int64(1), f.activeAgents("organisation_id", o.ID))
	var total int64
	f.db.Model(&models.Agent{}).Where("organisation_id = ?", o.ID).Count(&total)
	assert.Equal(t, int64(2), total)

	current, err := f.svc.GetAgentForOrganisation(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, again.ID, current.ID)
	assert.Equal(t, models.RoleSuperUser, f.reload(u).Role)
	f.checkInvariants()
}

func TestAssignAgentNotFound(t *testing.T) {
	f := newFixture(t)
	u := f.user("u@example.com")
	o := f.org("O")

	_, err := f.svc.AssignAgent(f.ctx, 9999, o.ID, f.admin.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.svc.AssignAgent(f.ctx, u.ID, 9999, f.admin.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	var n int64
	f.db.Model(&models.Agent{}).Count(&n)
	assert.Zero(t, n)
	assert.Equal(t, models.RoleUser, f.reload(u).Role)
}

func TestAssignAgentUnknownUserKeepsCurrentAgent(t *testing.T) {
	f := newFixture(t)
	u1 := f.user("u1@example.com")
	o := f.org("O")
	first := f.assign(u1, o)

	_, err := f.svc.AssignAgent(f.ctx, 9999, o.ID, f.admin.ID)
	require.Error(t, err)

	current, err := f.svc.GetAgentForOrganisation(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
	assert.Equal(t, models.RoleSuperUser, f.reload(u1).Role)
}

func TestAssignAgentKeepsSuperAdmin(t *testing.T) {
	f := newFixture(t)
	s := f.userWithRole("boss@example.com", models.RoleSuperAdmin)
	o := f.org("O")

	agent := f.assign(s, o)
	assert.Equal(t, models.RoleSuperAdmin, f.reload(s).Role)

	_, err := f.svc.RevokeAgent(f.ctx, agent.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, f.reload(s).Role)
}

func TestSystemAssignmentHasNoAssigner(t *testing.T) {
	f := newFixture(t)
	agent, err := f.svc.AssignAgent(f.ctx, f.user("u@example.com").ID, f.org("O").ID, 0)
	require.NoError(t, err)
	assert.Nil(t, agent.AssignedByID)
}

func TestRevokeAgent(t *testing.T) {
	f := newFixture(t)
	u := f.user("u@example.com")
	o := f.org("O")
	agent := f.assign(u, o)

	revoked, err := f.svc.RevokeAgent(f.ctx, agent.ID, f.admin.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, models.RoleUser, f.reload(u).Role)

	_, err = f.svc.GetAgentForOrganisation(f.ctx, o.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	f.checkInvariants()
}

func TestRevokeAgentTwiceRestamps(t *testing.T) {
	f := newFixture(t)
	other := f.userWithRole("other-admin@example.com", models.RoleSuperAdmin)
	agent := f.assign(f.user("u@example.com"), f.org("O"))

	first, err := f.svc.RevokeAgent(f.ctx, agent.ID, f.admin.ID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return first.RevokedAt.Add(time.Minute) }
	second, err := f.svc.RevokeAgent(f.ctx, agent.ID, other.ID)
	require.NoError(t, err)

	assert.False(t, second.IsActive)
	assert.Equal(t, other.ID, *second.RevokedByID)
	assert.True(t, second.RevokedAt.After(*first.RevokedAt))
}

func TestRevokeAgentNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RevokeAgent(f.ctx, 4242, f.admin.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteAgentConvergesWithRevoke(t *testing.T) {
	f := newFixture(t)
	f.seed()
	u1 := f.user("u1@example.com")
	u2 := f.user("u2@example.com")
	a := f.org("A")
	b := f.org("B")

	revoked := f.assign(u1, a)
	deleted := f.assign(u2, b)
	_, err := f.svc.GrantPermission(f.ctx, deleted.ID, ByKey("view_reports"), f.admin.ID)
	require.NoError(t, err)

	_, err = f.svc.RevokeAgent(f.ctx, revoked.ID, f.admin.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteAgent(f.ctx, deleted.ID))

	assert.Equal(t, f.reload(u1).Role, f.reload(u2).Role)
	assert.Equal(t, models.RoleUser, f.reload(u2).Role)

	var grants int64
	f.db.Model(&models.AgentPermission{}).Where("agent_id = ?", deleted.ID).Count(&grants)
	assert.Zero(t, grants)
	assert.True(t, errors.Is(f.svc.DeleteAgent(f.ctx, deleted.ID), ErrNotFound))
	f.checkInvariants()
}

func TestGrantPermissionIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed()
	agent := f.assign(f.user("u@example.com"), f.org("O"))

	g1, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey("view_reports"), f.admin.ID)
	require.NoError(t, err)
	perm, err := f.svc.GetPermission(f.ctx, "view_reports")
	require.NoError(t, err)
	g2, err := f.svc.GrantPermission(f.ctx, agent.ID, ByPermission(*perm), f.admin.ID)
	require.NoError(t, err)

	assert.Equal(t, g1.ID, g2.ID)
	assert.Equal(t, "view_reports", g2.Permission.Key)
	var n int64
	f.db.Model(&models.AgentPermission{}).Where("agent_id = ?", agent.ID).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestRevokePermissionNotGrantedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed()
	agent := f.assign(f.user("u@example.com"), f.org("O"))

	assert.NoError(t, f.svc.RevokePermission(f.ctx, agent.ID, ByKey("view_reports")))

	_, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey("view_reports"), f.admin.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.RevokePermission(f.ctx, agent.ID, ByKey("view_reports")))

	perms, err := f.svc.AgentPermissions(f.ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestGrantUnknownPermissionKey(t *testing.T) {
	f := newFixture(t)
	agent := f.assign(f.user("u@example.com"), f.org("O"))

	_, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey("no_such_key"), f.admin.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrInvalidState))

	err = f.svc.RevokePermission(f.ctx, agent.ID, ByKey("no_such_key"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.svc.GrantPermission(f.ctx, 999, ByKey("no_such_key"), f.admin.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGrantsStayWithSupersededAgent(t *testing.T) {
	f := newFixture(t)
	f.seed()
	o := f.org("O")
	old := f.assign(f.user("u1@example.com"), o)
	_, err := f.svc.GrantPermission(f.ctx, old.ID, ByKey("view_reports"), f.admin.ID)
	require.NoError(t, err)

	replacement := f.assign(f.user("u2@example.com"), o)

	oldPerms, err := f.svc.AgentPermissions(f.ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"view_reports"}, PermissionKeys(oldPerms))

	newPerms, err := f.svc.AgentPermissions(f.ctx, replacement.ID)
	require.NoError(t, err)
	assert.Empty(t, newPerms)
}

func TestApplyPermissionPackage(t *testing.T) {
	f := newFixture(t)
	f.seed()
	agent := f.assign(f.user("u@example.com"), f.org("O"))

	granted, err := f.svc.ApplyPermissionPackage(f.ctx, agent.ID, "basic", f.admin.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, PermissionPackages["basic"], PermissionKeys(granted))

	// Keys already held are left as they are.
	granted, err = f.svc.ApplyPermissionPackage(f.ctx, agent.ID, "standard", f.admin.ID)
	require.NoError(t, err)
	assert.Len(t, granted, len(PermissionPackages["standard"]))

	perms, err := f.svc.AgentPermissions(f.ctx, agent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, PermissionPackages["standard"], PermissionKeys(perms))

	_, err = f.svc.ApplyPermissionPackage(f.ctx, agent.ID, "platinum", f.admin.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestAssignAgentWithPackage(t *testing.T) {
	f := newFixture(t)
	f.seed()
	u := f.user("u@example.com")
	o := f.org("O")

	agent, granted, err := f.svc.AssignAgentWithPackage(f.ctx, u.ID, o.ID, f.admin.ID, "basic")
	require.NoError(t, err)
	assert.ElementsMatch(t, PermissionPackages["basic"], PermissionKeys(granted))
	perms, err := f.svc.AgentPermissions(f.ctx, agent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, PermissionPackages["basic"], PermissionKeys(perms))

	_, _, err = f.svc.AssignAgentWithPackage(f.ctx, f.user("v@example.com").ID, o.ID, f.admin.ID, "platinum")
	assert.True(t, errors.Is(err, ErrInvalidState))
	current, err := f.svc.GetAgentForOrganisation(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, current.ID)
}

func TestAssignAgentWithPackageIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.seed()
	o := f.org("O")
	first := f.assign(f.user("first@example.com"), o)
	next := f.user("next@example.com")

	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_agent_grants", func(tx *gorm.DB) {
		if tx.Statement.Table == "agent_permissions" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, _, err := f.svc.AssignAgentWithPackage(f.ctx, next.ID, o.ID, f.admin.ID, "standard")
	require.Error(t, err)

	current, err := f.svc.GetAgentForOrganisation(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
	assert.Equal(t, models.RoleUser, f.reload(next).Role)
	assert.Equal(t, int64(0), f.activeAgents("user_id", next.ID))
	f.checkInvariants()
}

func TestApplyPermissionPackageSkipsMissingKeys(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreatePermission(f.ctx, "View Reports", "", "")
	require.NoError(t, err)
	agent := f.assign(f.user("u@example.com"), f.org("O"))

	granted, err := f.svc.ApplyPermissionPackage(f.ctx, agent.ID, "basic", f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"view_reports"}, PermissionKeys(granted))
}

func TestAssignThenGetAgentForOrganisation(t *testing.T) {
	f := newFixture(t)
	o := f.org("O")
	agent := f.assign(f.user("u@example.com"), o)

	got, err := f.svc.GetAgentForOrganisation(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)

	byUser, err := f.svc.GetAgentForUser(f.ctx, agent.UserID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byUser.ID)
}

func TestListAgents(t *testing.T) {
	f := newFixture(t)
	o := f.org("O")
	f.assign(f.user("u1@example.com"), o)
	f.assign(f.user("u2@example.com"), o)

	all, err := f.svc.ListAgents(f.ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.svc.ListAgents(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "u2@example.com", active[0].User.Email)
	assert.Equal(t, "O", active[0].Organisation.Name)
}

func TestAgentInvariantsHoldUnderMixedOperations(t *testing.T) {
	f := newFixture(t)
	users := []models.User{f.user("a@example.com"), f.user("b@example.com"), f.user("c@example.com"), f.user("d@example.com")}
	orgs := []models.Organisation{f.org("O1"), f.org("O2"), f.org("O3")}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		switch rng.Intn(3) {
		case 0, 1:
			f.assign(users[rng.Intn(len(users))], orgs[rng.Intn(len(orgs))])
		case 2:
			var active []models.Agent
			require.NoError(t, f.db.Where("is_active = ?", true).Find(&active).Error)
			if len(active) == 0 {
				continue
			}
			victim := active[rng.Intn(len(active))]
			if rng.Intn(2) == 0 {
				_, err := f.svc.RevokeAgent(f.ctx, victim.ID, f.admin.ID)
				require.NoError(t, err)
			} else {
				require.NoError(t, f.svc.DeleteAgent(f.ctx, victim.ID))
			}
		}
		f.checkInvariants()
	}
}
