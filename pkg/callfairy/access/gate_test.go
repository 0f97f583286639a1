package access

import (
	"errors"
	"testing"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireSuperAdmin(t *testing.T) {
	f := newFixture(t)
	u := f.user("u@example.com")

	assert.NoError(t, f.svc.RequireSuperAdmin(&f.admin))
	err := f.svc.RequireSuperAdmin(&u)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(f.svc.RequireSuperAdmin(nil), ErrUnauthorized))
}

func TestAuthorizeAccessResolvesOwner(t *testing.T) {
	f := newFixture(t)
	member := f.user("member@example.com")
	outsider := f.user("outsider@example.com")
	o := f.org("O")
	f.member(member, o)
	agentUser := f.user("agent@example.com")
	agent := f.assign(agentUser, o)
	membership, err := f.svc.GetMembership(f.ctx, o.ID, member.ID)
	require.NoError(t, err)

	targets := []models.OrganisationScoped{o, *agent, *membership}
	for _, target := range targets {
		assert.NoError(t, f.svc.AuthorizeAccess(f.ctx, &member, target))
		assert.NoError(t, f.svc.AuthorizeAccess(f.ctx, f.reload(agentUser), target))
		assert.True(t, errors.Is(f.svc.AuthorizeAccess(f.ctx, &outsider, target), ErrUnauthorized))
	}
}

func TestAuthorizeManage(t *testing.T) {
	f := newFixture(t)
	member := f.user("member@example.com")
	agentUser := f.user("agent@example.com")
	o := f.org("O")
	f.member(member, o)
	agent := f.assign(agentUser, o)

	assert.NoError(t, f.svc.AuthorizeManage(f.ctx, &f.admin, o))
	assert.NoError(t, f.svc.AuthorizeManage(f.ctx, f.reload(agentUser), *agent))

	err := f.svc.AuthorizeManage(f.ctx, &member, o)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestGateDistinguishesMissingFromDenied(t *testing.T) {
	f := newFixture(t)
	u := f.user("u@example.com")
	ghost := models.Organisation{ID: 777}

	err := f.svc.AuthorizeAccess(f.ctx, &u, ghost)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnauthorized))

	err = f.svc.AuthorizeManage(f.ctx, &u, ghost)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAuthorizePermission(t *testing.T) {
	f := newFixture(t)
	f.seed()
	agentUser := f.user("agent@example.com")
	member := f.user("member@example.com")
	o := f.org("O")
	f.member(member, o)
	agent := f.assign(agentUser, o)
	_, err := f.svc.GrantPermission(f.ctx, agent.ID, ByKey("view_reports"), f.admin.ID)
	require.NoError(t, err)

	assert.NoError(t, f.svc.AuthorizePermission(f.ctx, f.reload(agentUser), o, "view_reports"))
	assert.True(t, errors.Is(f.svc.AuthorizePermission(f.ctx, f.reload(agentUser), o, "make_calls"), ErrUnauthorized))

	// No key means access only.
	assert.NoError(t, f.svc.AuthorizePermission(f.ctx, &member, o, ""))
	assert.True(t, errors.Is(f.svc.AuthorizePermission(f.ctx, &member, o, "view_reports"), ErrUnauthorized))

	// No organisation context checks direct grants.
	_, err = f.svc.GrantUserPermission(f.ctx, member.ID, ByKey("view_users"), f.admin.ID)
	require.NoError(t, err)
	assert.NoError(t, f.svc.AuthorizePermission(f.ctx, &member, nil, "view_users"))

	assert.NoError(t, f.svc.AuthorizePermission(f.ctx, &f.admin, nil, "whatever"))
}
