package access

import (
	"context"
	"testing"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	svc   *Service
	admin models.User
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "Failed to connect to test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	f := &fixture{t: t, ctx: context.Background(), db: db, svc: NewService(db, nil)}
	f.admin = f.userWithRole("admin@example.com", models.RoleSuperAdmin)
	return f
}

func (f *fixture) user(email string) models.User {
	return f.userWithRole(email, models.RoleUser)
}

func (f *fixture) userWithRole(email string, role models.Role) models.User {
	u := models.User{Email: email, Name: email, IsActive: true, Role: role}
	require.NoError(f.t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) org(name string) models.Organisation {
	o := models.Organisation{Name: name, IsActive: true}
	require.NoError(f.t, f.db.Create(&o).Error)
	return o
}

func (f *fixture) member(u models.User, o models.Organisation) {
	_, err := f.svc.AddMember(f.ctx, o.ID, u.ID)
	require.NoError(f.t, err)
}

func (f *fixture) reload(u models.User) *models.User {
	loaded, err := f.svc.LoadUser(f.ctx, u.ID)
	require.NoError(f.t, err)
	return loaded
}

func (f *fixture) seed() {
	_, err := f.svc.SeedPermissions(f.ctx, false)
	require.NoError(f.t, err)
}

func (f *fixture) assign(u models.User, o models.Organisation) *models.Agent {
	a, err := f.svc.AssignAgent(f.ctx, u.ID, o.ID, f.admin.ID)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) activeAgents(column string, id uint) int64 {
	var n int64
	require.NoError(f.t, f.db.Model(&models.Agent{}).Where(column+" = ? AND is_active = ?", id, true).Count(&n).Error)
	return n
}

func orgIDs(orgs []models.Organisation) []uint {
	ids := make([]uint, len(orgs))
	for i, o := range orgs {
		ids[i] = o.ID
	}
	return ids
}

// checkInvariants verifies the agent uniqueness and role-cache rules across the whole store.
func (f *fixture) checkInvariants() {
	f.t.Helper()

	type count struct {
		ID uint
		N  int64
	}
	var perOrg, perUser []count
	require.NoError(f.t, f.db.Model(&models.Agent{}).Select("organisation_id AS id, COUNT(*) AS n").
		Where("is_active = ?", true).Group("organisation_id").Scan(&perOrg).Error)
	require.NoError(f.t, f.db.Model(&models.Agent{}).Select("user_id AS id, COUNT(*) AS n").
		Where("is_active = ?", true).Group("user_id").Scan(&perUser).Error)
	for _, c := range perOrg {
		require.LessOrEqual(f.t, c.N, int64(1), "organisation %d has %d active agents", c.ID, c.N)
	}
	for _, c := range perUser {
		require.LessOrEqual(f.t, c.N, int64(1), "user %d has %d active agents", c.ID, c.N)
	}

	var users []models.User
	require.NoError(f.t, f.db.Find(&users).Error)
	for _, u := range users {
		if u.Role == models.RoleSuperAdmin {
			continue
		}
		active := f.activeAgents("user_id", u.ID) > 0
		require.Equal(f.t, active, u.Role == models.RoleSuperUser, "user %d role %s out of sync", u.ID, u.Role)
	}
}
