package main

import (
	"testing"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/config"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) (*gorm.DB, *access.Service) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	return db, access.NewService(db, nil)
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"--config", "/tmp/c.yaml", "--seed-permissions", "--clear"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/c.yaml", opts.ConfigPath)
	assert.True(t, opts.SeedPermissions)
	assert.True(t, opts.Clear)
	assert.True(t, opts.anyTask())

	opts, err = parseOptions(nil)
	require.NoError(t, err)
	assert.False(t, opts.anyTask())

	_, err = parseOptions([]string{"--create-superadmin", "--email", "a@example.com"})
	assert.Error(t, err)
}

func TestEnsureSuperAdmin(t *testing.T) {
	db, svc := setupDB(t)
	ctx := t.Context()
	cfg := config.BootstrapSettings{AdminEmail: "Root@Example.com", AdminPassword: "Sup3r-Secret-Phrase", AdminName: "Root"}

	require.NoError(t, ensureSuperAdmin(ctx, db, svc, cfg, zap.NewNop()))
	user, err := svc.FindUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, user.Role)
	assert.True(t, user.IsActive)
	assert.True(t, auth.CheckPassword(cfg.AdminPassword, user.PasswordHash))

	// A second run leaves the existing superadmin alone.
	cfg.AdminEmail = "other@example.com"
	require.NoError(t, ensureSuperAdmin(ctx, db, svc, cfg, zap.NewNop()))
	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEnsureSuperAdminGeneratesPassword(t *testing.T) {
	db, svc := setupDB(t)
	require.NoError(t, ensureSuperAdmin(t.Context(), db, svc, config.BootstrapSettings{AdminEmail: "root@example.com"}, zap.NewNop()))

	user, err := svc.FindUserByEmail(t.Context(), "root@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, user.PasswordHash)
	assert.Equal(t, "Administrator", user.Name)
}

func TestCreateSuperAdminPromotesExistingUser(t *testing.T) {
	db, svc := setupDB(t)
	existing := models.User{Email: "jane@example.com", Name: "Jane", Role: models.RoleUser}
	require.NoError(t, db.Create(&existing).Error)

	user, err := createSuperAdmin(t.Context(), db, svc, "jane@example.com", "ignored-for-existing", "")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)
	assert.Equal(t, models.RoleSuperAdmin, user.Role)

	reloaded, err := svc.LoadUser(t.Context(), existing.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsActive)
}

func TestCreateSuperAdminRejectsWeakPassword(t *testing.T) {
	db, svc := setupDB(t)
	_, err := createSuperAdmin(t.Context(), db, svc, "new@example.com", "12345678", "")
	assert.Error(t, err)
}
