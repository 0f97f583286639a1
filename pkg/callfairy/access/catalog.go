package access

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CatalogEntry describes one permission of the default catalog.
type CatalogEntry struct {
	Key         string
	Name        string
	Description string
}

// DefaultCatalog is the permission set installed by SeedPermissions.
var DefaultCatalog = []CatalogEntry{
	// users
	{"view_users", "View Users", "Can view list of users and their details"},
	{"create_users", "Create Users", "Can create new users in the system"},
	{"edit_users", "Edit Users", "Can edit existing user details and roles"},
	{"delete_users", "Delete Users", "Can delete users from the system"},
	// organisations
	{"view_organisations", "View Organisations", "Can view organisations list and details"},
	{"manage_organisation", "Manage Organisation", "Can manage organisation settings and details"},
	{"edit_organisation_settings", "Edit Organisation Settings", "Can modify organisation settings and configuration"},
	// reports
	{"view_reports", "View Reports", "Can view reports and analytics"},
	{"export_reports", "Export Reports", "Can export reports to various formats"},
	{"view_analytics", "View Analytics", "Can access analytics dashboard"},
	// calls
	{"make_calls", "Make Calls", "Can initiate AI calls"},
	{"view_calls", "View Calls", "Can view call history and details"},
	{"manage_campaigns", "Manage Campaigns", "Can create and manage call campaigns"},
	{"view_call_recordings", "View Call Recordings", "Can access call recordings and transcripts"},
	// contacts
	{"view_contacts", "View Contacts", "Can view contacts list"},
	{"create_contacts", "Create Contacts", "Can add new contacts"},
	{"edit_contacts", "Edit Contacts", "Can edit existing contacts"},
	{"delete_contacts", "Delete Contacts", "Can delete contacts"},
	{"import_contacts", "Import Contacts", "Can import contacts from CSV/file"},
	// administration
	{"manage_permissions", "Manage Permissions", "Can assign and revoke user permissions"},
	{"manage_agents", "Manage Agents", "Can assign and revoke agent designations"},
	{"view_system_settings", "View System Settings", "Can view system configuration"},
	{"edit_system_settings", "Edit System Settings", "Can modify system configuration"},
	{"view_audit_logs", "View Audit Logs", "Can view system audit logs and activity"},
}

// PermissionPackages are the presets offered when assigning an agent.
var PermissionPackages = map[string][]string{
	"basic": {"manage_organisation", "view_users", "view_reports"},
	"standard": {
		"manage_organisation", "view_users", "view_reports",
		"view_contacts", "view_calls", "create_contacts",
	},
	"advanced": {
		"manage_organisation", "view_users", "create_users", "edit_users", "view_reports",
		"view_contacts", "create_contacts", "view_calls", "make_calls", "manage_campaigns",
	},
}

// DefaultPermissionPackage is applied when an assignment names no package.
const DefaultPermissionPackage = "standard"

// SeedResult counts what SeedPermissions changed.
type SeedResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// SeedPermissions upserts the default catalog by key. With clear set, every
// existing permission and grant is removed first.
func (s *Service) SeedPermissions(ctx context.Context, clear bool) (SeedResult, error) {
	var res SeedResult
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if clear {
			if err := tx.Where("1 = 1").Delete(&models.AgentPermission{}).Error; err != nil {
				return err
			}
			if err := tx.Where("1 = 1").Delete(&models.UserPermissionAccess{}).Error; err != nil {
				return err
			}
			del := tx.Where("1 = 1").Delete(&models.Permission{})
			if del.Error != nil {
				return del.Error
			}
			res.Removed = int(del.RowsAffected)
		}

		for _, entry := range DefaultCatalog {
			var existing []models.Permission
			if err := tx.Where("key = ?", entry.Key).Limit(1).Find(&existing).Error; err != nil {
				return err
			}
			if len(existing) == 0 {
				perm := models.Permission{Key: entry.Key, Name: entry.Name, Description: entry.Description}
				if err := tx.Create(&perm).Error; err != nil {
					return err
				}
				res.Created++
				continue
			}
			perm := existing[0]
			if perm.Name == entry.Name && perm.Description == entry.Description {
				continue
			}
			if err := tx.Model(&perm).Updates(map[string]interface{}{
				"name":        entry.Name,
				"description": entry.Description,
			}).Error; err != nil {
				return err
			}
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	s.log.Info("permission catalog seeded",
		zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("removed", res.Removed))
	return res, nil
}

// ListPermissions returns the whole catalog ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	return perms, s.conn(ctx).Order("name").Find(&perms).Error
}

// GetPermission looks up a catalog entry by key.
func (s *Service) GetPermission(ctx context.Context, key string) (*models.Permission, error) {
	var perm models.Permission
	if err := s.conn(ctx).Where("key = ?", key).First(&perm).Error; err != nil {
		return nil, notFound(err, "permission "+key)
	}
	return &perm, nil
}

// CreatePermission adds a catalog entry. A blank key is derived from the name.
func (s *Service) CreatePermission(ctx context.Context, name, key, description string) (*models.Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("permission name is required: %w", ErrInvalidState)
	}
	if key == "" {
		key = Slugify(name)
	}
	if key == "" {
		return nil, fmt.Errorf("permission key is empty: %w", ErrInvalidState)
	}

	var perm models.Permission
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Permission{}).Where("key = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("permission %q already exists: %w", key, ErrInvalidState)
		}
		perm = models.Permission{Name: name, Key: key, Description: description}
		return tx.Create(&perm).Error
	})
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

// DeletePermission removes a catalog entry together with every grant of it.
func (s *Service) DeletePermission(ctx context.Context, key string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var perm models.Permission
		if err := tx.Where("key = ?", key).First(&perm).Error; err != nil {
			return notFound(err, "permission "+key)
		}
		if err := tx.Where("permission_id = ?", perm.ID).Delete(&models.AgentPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("permission_id = ?", perm.ID).Delete(&models.UserPermissionAccess{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&perm).Error; err != nil {
			return err
		}
		s.log.Info("audit: permission deleted", zap.String("permission", key))
		return nil
	})
}

// Slugify turns a display name into a catalog key: lowercase ASCII letters and
// digits joined by single underscores.
func Slugify(name string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
		default:
			sep = true
		}
	}
	return b.String()
}
