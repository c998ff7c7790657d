package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/db/models"
	"gorm.io/gorm"
)

// Store is the relational side of the engine: users, identities, the
// action/reaction catalog rows and areas.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an initialized database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for packages that own their own tables.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ===== Users =====

// CreateUser inserts a user, assigning an id when empty.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(user).Error
}

// GetUser loads a user or returns a NotFound error.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "db.GetUser", "user %s not found", id)
	}
	return &user, nil
}

// UserExists reports whether a user row exists.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteUserCascade removes a user together with identities, linked
// accounts and areas in a single transaction. Event logs are kept.
func (s *Store) DeleteUserCascade(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Area{}).Error; err != nil {
			return fmt.Errorf("delete areas: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.LinkedAccount{}).Error; err != nil {
			return fmt.Errorf("delete linked accounts: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.AuthIdentity{}).Error; err != nil {
			return fmt.Errorf("delete identities: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.User{})
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("db.DeleteUserCascade", "user %s not found", id)
		}
		return nil
	})
}

// ===== Identities =====

// ResolveIdentity finds the user behind a provider identity, creating the
// user and identity rows on first login. Profile fields are refreshed on
// every call.
func (s *Store) ResolveIdentity(ctx context.Context, ident models.AuthIdentity) (*models.User, bool, error) {
	var user models.User
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AuthIdentity
		err := tx.Where("provider = ? AND provider_user_id = ?", ident.Provider, ident.ProviderUserID).First(&existing).Error
		switch {
		case err == nil:
			existing.Email = ident.Email
			existing.Name = ident.Name
			existing.Picture = ident.Picture
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			return tx.First(&user, "id = ?", existing.UserID).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{ID: uuid.NewString(), Email: ident.Email, Name: ident.Name}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			ident.ID = 0
			ident.UserID = user.ID
			if err := tx.Create(&ident).Error; err != nil {
				return err
			}
			created = true
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("resolve identity %s/%s: %w", ident.Provider, ident.ProviderUserID, err)
	}
	return &user, created, nil
}

// ===== Catalog =====

// EnsureAction finds the catalog row for name or creates it.
func (s *Store) EnsureAction(ctx context.Context, name, description string) (*models.ActionDef, error) {
	svc, err := s.ensureDefaultService(ctx)
	if err != nil {
		return nil, err
	}
	row := models.ActionDef{}
	err = firstOrCreate(s.db.WithContext(ctx), &row,
		models.ActionDef{Name: name},
		models.ActionDef{Description: description, ServiceID: svc.ID})
	if err != nil {
		return nil, fmt.Errorf("ensure action %s: %w", name, err)
	}
	return &row, nil
}

// EnsureReaction finds the catalog row for name or creates it.
func (s *Store) EnsureReaction(ctx context.Context, name, description string) (*models.ReactionDef, error) {
	svc, err := s.ensureDefaultService(ctx)
	if err != nil {
		return nil, err
	}
	row := models.ReactionDef{}
	err = firstOrCreate(s.db.WithContext(ctx), &row,
		models.ReactionDef{Name: name},
		models.ReactionDef{Description: description, ServiceID: svc.ID})
	if err != nil {
		return nil, fmt.Errorf("ensure reaction %s: %w", name, err)
	}
	return &row, nil
}

func (s *Store) ensureDefaultService(ctx context.Context) (*models.Service, error) {
	svc := models.Service{}
	if err := firstOrCreate(s.db.WithContext(ctx), &svc, models.Service{Name: models.DefaultServiceName}, models.Service{}); err != nil {
		return nil, fmt.Errorf("ensure default service: %w", err)
	}
	return &svc, nil
}

// firstOrCreate relies on the unique name index: when a concurrent writer
// wins the insert, the row is read back instead of failing.
func firstOrCreate(db *gorm.DB, dest any, where any, attrs any) error {
	err := db.Where(where).Attrs(attrs).FirstOrCreate(dest).Error
	if err == nil {
		return nil
	}
	if retry := db.Where(where).First(dest).Error; retry == nil {
		return nil
	}
	return err
}

// ===== Areas =====

// CreateArea inserts a new binding, assigning an id when empty.
func (s *Store) CreateArea(ctx context.Context, area *models.Area) error {
	if area.ID == "" {
		area.ID = uuid.NewString()
	}
	area.IsActive = true
	return s.db.WithContext(ctx).Create(area).Error
}

// GetArea loads an area or returns a NotFound error.
func (s *Store) GetArea(ctx context.Context, id string) (*models.Area, error) {
	var area models.Area
	if err := s.db.WithContext(ctx).First(&area, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "db.GetArea", "area %s not found", id)
	}
	return &area, nil
}

// DeactivateArea flips is_active off. The row is kept.
func (s *Store) DeactivateArea(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Area{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("db.DeactivateArea", "area %s not found", id)
	}
	return nil
}

// ListUserAreas returns every non-deleted area of a user, newest first.
func (s *Store) ListUserAreas(ctx context.Context, userID string) ([]models.Area, error) {
	var areas []models.Area
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&areas).Error
	return areas, err
}

// ListActiveAreas returns every active, non-deleted area.
func (s *Store) ListActiveAreas(ctx context.Context) ([]models.Area, error) {
	var areas []models.Area
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at ASC").Find(&areas).Error
	return areas, err
}

// ListActiveAreasFor returns the active areas of one user bound to action.
func (s *Store) ListActiveAreasFor(ctx context.Context, userID, actionName string) ([]models.Area, error) {
	var areas []models.Area
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND action_name = ? AND is_active = ?", userID, actionName, true).
		Order("created_at ASC").
		Find(&areas).Error
	return areas, err
}

func notFound(err error, op, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, format, args...)
	}
	return fmt.Errorf("%s: %w", op, err)
}
