package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reportd/internal/models"
)

// InstitutionRepository resolves institutions to their fetch identity.
type InstitutionRepository struct {
	db *gorm.DB
}

func NewInstitutionRepository(db *gorm.DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

// FindByID returns the institution or a NotFoundError naming it.
func (r *InstitutionRepository) FindByID(id string) (*models.Institution, error) {
	var inst models.Institution
	err := r.db.Where("id = ?", id).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Institution", id)
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// FindAll returns every institution ordered by id.
func (r *InstitutionRepository) FindAll() ([]models.Institution, error) {
	var list []models.Institution
	err := r.db.Order("id ASC").Find(&list).Error
	return list, err
}

// Upsert creates the institution or replaces its identity fields.
func (r *InstitutionRepository) Upsert(inst *models.Institution) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "username", "index_scope", "updated_at"}),
	}).Create(inst).Error
}
