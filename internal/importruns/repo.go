package importruns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rankings-ingest/pkg/db/models"
)

// Repository persists import run audit rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, run *models.ImportRun) error
	Update(ctx context.Context, run *models.ImportRun) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]models.ImportRun, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an import run repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, run *models.ImportRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *repositoryImpl) Update(ctx context.Context, run *models.ImportRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error) {
	var run models.ImportRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repositoryImpl) ListByRun(ctx context.Context, runID uuid.UUID) ([]models.ImportRun, error) {
	var runs []models.ImportRun
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("started_at ASC, country_code ASC").
		Find(&runs).Error
	return runs, err
}
