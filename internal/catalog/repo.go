package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrMissingFields = errors.New("catalog: required fields missing")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetModelByKey(ctx context.Context, key string) (*Model, error) {
	var m Model
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *Repo) GetProviderByName(ctx context.Context, name string) (*Provider, error) {
	var p Provider
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ListModels(ctx context.Context, includeInactive bool) ([]Model, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var out []Model
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) AddModel(ctx context.Context, m *Model) error {
	if m.Key == "" || m.Name == "" || m.ProviderName == "" {
		return ErrMissingFields
	}
	if m.Category == "" {
		m.Category = CategoryFree
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// FirstActiveModelForTier returns the first active model a user of the given
// tier may use, or nil when the catalog has none.
func (r *Repo) FirstActiveModelForTier(ctx context.Context, premium bool) (*Model, error) {
	q := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC")
	if !premium {
		q = q.Where("category <> ?", CategoryPremium)
	}
	var m Model
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// FirstActiveModelForProvider returns the first tier-eligible active model of
// one provider, used as a fallback when a requested model key is unknown.
func (r *Repo) FirstActiveModelForProvider(ctx context.Context, providerName string, premium bool) (*Model, error) {
	q := r.db.WithContext(ctx).
		Where("active = ? AND provider_name = ?", true, providerName).
		Order("id ASC")
	if !premium {
		q = q.Where("category <> ?", CategoryPremium)
	}
	var m Model
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
