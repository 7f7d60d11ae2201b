package character

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, c *Character) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetByID(ctx context.Context, id uint64) (*Character, error) {
	var c Character
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) List(ctx context.Context, includeNSFW bool) ([]Character, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if !includeNSFW {
		q = q.Where("nsfw = ?", false)
	}
	var out []Character
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) UpdatePersona(ctx context.Context, id uint64, systemPrompt, personality, reference string) error {
	return r.db.WithContext(ctx).Model(&Character{}).Where("id = ?", id).
		Updates(map[string]any{
			"system_prompt":       systemPrompt,
			"personality":         personality,
			"reference_character": reference,
		}).Error
}

// RandomGalleryImage picks one gallery image of the character, or nil when the
// gallery is empty. Galleries are small, so random offset over a count is fine.
// pick maps a count to an offset in [0, n) so callers keep their rng locking
// out of the database round-trips.
func (r *Repo) RandomGalleryImage(ctx context.Context, characterID uint64, pick func(n int) int) (*GalleryImage, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&GalleryImage{}).
		Where("character_id = ?", characterID).Count(&total).Error; err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	var img GalleryImage
	err := r.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("id ASC").
		Offset(pick(int(total))).
		First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &img, nil
}

func (r *Repo) AddGalleryImage(ctx context.Context, img *GalleryImage) error {
	return r.db.WithContext(ctx).Create(img).Error
}

func (r *Repo) ListGalleryImages(ctx context.Context, characterID uint64) ([]GalleryImage, error) {
	var out []GalleryImage
	err := r.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
