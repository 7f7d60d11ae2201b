// Package points manages the gamified points balance. Deductions are
// conditional single-statement updates so concurrent spends cannot overdraw.
package points

import (
	"context"

	"gorm.io/gorm"

	"github.com/emberhq/companion/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Balance(ctx context.Context, userID uint64) (int64, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Select("points").First(&u, userID).Error; err != nil {
		return 0, err
	}
	return u.Points, nil
}

// Deduct subtracts amount if the balance covers it. Returns false when the
// user cannot afford the charge.
func (r *Repo) Deduct(ctx context.Context, userID uint64, amount int64) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND points >= ?", userID, amount).
		Update("points", gorm.Expr("points - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) Award(ctx context.Context, userID uint64, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("points", gorm.Expr("points + ?", amount)).Error
}
