package mysql

import (
	"context"
	"time"

	"Lee_Social/internal/model"

	"gorm.io/gorm"
)

type RefreshTokenRepository struct {
	DB *gorm.DB
}

func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	var tok model.RefreshToken
	if err := r.DB.WithContext(ctx).Where("token_hash = ?", hash).First(&tok).Error; err != nil {
		return nil, translate(err)
	}
	return &tok, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, tok *model.RefreshToken) error {
	return translate(r.DB.WithContext(ctx).Create(tok).Error)
}

func (r *RefreshTokenRepository) Update(ctx context.Context, tok *model.RefreshToken) error {
	return translate(r.DB.WithContext(ctx).Save(tok).Error)
}

// Revoke 条件更新：只有 revoked=false 的行会被改，并发轮换时只有一个请求能拿到 true
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, at time.Time, replacedBy *string) (bool, error) {
	updates := map[string]any{"revoked": true, "revoked_at": at}
	if replacedBy != nil {
		updates["replaced_by"] = *replacedBy
	}
	res := r.DB.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("id = ? AND revoked = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": at})
	return res.RowsAffected, res.Error
}
