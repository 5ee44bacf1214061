package mysql

import (
	"context"
	"time"

	"Lee_Social/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	DB *gorm.DB
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return translate(r.DB.WithContext(ctx).Create(user).Error)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := r.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// Update 只写资料列，密码、验证状态各有自己的写法，互不覆盖
func (r *UserRepository) Update(ctx context.Context, user *model.User) error {
	return translate(r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", user.ID).
		Select("display_name", "bio", "profile_picture_url", "updated_at").
		Updates(map[string]any{
			"display_name":        user.DisplayName,
			"bio":                 user.Bio,
			"profile_picture_url": user.ProfilePictureURL,
			"updated_at":          time.Now(),
		}).Error)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return translate(r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_hash": passwordHash, "updated_at": time.Now()}).Error)
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return translate(r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"email_verified": true, "updated_at": time.Now()}).Error)
}

// TouchLastLogin 行锁住用户，密码哈希仍是登录时校验过的那个才记录登录时间；
// 必须在事务里调用，改密码的事务会排在它后面
func (r *UserRepository) TouchLastLogin(ctx context.Context, id, verifiedHash string, at time.Time) (bool, error) {
	var cur model.User
	err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "password_hash").
		Where("id = ?", id).
		Take(&cur).Error
	if err != nil {
		return false, translate(err)
	}
	if cur.PasswordHash != verifiedHash {
		return false, nil
	}
	err = r.DB.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
	if err != nil {
		return false, translate(err)
	}
	return true, nil
}

func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}
