package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"Lee_Social/internal/model"
	"Lee_Social/internal/pkg"

	"github.com/samber/oops"
)

type UserService struct {
	store  Store
	hasher PasswordHasher
	email  *EmailService
	logger *slog.Logger
	now    func() time.Time
}

func NewUserService(store Store, hasher PasswordHasher, email *EmailService, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{store: store, hasher: hasher, email: email, logger: logger, now: time.Now}
}

func (s *UserService) WithClock(now func() time.Time) *UserService {
	s.now = now
	return s
}

// Register 注册新用户；邮箱和用户名都必须唯一
func (s *UserService) Register(ctx context.Context, username, email, password string) (*model.UserProfile, error) {
	in := registerInput{
		Username: strings.TrimSpace(username),
		Email:    normalizeEmail(email),
		Password: password,
	}
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	users := s.store.Users()
	if _, err := users.GetByEmail(ctx, in.Email); err == nil {
		return nil, oops.Code(CodeEmailTaken).Errorf("email already registered")
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, errStore("get user by email", err)
	}
	if _, err := users.GetByUsername(ctx, in.Username); err == nil {
		return nil, oops.Code(CodeUsernameTaken).Errorf("username already taken")
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, errStore("get user by username", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code(CodeInternal).With("operation", "hash password").Wrap(err)
	}
	u := &model.User{
		ID:           pkg.NewID(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := users.Create(ctx, u); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return nil, s.duplicateConflict(ctx, in)
		}
		return nil, errStore("create user", err)
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", u.ID)
	p := u.Profile()
	return &p, nil
}

// duplicateConflict works out which unique key lost a concurrent race.
func (s *UserService) duplicateConflict(ctx context.Context, in registerInput) error {
	if _, err := s.store.Users().GetByUsername(ctx, in.Username); err == nil {
		return oops.Code(CodeUsernameTaken).Errorf("username already taken")
	}
	return oops.Code(CodeEmailTaken).Errorf("email already registered")
}

func (s *UserService) getUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.store.Users().GetByID(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, oops.Code(CodeUserNotFound).With("user_id", userID).Errorf("user not found")
	}
	if err != nil {
		return nil, errStore("get user", err)
	}
	return u, nil
}

func (s *UserService) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := u.Profile()
	return &p, nil
}

// ProfileUpdate nil 字段表示不修改，空字符串表示清空
type ProfileUpdate struct {
	DisplayName       *string
	Bio               *string
	ProfilePictureURL *string
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*model.UserProfile, error) {
	if err := checkStruct(profileInput(upd)); err != nil {
		return nil, err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.DisplayName = mergeOptional(u.DisplayName, upd.DisplayName)
	u.Bio = mergeOptional(u.Bio, upd.Bio)
	u.ProfilePictureURL = mergeOptional(u.ProfilePictureURL, upd.ProfilePictureURL)
	if err := s.store.Users().Update(ctx, u); err != nil {
		return nil, errStore("update user", err)
	}
	p := u.Profile()
	return &p, nil
}

func mergeOptional(cur, upd *string) *string {
	if upd == nil {
		return cur
	}
	v := strings.TrimSpace(*upd)
	if v == "" {
		return nil
	}
	return &v
}

// VerifyEmail 校验验证码后标记邮箱已验证
func (s *UserService) VerifyEmail(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	if err := s.email.CheckCode(ctx, ScopeVerify, email, code); err != nil {
		return err
	}
	u, err := s.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return oops.Code(CodeUserNotFound).Errorf("user not found")
	}
	if err != nil {
		return errStore("get user by email", err)
	}
	if u.EmailVerified {
		return nil
	}
	if err := s.store.Users().MarkEmailVerified(ctx, u.ID); err != nil {
		return errStore("update user", err)
	}
	return nil
}

// ChangePassword 登录态修改密码，成功后吊销全部刷新令牌
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := checkStruct(struct {
		NewPassword string `validate:"required,min=8,max=72"`
	}{newPassword}); err != nil {
		return err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(oldPassword, u.PasswordHash)
	if err != nil || !ok {
		return errInvalidCredentials()
	}
	return s.setPassword(ctx, u, newPassword)
}

// ResetPassword 邮箱验证码重置密码，成功后吊销全部刷新令牌
func (s *UserService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := checkStruct(struct {
		NewPassword string `validate:"required,min=8,max=72"`
	}{newPassword}); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if err := s.email.CheckCode(ctx, ScopeReset, email, code); err != nil {
		return err
	}
	u, err := s.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return oops.Code(CodeInvalidVerificationCode).Errorf("invalid or expired verification code")
	}
	if err != nil {
		return errStore("get user by email", err)
	}
	return s.setPassword(ctx, u, newPassword)
}

func (s *UserService) setPassword(ctx context.Context, u *model.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code(CodeInternal).With("operation", "hash password").Wrap(err)
	}
	u.PasswordHash = hash
	err = s.store.Transaction(ctx, func(tx Store) error {
		if err := tx.Users().UpdatePassword(ctx, u.ID, hash); err != nil {
			return err
		}
		_, err := tx.RefreshTokens().RevokeAllForUser(ctx, u.ID, s.now())
		return err
	})
	if err != nil {
		return errStore("set password", err)
	}
	s.logger.InfoContext(ctx, "password changed, sessions revoked", "user_id", u.ID)
	return nil
}
