package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"Lee_Social/internal/logging"
	"Lee_Social/internal/metrics"
	"Lee_Social/internal/model"
	"Lee_Social/internal/pkg"

	"github.com/samber/oops"
)

// dummyPassword is hashed once and verified against when the email is
// unknown, so both failure paths cost one hash verification.
const dummyPassword = "lee-social-dummy-password"

type AuthService struct {
	store  Store
	hasher PasswordHasher
	tokens TokenIssuer
	logger *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(store Store, hasher PasswordHasher, tokens TokenIssuer, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// HashToken is the at-rest form of a refresh token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Error("dummy hash failed", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// Login 邮箱+密码登录；邮箱不存在和密码错误返回同一个错误
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.store.Users().GetByEmail(ctx, normalizeEmail(email))
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		metrics.LoginsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, errStore("get user by email", err)
	}

	target := s.dummy()
	if user != nil {
		target = user.PasswordHash
	}
	valid, verifyErr := s.hasher.Verify(password, target)
	if user == nil || verifyErr != nil || !valid {
		if user != nil && verifyErr != nil {
			logging.LogError(ctx, s.logger, "password verify failed",
				oops.With("user_id", user.ID).Wrap(verifyErr))
		}
		metrics.LoginsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, errInvalidCredentials()
	}

	// 校验期间密码可能被改掉：记录登录和签发令牌放在同一事务里，
	// 哈希已变则按凭证错误处理
	now := s.now()
	var sess *model.Session
	err = s.store.Transaction(ctx, func(tx Store) error {
		ok, err := tx.Users().TouchLastLogin(ctx, user.ID, user.PasswordHash, now)
		if err != nil {
			return errStore("record last login", err)
		}
		if !ok {
			return errInvalidCredentials()
		}
		user.LastLoginAt = &now
		sess, err = s.mint(ctx, tx, user, nil)
		return err
	})
	if err != nil {
		metrics.LoginsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}
	metrics.LoginsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return sess, nil
}

// RefreshSession 轮换刷新令牌：旧的作废，新的入库，二者在同一个事务里
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	sess, err := s.refresh(ctx, refreshToken)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
		if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Context()["reuse_detected"] == true {
			outcome = metrics.OutcomeReuse
		}
	}
	metrics.RefreshesTotal.WithLabelValues(outcome).Inc()
	return sess, err
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, errInvalidRefreshToken()
	}
	old, err := s.store.RefreshTokens().GetByTokenHash(ctx, HashToken(refreshToken))
	if errors.Is(err, model.ErrNotFound) {
		return nil, errInvalidRefreshToken()
	}
	if err != nil {
		return nil, errStore("get refresh token", err)
	}

	now := s.now()
	if old.Revoked {
		if !old.WasRotated() {
			return nil, errInvalidRefreshToken()
		}
		// 已轮换过的令牌再次出现，视为泄露：吊销该用户全部会话
		n, err := s.store.RefreshTokens().RevokeAllForUser(ctx, old.UserID, now)
		if err != nil {
			logging.LogError(ctx, s.logger, "revoke all after reuse failed", errStore("revoke all", err))
		}
		s.logger.WarnContext(ctx, "refresh token reuse detected", "user_id", old.UserID, "revoked", n)
		return nil, oops.Code(CodeInvalidRefreshToken).
			With("reuse_detected", true).
			Errorf("invalid refresh token")
	}
	if old.IsExpiredAt(now) {
		return nil, oops.Code(CodeRefreshTokenExpired).Errorf("refresh token expired")
	}

	user, err := s.store.Users().GetByID(ctx, old.UserID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, errInvalidRefreshToken()
	}
	if err != nil {
		return nil, errStore("get user", err)
	}

	var sess *model.Session
	err = s.store.Transaction(ctx, func(tx Store) error {
		var err error
		sess, err = s.mint(ctx, tx, user, old)
		return err
	})
	if err != nil {
		return nil, errStore("rotate refresh token", err)
	}
	return sess, nil
}

// mint issues a token pair and persists the refresh record. When prev is set
// it is revoked first and linked to the new token.
func (s *AuthService) mint(ctx context.Context, st Store, user *model.User, prev *model.RefreshToken) (*model.Session, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, oops.Code(CodeInternal).With("operation", "issue access token").Wrap(err)
	}
	refresh, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, oops.Code(CodeInternal).With("operation", "issue refresh token").Wrap(err)
	}
	hash := HashToken(refresh)
	now := s.now()

	if prev != nil {
		ok, err := st.RefreshTokens().Revoke(ctx, prev.ID, now, &hash)
		if err != nil {
			return nil, errStore("revoke refresh token", err)
		}
		if !ok {
			// 并发刷新，另一个请求已经轮换了这个令牌
			return nil, errInvalidRefreshToken()
		}
	}

	rec := &model.RefreshToken{
		ID:        pkg.NewID(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: s.tokens.RefreshTokenExpiry(),
		CreatedAt: now,
	}
	if err := st.RefreshTokens().Create(ctx, rec); err != nil {
		return nil, errStore("create refresh token", err)
	}

	return &model.Session{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: rec.ExpiresAt,
		User:                  user.Profile(),
	}, nil
}

// Logout 作废一个刷新令牌；未知或已作废的令牌直接忽略
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	tok, err := s.store.RefreshTokens().GetByTokenHash(ctx, HashToken(refreshToken))
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errStore("get refresh token", err)
	}
	if tok.Revoked {
		return nil
	}
	if _, err := s.store.RefreshTokens().Revoke(ctx, tok.ID, s.now(), nil); err != nil {
		return errStore("revoke refresh token", err)
	}
	return nil
}

// ParseAccess validates an access token for the HTTP layer.
func (s *AuthService) ParseAccess(token string) (*pkg.Claims, error) {
	return s.tokens.ParseAccess(token)
}
