package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"Lee_Social/internal/logging"
	"Lee_Social/internal/model"
	"Lee_Social/internal/pkg"

	"github.com/samber/oops"
)

// Code scopes.
const (
	ScopeVerify = "verify"
	ScopeReset  = "reset"
)

const DefaultEmailCodeTTL = 5 * time.Minute

type EmailService struct {
	codes  CodeStore
	mailer pkg.Mailer
	ttl    time.Duration
	logger *slog.Logger
}

func NewEmailService(codes CodeStore, mailer pkg.Mailer, ttl time.Duration, logger *slog.Logger) *EmailService {
	if ttl <= 0 {
		ttl = DefaultEmailCodeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailService{codes: codes, mailer: mailer, ttl: ttl, logger: logger}
}

func (s *EmailService) subject(scope string) (subject, purpose string) {
	if scope == ScopeReset {
		return "Password reset code", "Password reset"
	}
	return "Email verification code", "Email verification"
}

// SendCode 生成6位验证码：先写 pending，邮件发出后再转 confirmed
func (s *EmailService) SendCode(ctx context.Context, scope, email string) error {
	if scope != ScopeVerify && scope != ScopeReset {
		return errInvalidInput("scope", "unknown code scope %q", scope)
	}
	email = normalizeEmail(email)
	if !validEmail(email) {
		return errInvalidInput("email", "invalid email address")
	}

	code, err := pkg.RandDigits(6)
	if err != nil {
		return oops.Code(CodeInternal).With("operation", "generate code").Wrap(err)
	}
	if err := s.codes.Save(ctx, scope, email, code, s.ttl); err != nil {
		return errStore("save email code", err)
	}

	subject, purpose := s.subject(scope)
	if err := s.mailer.Send(ctx, email, subject, pkg.EmailCodeHTML(purpose, code, s.ttl)); err != nil {
		_ = s.codes.Delete(ctx, scope, email)
		return oops.Code(CodeInternal).With("operation", "send email").With("scope", scope).Wrap(err)
	}

	if err := s.codes.Confirm(ctx, scope, email, s.ttl); err != nil {
		// 如果确认失败，清除pending键
		_ = s.codes.Delete(ctx, scope, email)
		return errStore("confirm email code", err)
	}
	s.logger.InfoContext(ctx, "email code sent", "scope", scope)
	return nil
}

// CheckCode 校验验证码，匹配后一次性删除
func (s *EmailService) CheckCode(ctx context.Context, scope, email, code string) error {
	email = normalizeEmail(email)
	stored, err := s.codes.Get(ctx, scope, email)
	if err != nil {
		if !isCodeMissing(err) {
			logging.LogError(ctx, s.logger, "read email code failed", errStore("get email code", err))
		}
		return oops.Code(CodeInvalidVerificationCode).Errorf("invalid or expired verification code")
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return oops.Code(CodeInvalidVerificationCode).Errorf("invalid or expired verification code")
	}
	if err := s.codes.Delete(ctx, scope, email); err != nil {
		logging.LogError(ctx, s.logger, "delete email code failed", errStore("delete email code", err))
	}
	return nil
}

// A CodeStore reports an absent or expired code as model.ErrNotFound.
func isCodeMissing(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
